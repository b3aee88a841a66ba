// Package memory implements the Memory Manager: non-destructive per-request
// trimming to keep a conversation inside a backend's context budget, and the
// warning and auto-compression threshold checks. The compression that
// mutates the canonical log is conversation.Compress, not this package.
package memory

import (
	"strconv"

	"github.com/agentichat/agentichat/internal/llm"
)

// Manager bounds the size of outgoing requests and tracks compression
// thresholds. Grounded on the teacher's session.Store trimming, generalized
// from a multi-session TTL store into a single-conversation budget guard
// since this agent has exactly one live conversation at a time.
type Manager struct {
	// ContextMaxTokens is the backend's total context window. 0 disables trimming.
	ContextMaxTokens int
	// WarningRatio is the count/threshold fraction at which a single-line
	// info is emitted (e.g. 0.8 for "80% of the way to auto-compression").
	WarningRatio float64
	// MaxMessages is the message count threshold that triggers (or would
	// trigger, if AutoEnabled) compression.
	MaxMessages int
	// AutoEnabled turns on automatic compression once MaxMessages is reached.
	AutoEnabled bool
	// AutoKeep is the keep count used for automatic compression.
	AutoKeep int
}

const (
	// targetBudgetPct leaves room for the response and tool schemas.
	targetBudgetPct = 80
	// inlineShrinkThreshold is the per-tool-message character count above
	// which Phase A shrinks the request-side copy.
	inlineShrinkThreshold = 2000
	// inlineShrinkKeep is how many characters are kept from each end when
	// Phase A shrinks a tool message.
	inlineShrinkKeep = 500
	// minKeepMessages is the floor on non-system messages Phase B retains.
	minKeepMessages = 4
)

// TargetBudgetTokens returns 80% of ContextMaxTokens, or 0 if trimming is disabled.
func (m *Manager) TargetBudgetTokens() int {
	if m.ContextMaxTokens <= 0 {
		return 0
	}
	return m.ContextMaxTokens * targetBudgetPct / 100
}

// Trim produces a request-ready copy of messages that fits the target
// token budget, without mutating the canonical conversation. If no budget
// is configured, it returns messages unchanged.
func (m *Manager) Trim(messages []llm.Message) []llm.Message {
	budget := m.TargetBudgetTokens()
	if budget <= 0 {
		return messages
	}

	working := inlineShrink(messages)

	if llm.EstimateMessagesTokens(working) <= budget {
		return working
	}

	return elideHistory(working, budget)
}

// inlineShrink rewrites the request-side copy of every tool message whose
// content exceeds inlineShrinkThreshold characters, keeping the first and
// last inlineShrinkKeep characters with an ellipsis marker between them.
// The canonical message slice passed in is never mutated; a new slice with
// copied Message values is returned.
func inlineShrink(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if msg.Role != llm.RoleTool {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) <= inlineShrinkThreshold {
			continue
		}
		omitted := len(runes) - 2*inlineShrinkKeep
		head := string(runes[:inlineShrinkKeep])
		tail := string(runes[len(runes)-inlineShrinkKeep:])
		out[i].Content = head + ellipsisMarker(omitted) + tail
	}
	return out
}

func ellipsisMarker(omitted int) string {
	if omitted < 0 {
		omitted = 0
	}
	return "\n... [" + strconv.Itoa(omitted) + " characters omitted] ...\n"
}

// elideHistory drops older non-system messages from the oldest end until
// the estimated total fits budget, always keeping the system message (if
// any) and at minimum the last minKeepMessages non-system messages.
func elideHistory(messages []llm.Message, budget int) []llm.Message {
	var system *llm.Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		s := messages[0]
		system = &s
		rest = messages[1:]
	}

	for len(rest) > minKeepMessages {
		candidate := rest
		total := llm.EstimateMessagesTokens(candidate)
		if system != nil {
			total += llm.EstimateTokens(system.Content)
		}
		if total <= budget {
			break
		}
		rest = rest[1:]
	}

	if system == nil {
		return rest
	}
	out := make([]llm.Message, 0, len(rest)+1)
	out = append(out, *system)
	out = append(out, rest...)
	return out
}

// WarningStatus reports the message count against compression thresholds
// after a user turn, for the host to render an info line.
type WarningStatus struct {
	ShouldWarn     bool
	OverThreshold  bool
	Count          int
	Threshold      int
	OveragePercent int
}

// CheckWarning computes the warning/threshold state for the current
// message count, per spec §4.7: "compute count / threshold. If >= warning
// ratio but below threshold, emit a single-line info ... and, when over
// threshold, the overage percentage."
func (m *Manager) CheckWarning(count int) WarningStatus {
	if m.MaxMessages <= 0 {
		return WarningStatus{Count: count}
	}
	ratio := float64(count) / float64(m.MaxMessages)
	status := WarningStatus{Count: count, Threshold: m.MaxMessages}
	if ratio >= m.WarningRatio {
		status.ShouldWarn = true
	}
	if count >= m.MaxMessages {
		status.OverThreshold = true
		status.OveragePercent = (count - m.MaxMessages) * 100 / m.MaxMessages
	}
	return status
}

// ShouldAutoCompress reports whether automatic compression should trigger
// for the given message count.
func (m *Manager) ShouldAutoCompress(count int) bool {
	return m.AutoEnabled && m.MaxMessages > 0 && count >= m.MaxMessages
}
