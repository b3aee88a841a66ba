// Package conversation holds the canonical, append-only message log for a
// single agent session: pure in-memory state with no persistence, reset by
// the host on demand.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentichat/agentichat/internal/llm"
	"github.com/agentichat/agentichat/internal/util"
)

// Meta tracks session-level bookkeeping alongside the message log.
type Meta struct {
	StartedAt      time.Time
	ModelID        string
	PromptTokens   int
	CompletionTokens int
}

// Conversation is the canonical append-only message log. It is not safe for
// concurrent use; the agent loop is the sole writer by design (§5: a single
// logical executor owns all mutation).
type Conversation struct {
	messages []llm.Message
	meta     Meta
}

// New creates an empty conversation stamped with the given model id.
func New(modelID string) *Conversation {
	return &Conversation{
		meta: Meta{StartedAt: time.Now(), ModelID: modelID},
	}
}

// Append adds a message to the canonical log.
func (c *Conversation) Append(m llm.Message) {
	c.messages = append(c.messages, m)
}

// Messages returns a copy of the canonical log, safe for the caller to
// mutate or pass into trimming without affecting the original.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages in the canonical log.
func (c *Conversation) Len() int { return len(c.messages) }

// HasSystemMessage reports whether the log already starts with a system
// message, so the agent loop knows whether to prepend one.
func (c *Conversation) HasSystemMessage() bool {
	return len(c.messages) > 0 && c.messages[0].Role == llm.RoleSystem
}

// Meta returns the session metadata block.
func (c *Conversation) Meta() Meta { return c.meta }

// RecordUsage accumulates token usage the backend reported for a completed call.
func (c *Conversation) RecordUsage(promptTokens, completionTokens int) {
	c.meta.PromptTokens += promptTokens
	c.meta.CompletionTokens += completionTokens
}

// Compress replaces every message except the trailing keep messages with a
// single assistant summary message, mutating the canonical log. Used by
// Memory Manager compression (policy- or user-driven), never by per-request
// trimming.
func (c *Conversation) Compress(summary string, keep int) (compacted int) {
	if keep < 0 {
		keep = 0
	}
	if len(c.messages) <= keep {
		return 0
	}
	tail := append([]llm.Message(nil), c.messages[len(c.messages)-keep:]...)
	compacted = len(c.messages) - keep
	c.messages = append([]llm.Message{{Role: llm.RoleAssistant, Content: summary}}, tail...)
	return compacted
}

// Reset wipes the canonical log and metadata back to a fresh session,
// mirroring the host's /clear behavior (spec §4.8): alongside this, the
// host's /clear also resets the confirmation manager and deletes the
// session's plan.
func (c *Conversation) Reset(modelID string) {
	c.messages = nil
	c.meta = Meta{StartedAt: time.Now(), ModelID: modelID}
}

// RenderPrefix formats a trimmed message slice as the plain-text context
// preamble the agent loop prepends to AgentState.Problem, in the same
// "[对话历史]\nRound N - 用户：...\n助手：..." shape session.ToProblemPrefix
// used for the turn-based history it replaces. System messages, and a
// leading assistant message with no user message before it (the summary
// Compress leaves at the head of the log), are rendered as a
// "[对话历史摘要]" block; tool messages are skipped, since they aren't a
// new user/assistant exchange.
func RenderPrefix(messages []llm.Message) string {
	if len(messages) == 0 {
		return ""
	}

	var sb strings.Builder
	round := 0
	for i := 0; i < len(messages); i++ {
		m := messages[i]
		switch m.Role {
		case llm.RoleSystem:
			sb.WriteString("[对话历史摘要]\n")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case llm.RoleAssistant:
			if i == 0 {
				sb.WriteString("[对话历史摘要]\n")
				sb.WriteString(m.Content)
				sb.WriteString("\n\n")
			}
		case llm.RoleUser:
			if round == 0 {
				sb.WriteString("[对话历史]\n")
			}
			round++
			sb.WriteString(fmt.Sprintf("Round %d - 用户：%s\n", round, util.TruncateRunes(m.Content, 500)))
			if i+1 < len(messages) && messages[i+1].Role == llm.RoleAssistant {
				i++
				sb.WriteString(fmt.Sprintf("Round %d - 助手：%s\n\n", round, util.TruncateRunes(messages[i].Content, 500)))
			}
		}
	}
	return sb.String()
}

// TruncateToUserMessage drops every message after the last user message,
// used when a backend call is canceled mid-flight and no complete
// assistant message was committed (spec §5 cancellation semantics).
func (c *Conversation) TruncateToUserMessage() {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == llm.RoleUser {
			c.messages = c.messages[:i+1]
			return
		}
	}
}
