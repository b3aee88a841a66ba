package agent

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/agentichat/agentichat/internal/llm"
	"github.com/agentichat/agentichat/internal/plan"
	"github.com/agentichat/agentichat/internal/tool"
)

// AgentState is the shared state for the agent decision loop.
// NOT goroutine-safe: all fields must be accessed from a single goroutine.
// The current Flow.Run implementation guarantees single-goroutine access.
// If parallel node execution is introduced in the future, add sync.Mutex protection.
type AgentState struct {
	Problem      string         // User's original question
	WorkspaceDir string         // Working directory for file/shell tools
	StepHistory  []StepRecord   // Execution records for all steps
	ToolRegistry *tool.Registry // Available tools

	Solution string // Final answer

	ThinkingMode        string // "native" or "app" — controls DecideNode prompt options
	ToolCallMode        string // "auto", "fc", or "yaml" — may be raw unresolved value
	ContextWindowTokens int    // model context window in tokens; 0 = use safe fallback
	ConversationHistory string // formatted conversation prefix, set by the REPL host (replHost.handleTurn)

	// Runtime environment info — set by the REPL host (replHost.handleTurn).
	OSName    string // e.g. "Windows", "Linux", "macOS"
	ShellCmd  string // e.g. "cmd.exe /c", "sh -c"
	ModelName string // e.g. "gemini-2.5-pro"

	// Transient field: DecideNode writes, ToolNode/ThinkNode reads.
	// Solves node-to-node state passing.
	LastDecision *Decision `json:"-"`

	// Guardrail fields
	LoopDetectionStreak int                             `json:"-"` // consecutive loop detections without self-correction
	CostGuard           *CostGuard                      `json:"-"` // nil = disabled; DecideNode.Post forces an answer once it reports exceeded (no node calls RecordTokens, so only the duration limit is checked)
	pendingCompact      bool                            // not set or read by any node
	OnContextOverflow   func(ctx context.Context) error `json:"-"` // not set by the REPL host and not called by any node

	// SSE callbacks
	OnStepComplete func(StepRecord)   `json:"-"`
	OnStreamChunk  func(chunk string) `json:"-"` // LLM streaming token callback

	ReadCache *ReadCache `json:"-"` // nil = caching disabled

	// Plan sideband — optional todo-list tracking surfaced in the decide prompt.
	PlanStore   *plan.PlanStore         `json:"-"` // nil = plan tracking disabled
	PlanSID     string                  // session ID key into PlanStore
	OnPlanUpdate func([]plan.PlanStep) `json:"-"` // SSE callback fired after PlanStore.Update

	// MetaToolGuard — suppresses meta-tools (e.g. todo_write) after overuse.
	SuppressMetaTools   bool   `json:"-"`
	MetaToolRedirectMsg string `json:"-"`

	// MaxIterationsErr is set to agenterr.ErrMaxIterations when the step
	// ceiling forced an answer instead of the model reaching one on its own,
	// so the host layer can surface it distinctly from a normal answer.
	MaxIterationsErr error `json:"-"`
}

// StepRecord records a single step execution.
type StepRecord struct {
	StepNumber int    `json:"step_number"`
	Type       string `json:"type"`                   // "decide", "tool", "think", "answer"
	Action     string `json:"action"`                 // Decision action
	ToolName   string `json:"tool_name"`              // Tool name (when type=tool)
	Input      string `json:"input"`                  // Input content
	Output     string `json:"output"`                 // Output result
	ToolCallID string `json:"tool_call_id,omitempty"` // FC only: correlates with model's tool call
	IsError    bool   `json:"is_error,omitempty"`     // true when tool returned an error
	ErrorKind  string `json:"error_kind,omitempty"`   // agenterr.Kind when IsError was produced by a typed error
	DurationMs int64  `json:"duration_ms,omitempty"`  // tool execution wall-clock time
}

// MaxAgentSteps prevents infinite decision loops.
// Configurable via AGENT_MAX_STEPS env var (default: 40, min: 5, max: 200).
var MaxAgentSteps = loadMaxSteps()

// loadMaxSteps reads AGENT_MAX_STEPS from the environment.
// Extracted as a standalone function to allow direct unit testing.
func loadMaxSteps() int {
	const defaultSteps = 40
	v := os.Getenv("AGENT_MAX_STEPS")
	if v == "" {
		return defaultSteps
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 5 || n > 200 {
		log.Printf("[Config] WARNING: invalid AGENT_MAX_STEPS=%q (must be 5-200), using default %d", v, defaultSteps)
		return defaultSteps
	}
	return n
}

// ── DecideNode generic types ──
// BaseNode[AgentState, DecidePrep, Decision]

// DecidePrep is the prepared data for LLM decision-making.
type DecidePrep struct {
	Problem             string
	WorkspaceDir        string               // Working directory context for LLM
	StepSummary         string               // Summary of previous steps
	ToolsPrompt         string               // Available tools description (YAML path)
	ToolDefinitions     []llm.ToolDefinition // Tool definitions (FC path)
	StepCount           int                  // Current step count (for forced termination)
	ThinkingMode        string               // "native" or "app"
	ToolCallMode        string               // "auto", "fc", or "yaml" — may be raw unresolved value
	ConversationHistory string               // formatted conversation prefix from previous turns
	ToolingSummary      string               // Phase 1: auto-generated tool summary from Registry
	RuntimeLine         string               // Phase 1: compact runtime info line
	HasMCPIntent        bool                 // Phase 2: whether Problem mentions MCP/skill keywords
	ContextWindowTokens int                  // Phase 2: model context window for token budget guard
	LoopDetected        DetectionResult      // LoopDetector: repetitive pattern detection result
	CostGuard           *CostGuard           // not populated by Prep; Exec records no tokens
	SystemPromptEst     int                  // estimated system prompt tokens; not computed by Prep (always 0)
	ExplorationDetected ExplorationResult    // ExplorationDetector: exploration-phase overrun detection result
	PlanText            string               // rendered plan checklist from PlanStore, injected into the prompt
}

// Decision is the LLM's decision output.
// In YAML mode: parsed from YAML text. In FC mode: extracted from tool_calls.
// ToolParams uses map[string]any; converted to json.RawMessage before calling Tool.Execute().
type Decision struct {
	Action        string             `yaml:"action"`      // "tool", "think", "answer"
	Reason        string             `yaml:"reason"`      // Reasoning for this decision
	ToolName      string             `yaml:"tool_name"`   // Required when action=tool; first entry of ToolCalls when there are several
	ToolParams    map[string]any     `yaml:"tool_params"` // YAML-friendly, json.Marshal before tool call; mirrors ToolCalls[0]
	Thinking      string             `yaml:"thinking"`    // Used when action=think
	Answer        string             `yaml:"answer"`      // Used when action=answer
	ToolCallID    string             `yaml:"-"`           // FC only: tool call ID for result correlation; mirrors ToolCalls[0]
	ToolCalls     []ToolCallRequest  `yaml:"-"`           // FC only: every tool call the model returned in this turn, in order
	ContextStatus ContextStatus      `yaml:"-"`           // not set by Exec; always ContextOK
	PlanStep      string             `yaml:"plan_step"`   // optional sideband: plan step ID this decision advances
	PlanStatus    string             `yaml:"plan_status"` // optional sideband: "in_progress" or "done"
}

// ToolCallRequest is one tool invocation the model asked for. A single
// Decision carries one of these per entry in the model's tool_calls array,
// so ToolNode can dispatch and record every one of them in order instead of
// silently dropping all but the first.
type ToolCallRequest struct {
	ToolName   string
	ToolParams map[string]any
	ToolCallID string
}

// ── ToolNode generic types ──
// BaseNode[AgentState, ToolPrep, ToolExecResult]

// ToolPrep is prepared by reading LastDecision and converting ToolParams.
type ToolPrep struct {
	ToolName   string
	Args       []byte         // json.RawMessage from json.Marshal(Decision.ToolParams)
	ToolCallID string         // FC only: correlates tool result with the model's tool call
	Registry   *tool.Registry // resolved in Prep from state.ToolRegistry; dispatch goes through Execute for confirmation gating
	ReadCache  *ReadCache     // nil = caching disabled
}

// ToolExecResult is the result of executing a tool.
type ToolExecResult struct {
	ToolName   string
	Output     string
	Error      string
	ErrorKind  string // agenterr.Kind when Error was produced by a typed error (e.g. "USER_REJECTED")
	ToolCallID string // FC only: passed through for multi-turn conversation history
	DurationMs int64
}

// ── ThinkNode generic types ──
// BaseNode[AgentState, ThinkPrep, ThinkResult]

// ThinkPrep provides context for reasoning.
type ThinkPrep struct {
	Problem string
	Context string // Accumulated context from steps
}

// ThinkResult holds the reasoning output.
type ThinkResult struct {
	Thinking string
}

// ── AnswerNode generic types ──
// BaseNode[AgentState, AnswerPrep, AnswerResult]

// AnswerPrep aggregates all context for final answer generation.
type AnswerPrep struct {
	Problem     string
	FullContext string             // Complete context from all steps
	HasToolUse  bool               // Whether any tool was used (skip shortcut if true)
	StreamChunk func(chunk string) `json:"-"` // Optional streaming callback
}

// AnswerResult holds the final answer.
type AnswerResult struct {
	Answer string
}

// hasToolSteps checks if any step in the history is a tool execution.
func hasToolSteps(state *AgentState) bool {
	for _, s := range state.StepHistory {
		if s.Type == "tool" {
			return true
		}
	}
	return false
}
