package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/agentichat/agentichat/internal/agenterr"
	"github.com/agentichat/agentichat/internal/core"
	"github.com/agentichat/agentichat/internal/llm"
	"github.com/agentichat/agentichat/internal/prompt"
)

// metaToolSoftThreshold is the number of consecutive trailing meta-tool calls
// that triggers a soft redirect: the tool call is still allowed, but the next
// Prep suppresses meta-tools and nudges the model toward a real tool.
const metaToolSoftThreshold = 2

// metaToolHardLimit is the number of consecutive trailing meta-tool calls that
// forces an answer regardless of what the model decided — the nuclear option
// for models that keep ignoring the soft redirect.
const metaToolHardLimit = 4

// DecideNode implements BaseNode[AgentState, DecidePrep, Decision].
// It acts as the central router in the ReAct loop.
type DecideNode struct {
	llmProvider llm.LLMProvider
	loader      *prompt.PromptLoader
}

func NewDecideNode(provider llm.LLMProvider, loader *prompt.PromptLoader) *DecideNode {
	return &DecideNode{llmProvider: provider, loader: loader}
}

// Prep reads the current AgentState and builds context for LLM decision.
func (n *DecideNode) Prep(state *AgentState) []DecidePrep {
	stepSummary := buildStepSummary(state.StepHistory, state.ContextWindowTokens)

	// MetaToolGuard: proactively suppress meta-tools if the last tool call was
	// a meta-tool that errored — the model is likely stuck retrying it.
	if last := lastToolStep(state.StepHistory); last != nil && metaTools[last.ToolName] && last.IsError {
		state.SuppressMetaTools = true
	}

	// Only compute what's needed for the selected tool-call mode.
	var toolsPrompt string
	var toolDefs []llm.ToolDefinition
	switch state.ToolCallMode {
	case "fc":
		toolDefs = state.ToolRegistry.GenerateToolDefinitions()
	case "yaml":
		toolsPrompt = state.ToolRegistry.GenerateToolsPrompt()
	default: // "auto" — might need either
		toolsPrompt = state.ToolRegistry.GenerateToolsPrompt()
		toolDefs = state.ToolRegistry.GenerateToolDefinitions()
	}

	if state.SuppressMetaTools {
		toolDefs = filterOutMetaToolDefs(toolDefs)
		if toolsPrompt != "" {
			toolsPrompt = generateToolsPromptExcluding(state.ToolRegistry, metaTools)
		}
	}

	// Phase 1: compute tool summary and runtime line at Prep time
	toolingSummary := buildToolingSection(state.ToolRegistry)
	runtimeLine := buildRuntimeLine(state)

	// Phase 2: detect MCP intent for conditional guide loading
	hasMCPIntent := containsMCPKeywords(state.Problem)

	// Plan checklist injected into the prompt, if plan tracking is enabled for this session.
	var planText string
	if state.PlanStore != nil {
		planText = state.PlanStore.Render(state.PlanSID)
	}

	return []DecidePrep{{
		Problem:             state.Problem,
		WorkspaceDir:        state.WorkspaceDir,
		StepSummary:         stepSummary,
		ToolsPrompt:         toolsPrompt,
		ToolDefinitions:     toolDefs,
		StepCount:           len(state.StepHistory),
		ThinkingMode:        state.ThinkingMode,
		ToolCallMode:        state.ToolCallMode,
		ConversationHistory: state.ConversationHistory,
		ToolingSummary:      toolingSummary,
		RuntimeLine:         runtimeLine,
		HasMCPIntent:        hasMCPIntent,
		ContextWindowTokens: state.ContextWindowTokens,
		LoopDetected:        (&LoopDetector{}).Check(state.StepHistory),
		ExplorationDetected: (&ExplorationDetector{}).Check(state.StepHistory, MaxAgentSteps),
		PlanText:            planText,
	}}
}

// Exec calls LLM to decide the next action.
// Routes to FC or YAML path based on ToolCallMode:
//   - "fc":   forced FC, failure returns error (no downgrade)
//   - "auto": detect capability, FC with auto-downgrade to YAML on failure
//   - "yaml": forced YAML (original behavior)
func (n *DecideNode) Exec(ctx context.Context, prep DecidePrep) (Decision, error) {
	switch prep.ToolCallMode {
	case "fc":
		// Forced FC mode — no fallback
		log.Printf("[Decide] Using FC path (forced)")
		return n.execWithFC(ctx, prep)

	case "auto":
		// Auto mode — use FC if supported, with YAML fallback
		if n.llmProvider.IsToolCallingEnabled() {
			log.Printf("[Decide] Using FC path (auto-detected)")
			decision, err := n.execWithFC(ctx, prep)
			if err != nil {
				log.Printf("[Decide] FC path failed, auto-downgrade to YAML: %v", err)
				return n.execWithYAML(ctx, prep)
			}
			return decision, nil
		}
		log.Printf("[Decide] Model does not support FC, using YAML path")
		return n.execWithYAML(ctx, prep)

	default: // explicit "yaml" or any unrecognised value
		if prep.ToolCallMode != "yaml" {
			log.Printf("[Decide] WARNING: unrecognised ToolCallMode %q, falling back to YAML", prep.ToolCallMode)
		}
		log.Printf("[Decide] Using YAML path")
		return n.execWithYAML(ctx, prep)
	}
}

// execWithFC uses Function Calling to get structured tool calls from the model.
func (n *DecideNode) execWithFC(ctx context.Context, prep DecidePrep) (Decision, error) {
	userPrompt := buildDecidePromptFC(prep)

	resp, err := n.llmProvider.CallLLMWithTools(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: n.buildSystemPrompt("fc", prep)},
		{Role: llm.RoleUser, Content: userPrompt},
	}, prep.ToolDefinitions)
	if err != nil {
		return Decision{}, fmt.Errorf("FC call failed: %w", err)
	}

	// Model returned tool calls → extract as Decision, one ToolCallRequest
	// per entry so every tool call the model asked for gets dispatched, in
	// order, rather than only the first.
	if len(resp.ToolCalls) > 0 {
		calls := make([]ToolCallRequest, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			// Validate tool name against known definitions (cheap, before JSON parse)
			if len(prep.ToolDefinitions) > 0 {
				found := false
				for _, td := range prep.ToolDefinitions {
					if td.Name == tc.Name {
						found = true
						break
					}
				}
				if !found {
					return Decision{}, fmt.Errorf("FC returned unknown tool %q (not in %d registered tools)", tc.Name, len(prep.ToolDefinitions))
				}
			}

			var params map[string]any
			if err := json.Unmarshal(tc.Arguments, &params); err != nil {
				return Decision{}, fmt.Errorf("invalid tool params from FC: %w", err)
			}

			calls = append(calls, ToolCallRequest{ToolName: tc.Name, ToolParams: params, ToolCallID: tc.ID})
		}

		if len(calls) > 1 {
			names := make([]string, len(calls))
			for i, c := range calls {
				names[i] = c.ToolName
			}
			log.Printf("[Decide] FC returned %d tool calls, executing in order: %s", len(calls), strings.Join(names, ", "))
		}

		// Prefer the model's own narration (often carries plan sideband tags)
		// over a synthetic placeholder.
		defaultReason := fmt.Sprintf("FC: call %s", calls[0].ToolName)
		reason := defaultReason
		if content := strings.TrimSpace(resp.Content); content != "" {
			reason = truncate(content, 200)
		}

		return Decision{
			Action:     "tool",
			Reason:     reason,
			ToolName:   calls[0].ToolName,
			ToolParams: calls[0].ToolParams,
			ToolCallID: calls[0].ToolCallID,
			ToolCalls:  calls,
		}, nil
	}

	// Model returned text — check for native FC token format before treating as answer.
	// Some models (e.g. Kimi-K2.5) embed tool calls in Content using special tokens
	// instead of the standard tool_calls field, so we parse them here.
	if content := strings.TrimSpace(resp.Content); len(content) > 0 {
		if strings.Contains(content, "<|tool_calls_section_begin|>") {
			if decision, ok := parseNativeFCContent(content, prep.ToolDefinitions); ok {
				log.Printf("[Decide] Parsed native FC tokens → action=tool name=%s", decision.ToolName)
				return decision, nil
			}
			// Native tokens present but unparseable — trigger auto-downgrade to YAML
			return Decision{}, fmt.Errorf("FC returned unparseable native token format")
		}
		return Decision{Action: "answer", Answer: content}, nil
	}

	// Empty response — neither tool calls nor content
	return Decision{}, fmt.Errorf("FC returned empty response (no tool_calls, no content)")
}

// execWithYAML uses the original YAML text parsing to extract decisions.
func (n *DecideNode) execWithYAML(ctx context.Context, prep DecidePrep) (Decision, error) {
	userPrompt := buildDecidePrompt(prep)

	resp, err := n.llmProvider.CallLLM(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: n.buildSystemPrompt(prep.ThinkingMode, prep)},
		{Role: llm.RoleUser, Content: userPrompt},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("decide LLM call failed: %w", err)
	}

	decision, err := parseDecision(resp.Content)
	if err != nil {
		content := strings.TrimSpace(resp.Content)

		// Model returned native FC tokens (e.g. K2.5's <|tool_calls_section_begin|>)
		// Strip the FC tokens and use the natural language portion as answer
		if strings.Contains(content, "<|tool_calls_section_begin|>") {
			parts := strings.SplitN(content, "<|tool_calls_section_begin|>", 2)
			cleaned := strings.TrimSpace(parts[0])
			if len(cleaned) > 0 {
				log.Printf("[Decide] Stripped native FC tokens, using text as answer: %s", truncate(cleaned, 80))
				return Decision{Action: "answer", Answer: cleaned}, nil
			}
			log.Printf("[Decide] Native FC tokens with no text content, falling back")
			return Decision{}, fmt.Errorf("parse decision failed: model returned native FC tokens without text")
		}

		// Model didn't emit the YAML decision block but may have embedded a
		// tool call in one of the other formats we tolerate (sentinel,
		// fenced/bare JSON, XML <tool_call>). Try those before giving up and
		// treating the whole response as a plain-text answer.
		if calls := llm.ExtractToolCalls(content); len(calls) > 0 {
			if err := llm.ValidateToolName(calls[0].Name, prep.ToolDefinitions); err != nil {
				log.Printf("[Decide] Extracted tool call %q not in registry, falling back: %v", calls[0].Name, err)
			} else {
				requests := make([]ToolCallRequest, len(calls))
				for i, c := range calls {
					requests[i] = ToolCallRequest{ToolName: c.Name, ToolParams: c.Arguments, ToolCallID: c.ID}
				}
				log.Printf("[Decide] Extracted %d tool call(s) from free-form text → action=tool name=%s", len(requests), requests[0].ToolName)
				return Decision{
					Action:     "tool",
					Reason:     fmt.Sprintf("extracted: call %s", requests[0].ToolName),
					ToolName:   requests[0].ToolName,
					ToolParams: requests[0].ToolParams,
					ToolCallID: requests[0].ToolCallID,
					ToolCalls:  requests,
				}, nil
			}
		}

		// If LLM returned natural language instead of YAML, treat it as a direct answer
		if len(content) > 0 && !strings.HasPrefix(content, "```") {
			log.Printf("[Decide] YAML parse failed, treating as direct answer: %s", truncate(content, 80))
			return Decision{Action: "answer", Answer: content}, nil
		}
		return Decision{}, fmt.Errorf("parse decision failed: %w", err)
	}

	return decision, nil
}

// Post writes the decision to state and routes to the next node.
func (n *DecideNode) Post(state *AgentState, prep []DecidePrep, results ...Decision) core.Action {
	if len(results) == 0 {
		return core.ActionAnswer // Fallback
	}

	decision := results[0]

	// Write transient field for downstream nodes
	state.LastDecision = &decision

	// Record step
	step := StepRecord{
		StepNumber: len(state.StepHistory) + 1,
		Type:       "decide",
		Action:     decision.Action,
		Input:      decision.Reason,
	}
	state.StepHistory = append(state.StepHistory, step)

	if state.OnStepComplete != nil {
		state.OnStepComplete(step)
	}

	log.Printf("[Decide] Step %d: action=%s reason=%s", step.StepNumber, decision.Action, decision.Reason)

	n.applyPlanSideband(state, decision)

	// Force termination if too many steps
	if len(state.StepHistory) >= MaxAgentSteps {
		log.Printf("[Decide] Max steps reached (%d), forcing answer", MaxAgentSteps)
		state.MaxIterationsErr = agenterr.ErrMaxIterations
		return core.ActionAnswer
	}

	// CostGuard: force an answer once the runtime limit or token budget is exceeded.
	if cg := state.CostGuard; cg != nil {
		if err := cg.CheckDuration(); err != nil || cg.IsExceeded() {
			log.Printf("[CostGuard] Limit exceeded, forcing answer")
			return core.ActionAnswer
		}
	}

	switch decision.Action {
	case "tool":
		// LoopDetector: switching away from the flagged tool is self-correction
		// and resets the streak; choosing the flagged tool again forces an answer.
		if len(prep) > 0 && prep[0].LoopDetected.Detected {
			loop := prep[0].LoopDetected
			if loop.ToolName != "" && decision.ToolName != loop.ToolName {
				log.Printf("[LoopDetector] Self-correction: %s → %s, streak reset", loop.ToolName, decision.ToolName)
				state.LoopDetectionStreak = 0
			} else {
				state.LoopDetectionStreak++
				log.Printf("[LoopDetector] Hard override: tool → answer (%s)", loop.Rule)
				return core.ActionAnswer
			}
		}
		return n.applyMetaToolGuard(state, decision)
	case "think":
		// In native mode, model handles thinking internally.
		// If LLM still returns "think", force it to answer instead.
		if state.ThinkingMode == "native" {
			log.Printf("[Decide] Native mode: converting stray 'think' to 'answer'")
			return core.ActionAnswer
		}
		return core.ActionThink
	case "answer":
		return core.ActionAnswer
	default:
		log.Printf("[Decide] Unknown action %q, defaulting to answer", decision.Action)
		return core.ActionAnswer
	}
}

// applyMetaToolGuard checks the consecutive-meta-tool streak and decides
// whether to allow the tool call, soft-redirect, or hard-force an answer.
func (n *DecideNode) applyMetaToolGuard(state *AgentState, decision Decision) core.Action {
	if !metaTools[decision.ToolName] {
		// Real tool call — reset any prior suppression/redirect state.
		state.SuppressMetaTools = false
		state.MetaToolRedirectMsg = ""
		return core.ActionTool
	}

	trailing := countTrailingMetaTools(state.StepHistory)

	if trailing >= metaToolHardLimit {
		log.Printf("[MetaToolGuard] Hard limit reached (%d consecutive), forcing answer", trailing)
		return core.ActionAnswer
	}

	if trailing >= metaToolSoftThreshold {
		state.SuppressMetaTools = true
		state.MetaToolRedirectMsg = buildMetaToolRedirectMsg(state.StepHistory)
		log.Printf("[MetaToolGuard] Soft redirect at %d consecutive meta-tool calls", trailing)
	}

	return core.ActionTool
}

// buildMetaToolRedirectMsg lists the real (non-meta) tools already used in this
// run, so the next Prep can nudge the model toward one of them instead of
// repeating bookkeeping calls.
func buildMetaToolRedirectMsg(steps []StepRecord) string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range steps {
		if s.Type == "tool" && !metaTools[s.ToolName] && !seen[s.ToolName] {
			seen[s.ToolName] = true
			names = append(names, s.ToolName)
		}
	}
	if len(names) == 0 {
		return "Stop updating the plan and call a real tool to make progress."
	}
	return fmt.Sprintf("Stop updating the plan and use a real tool instead (e.g. %s).", strings.Join(names, ", "))
}

// applyPlanSideband detects a plan-step update embedded in the decision —
// either directly on Decision (YAML mode) or tagged inside Reason (FC mode) —
// and applies it to the session's PlanStore.
func (n *DecideNode) applyPlanSideband(state *AgentState, decision Decision) {
	if state.PlanStore == nil {
		return
	}

	step, status := decision.PlanStep, decision.PlanStatus
	if step == "" || status == "" {
		step, status = parsePlanSideband(decision.Reason)
	}
	if step == "" || status == "" {
		return
	}

	if !state.PlanStore.Update(state.PlanSID, step, status, "") {
		return
	}
	if state.OnPlanUpdate != nil {
		state.OnPlanUpdate(state.PlanStore.Get(state.PlanSID))
	}
}

// ExecFallback returns a safe decision on failure.
func (n *DecideNode) ExecFallback(err error) Decision {
	log.Printf("[Decide] ExecFallback triggered: %v", err)
	return Decision{
		Action: "answer",
		Reason: fmt.Sprintf("Decision failed: %v", err),
		Answer: "Sorry, something went wrong while processing that. Please try again.",
	}
}
