package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agentichat/agentichat/internal/agenterr"
	"github.com/agentichat/agentichat/internal/core"
	"github.com/agentichat/agentichat/internal/tool"
)

// ToolNodeImpl implements BaseNode[AgentState, ToolPrep, ToolExecResult].
// It reads LastDecision and dispatches the requested tool through the
// Registry, which validates arguments and consults the Confirmation Manager
// before the tool body ever runs.
type ToolNodeImpl struct {
	registry *tool.Registry
}

func NewToolNode(registry *tool.Registry) *ToolNodeImpl {
	return &ToolNodeImpl{registry: registry}
}

// Prep reads LastDecision and converts ToolParams (map[string]any) to
// json.RawMessage. Uses state.ToolRegistry instead of n.registry so that
// per-request tools (e.g. todo_write, injected via Registry.WithExtra) are
// reachable. When the decision carries more than one tool call (native FC
// returning several in one turn), one ToolPrep is emitted per call, in the
// order the model returned them; the shared Node runner executes each in
// turn and Post records every result.
func (n *ToolNodeImpl) Prep(state *AgentState) []ToolPrep {
	if state.LastDecision == nil {
		return nil
	}

	reg := state.ToolRegistry
	if reg == nil {
		reg = n.registry
	}

	calls := state.LastDecision.ToolCalls
	if len(calls) == 0 {
		calls = []ToolCallRequest{{
			ToolName:   state.LastDecision.ToolName,
			ToolParams: state.LastDecision.ToolParams,
			ToolCallID: state.LastDecision.ToolCallID,
		}}
	}

	preps := make([]ToolPrep, len(calls))
	for i, c := range calls {
		argsJSON, err := json.Marshal(c.ToolParams)
		if err != nil {
			log.Printf("[ToolNode] failed to marshal tool params: %v", err)
			argsJSON = []byte("{}")
		}
		preps[i] = ToolPrep{
			ToolName:   c.ToolName,
			Args:       argsJSON,
			ToolCallID: c.ToolCallID,
			Registry:   reg,
			ReadCache:  state.ReadCache,
		}
	}
	return preps
}

// Exec dispatches through the registry (arg validation + confirmation gate)
// and reports the typed error kind when the tool body never ran.
func (n *ToolNodeImpl) Exec(ctx context.Context, prep ToolPrep) (ToolExecResult, error) {
	start := time.Now()

	// ReadCache: intercept duplicate calls for cacheable tools before dispatch.
	if prep.ReadCache != nil && isCacheable(prep.ToolName) {
		key := CacheKey(prep.ToolName, string(prep.Args))
		if cached, ok := prep.ReadCache.Get(key); ok {
			return ToolExecResult{
				ToolName:   prep.ToolName,
				Output:     fmt.Sprintf("(same as step %d, cached — reuse that result instead of calling again)\n\n%s", cached.StepNumber, cached.Output),
				ToolCallID: prep.ToolCallID,
				DurationMs: time.Since(start).Milliseconds(),
			}, nil
		}
	}

	if prep.Registry == nil {
		return ToolExecResult{
			ToolName:   prep.ToolName,
			Error:      fmt.Sprintf("tool %q not found", prep.ToolName),
			ToolCallID: prep.ToolCallID,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	result, err := prep.Registry.Execute(ctx, prep.ToolName, json.RawMessage(prep.Args))
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ToolExecResult{
			ToolName:   prep.ToolName,
			Error:      err.Error(),
			ErrorKind:  string(agenterr.KindOf(err)),
			ToolCallID: prep.ToolCallID,
			DurationMs: elapsed,
		}, nil // never propagate as a Go error; record the failure as a step
	}

	return ToolExecResult{
		ToolName:   prep.ToolName,
		Output:     result.Output,
		Error:      result.Error,
		ToolCallID: prep.ToolCallID,
		DurationMs: elapsed,
	}, nil
}

// ExecFallback returns an error result.
func (n *ToolNodeImpl) ExecFallback(err error) ToolExecResult {
	return ToolExecResult{
		Error:     fmt.Sprintf("tool execution failed: %v", err),
		ErrorKind: string(agenterr.KindOf(err)),
	}
}

// Post records every tool result in order and routes back to DecideNode.
// When a decision carried several tool calls, each gets its own StepRecord
// with its own ToolCallID, so the request-shaping layer can emit one tool
// result message per call — the ordering guarantee a multi-call turn needs.
func (n *ToolNodeImpl) Post(state *AgentState, prep []ToolPrep, results ...ToolExecResult) core.Action {
	if len(results) == 0 || len(prep) == 0 {
		return core.ActionDefault
	}

	count := len(prep)
	if len(results) < count {
		count = len(results)
	}

	for i := 0; i < count; i++ {
		p := prep[i]
		result := results[i]

		output := result.Output
		if result.Error != "" {
			if output != "" {
				output = fmt.Sprintf("%s\n\nerror: %s", output, result.Error)
			} else {
				output = fmt.Sprintf("error: %s", result.Error)
			}
		}

		step := StepRecord{
			StepNumber: len(state.StepHistory) + 1,
			Type:       "tool",
			ToolName:   p.ToolName,
			Input:      string(p.Args),
			Output:     output,
			ToolCallID: p.ToolCallID,
			IsError:    result.Error != "",
			ErrorKind:  result.ErrorKind,
			DurationMs: result.DurationMs,
		}
		state.StepHistory = append(state.StepHistory, step)

		if state.ReadCache != nil {
			if isCacheable(p.ToolName) && result.Error == "" {
				key := CacheKey(p.ToolName, string(p.Args))
				if !strings.HasPrefix(result.Output, "(same as step") {
					state.ReadCache.Put(key, ReadCacheEntry{
						StepNumber: step.StepNumber,
						Output:     result.Output,
					})
				}
			}
			if isWriteTool(p.ToolName) {
				if path := extractParam(string(p.Args), "path"); path != "" {
					state.ReadCache.Invalidate(FileReadCacheKey(path))
				}
				if src := extractParam(string(p.Args), "src"); src != "" {
					state.ReadCache.Invalidate(FileReadCacheKey(src))
				}
				if dst := extractParam(string(p.Args), "dst"); dst != "" {
					state.ReadCache.Invalidate(FileReadCacheKey(dst))
				}
			}
		}

		if state.OnStepComplete != nil {
			state.OnStepComplete(step)
		}

		log.Printf("[ToolNode] executed %s: %s", p.ToolName, truncate(output, 100))
	}

	return core.ActionDefault // back to DecideNode
}

// skipAutoSummaryTools are meta-tools whose step-summary rendering skips the
// usual "key parameter" extraction and full-output detail (step_formatter.go).
var skipAutoSummaryTools = map[string]bool{
	"todo_write": true,
}
