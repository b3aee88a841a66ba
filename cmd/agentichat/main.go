package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentichat/agentichat/internal/agent"
	"github.com/agentichat/agentichat/internal/agenterr"
	"github.com/agentichat/agentichat/internal/confirm"
	"github.com/agentichat/agentichat/internal/config"
	"github.com/agentichat/agentichat/internal/conversation"
	"github.com/agentichat/agentichat/internal/llm"
	"github.com/agentichat/agentichat/internal/llm/openai"
	"github.com/agentichat/agentichat/internal/memory"
	"github.com/agentichat/agentichat/internal/modelcache"
	"github.com/agentichat/agentichat/internal/plan"
	"github.com/agentichat/agentichat/internal/prompt"
	"github.com/agentichat/agentichat/internal/sandbox"
	"github.com/agentichat/agentichat/internal/tool"
	"github.com/agentichat/agentichat/internal/tool/builtin"
	pkgconfig "github.com/agentichat/agentichat/pkg/config"
)

// replSessionID keys the PlanStore's single live conversation; the REPL
// only ever runs one conversation per process, unlike the web host's
// per-browser-tab sessions.
const replSessionID = "repl"

func main() {
	pkgconfig.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║       AgentiChat                      ║")
	fmt.Println("║   terminal ReAct agent · Go           ║")
	fmt.Println("╚══════════════════════════════════════╝")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	backendName := os.Getenv("AGENTICHAT_BACKEND")
	backend, hasBackend := cfg.Backend(backendName)

	var llmClient *openai.Client
	if hasBackend {
		oaiCfg, err := openai.NewConfigFromBackend(backend)
		if err != nil {
			log.Fatalf("❌ Failed to build LLM config from backend %q: %v", backendName, err)
		}
		llmClient, err = openai.NewClient(oaiCfg)
		if err != nil {
			log.Fatalf("❌ Failed to initialize LLM client: %v", err)
		}
	} else {
		llmClient, err = openai.NewClientFromEnv()
		if err != nil {
			log.Fatalf("❌ Failed to initialize LLM client: %v", err)
		}
	}
	defer llmClient.Close()

	model := llmClient.GetConfig().Model
	fmt.Printf("🤖 LLM: %s @ %s\n", model, llmClient.GetConfig().BaseURL)

	if err := llmClient.HealthCheck(context.Background()); err != nil {
		log.Printf("⚠️  LLM health check failed (continuing anyway): %v", err)
	}

	// Model metadata cache: refreshed once at startup so ContextWindow can
	// prefer a live value over the static capability table when the backend
	// actually reports one.
	cache := modelcache.New(0)
	if err := cache.Refresh(context.Background(), llmClient); err != nil {
		log.Printf("⚠️  Model list refresh failed, falling back to static capability table: %v", err)
	}

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("❌ WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}
	fmt.Printf("📂 Workspace: %s\n", workspaceDir)

	// Confirmation manager: an interactive ASK/AUTO/FORCE state machine over
	// the process's own stdin/stdout, exactly the single-threaded terminal
	// use it was designed for.
	confirmer := confirm.New(os.Stdin, os.Stdout)
	switch os.Getenv("CONFIRM_MODE") {
	case "auto":
		confirmer.Cycle() // Ask → Auto
	case "force":
		confirmer.Cycle() // Ask → Auto
		confirmer.Cycle() // Auto → Force
	}
	if !cfg.Confirmations.ShellCommands && !cfg.Confirmations.TextOperations {
		confirmer.Cycle()
		confirmer.Cycle()
	}

	blockedGlobs := cfg.Sandbox.BlockedPaths
	maxFileSize := cfg.Sandbox.MaxFileSize
	box, err := sandbox.New(workspaceDir, blockedGlobs, maxFileSize)
	if err != nil {
		log.Fatalf("❌ Failed to initialize sandbox: %v", err)
	}

	registry := tool.NewRegistry(confirmer)
	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewShellExecTool(box, shellEnabled))
	registry.Register(builtin.NewReadFileTool(box))
	registry.Register(builtin.NewWriteFileTool(box))
	registry.Register(builtin.NewListFilesTool(box))
	registry.Register(builtin.NewGlobSearchTool(box))
	registry.Register(builtin.NewSearchTextTool(box))
	registry.Register(builtin.NewCreateDirectoryTool(box))
	registry.Register(builtin.NewMoveFileTool(box))
	registry.Register(builtin.NewCopyFileTool(box))
	registry.Register(builtin.NewDeleteFileTool(box))
	registry.Register(builtin.NewDeleteDirectoryTool(box))
	registry.Register(builtin.NewGitStatusTool(workspaceDir))
	registry.Register(builtin.NewGetTimeTool())

	if os.Getenv("TOOL_WEB_ENABLED") != "false" {
		allowInternal := os.Getenv("TOOL_HTTP_ALLOW_INTERNAL") == "true"
		registry.Register(builtin.NewWebFetchTool(allowInternal))
		fmt.Println("🌐 web_fetch enabled")
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		registry.Register(builtin.NewWebSearchTool(key))
		fmt.Println("🔍 web_search enabled (Tavily)")
	}

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize tools: %v", err)
	}
	defer registry.CloseAll()

	fmt.Printf("🛠️  Tools: %d registered\n", len(registry.List()))

	promptsDir := os.Getenv("PROMPTS_DIR")
	if promptsDir == "" {
		promptsDir = filepath.Join(workspaceDir, "prompts")
	}
	rulesPath := os.Getenv("USER_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(workspaceDir, "rules.md")
	}
	soulPath := os.Getenv("SOUL_PATH")
	if soulPath == "" {
		soulPath = filepath.Join(workspaceDir, "soul.md")
	}
	promptLoader := prompt.NewPromptLoader(promptsDir, rulesPath, soulPath)

	logDir := filepath.Join(workspaceDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("⚠️ Failed to create log directory %q: %v", logDir, err)
	}
	execLogger, err := agent.NewExecLogger(filepath.Join(logDir, "agent_exec.md"))
	if err != nil {
		log.Printf("⚠️ Exec logger disabled: %v", err)
	} else {
		defer execLogger.Close()
	}

	planStore := plan.NewPlanStore()
	defer planStore.Delete(replSessionID)

	var maxAgentTokens int64
	if v := os.Getenv("AGENT_MAX_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxAgentTokens = n
		}
	}
	var maxAgentDuration time.Duration
	if v := os.Getenv("AGENT_MAX_DURATION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxAgentDuration = time.Duration(n) * time.Minute
		}
	}

	agent.MaxAgentSteps = cfg.MaxIterations

	thinkingMode := llmClient.GetConfig().ResolveThinkingMode()
	toolCallMode := llmClient.GetConfig().ToolCallMode
	contextWindow := llmClient.GetConfig().ResolveContextWindow()
	if w, ok := cache.ContextWindow(model); ok {
		contextWindow = w
	}

	fmt.Printf("🧠 Thinking: %s\n", thinkingMode)
	fmt.Printf("🔧 ToolCall: %s (resolved: %s)\n", toolCallMode, llmClient.GetConfig().ResolveToolCallMode())
	fmt.Printf("📐 ContextWindow: %d tokens\n", contextWindow)
	fmt.Println("Type your message and press Enter. /help lists REPL commands.")

	memMgr := &memory.Manager{
		ContextMaxTokens: contextWindow,
		WarningRatio:     cfg.Compression.WarningThreshold,
		MaxMessages:      cfg.Compression.MaxMessages,
		AutoEnabled:      cfg.Compression.AutoEnabled,
		AutoKeep:         cfg.Compression.AutoKeep,
	}

	h := &replHost{
		llmClient:     llmClient,
		registry:      registry,
		workspaceDir:  workspaceDir,
		promptLoader:  promptLoader,
		execLogger:    execLogger,
		planStore:     planStore,
		thinkingMode:  thinkingMode,
		toolCallMode:  toolCallMode,
		contextWindow: contextWindow,
		modelName:     model,
		osName:        osDisplayName(),
		shellCmd:      shellCmdForOS(),
		maxTokens:     maxAgentTokens,
		maxDuration:   maxAgentDuration,
		conv:          conversation.New(model),
		mem:           memMgr,
		confirmer:     confirmer,
	}
	h.run()
}

// replHost owns the REPL's turn loop: it reads a line from stdin, shapes
// the request from the canonical conversation log through the Memory
// Manager, runs the agent flow, and appends the resulting exchange back
// onto the log.
type replHost struct {
	llmClient     llm.LLMProvider
	registry      *tool.Registry
	workspaceDir  string
	promptLoader  *prompt.PromptLoader
	execLogger    *agent.ExecLogger
	planStore     *plan.PlanStore
	thinkingMode  string
	toolCallMode  string
	contextWindow int
	modelName     string
	osName        string
	shellCmd      string
	maxTokens     int64
	maxDuration   time.Duration
	conv          *conversation.Conversation
	mem           *memory.Manager
	confirmer     *confirm.Manager
}

func (h *replHost) run() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			fmt.Println("\nGoodbye.")
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if h.handleCommand(line) {
				return
			}
			continue
		}

		h.handleTurn(line)
	}
}

// handleCommand processes a REPL slash command and reports whether the
// host should exit.
func (h *replHost) handleCommand(line string) (exit bool) {
	fields := strings.SplitN(strings.TrimPrefix(line, "/"), " ", 2)
	cmd := fields[0]
	var args string
	if len(fields) > 1 {
		args = strings.TrimSpace(fields[1])
	}

	switch cmd {
	case "exit", "quit":
		fmt.Println("Goodbye.")
		return true
	case "help":
		fmt.Println("/help             — show this help")
		fmt.Println("/clear            — reset the conversation")
		fmt.Println("/compact [N]      — compress history to a summary, keeping the last N messages (default 5)")
		fmt.Println("/reload           — reload prompt rules")
		fmt.Println("/confirm          — cycle ASK → AUTO → FORCE → ASK")
		fmt.Println("/stats            — show conversation and tool status")
		fmt.Println("/exit, /quit      — leave the REPL")
		return false
	case "clear":
		h.conv.Reset(h.modelName)
		h.confirmer.Reset()
		h.planStore.Delete(replSessionID)
		fmt.Println("✅ conversation cleared")
		return false
	case "reload":
		if h.promptLoader != nil {
			h.promptLoader.Reload()
			fmt.Println("✅ prompt rules reloaded")
		}
		return false
	case "confirm":
		fmt.Printf("confirmation mode now %s\n", h.confirmer.Cycle())
		return false
	case "stats":
		h.printStats()
		return false
	case "compact":
		h.cmdCompact(args)
		return false
	default:
		fmt.Printf("unknown command /%s — type /help\n", cmd)
		return false
	}
}

func (h *replHost) printStats() {
	meta := h.conv.Meta()
	fmt.Printf("messages: %d\n", h.conv.Len())
	fmt.Printf("tokens used: prompt=%d completion=%d\n", meta.PromptTokens, meta.CompletionTokens)
	fmt.Printf("tools registered: %d\n", len(h.registry.List()))
	fmt.Printf("model: %s (thinking=%s, tool-call=%s)\n", h.modelName, h.thinkingMode, h.toolCallMode)

	status := h.mem.CheckWarning(h.conv.Len())
	if status.ShouldWarn {
		if status.OverThreshold {
			fmt.Printf("⚠️  message count %d/%d (%d%% over threshold)\n", status.Count, status.Threshold, status.OveragePercent)
		} else {
			fmt.Printf("ℹ️  message count %d/%d approaching the compression threshold\n", status.Count, status.Threshold)
		}
	}
}

// defaultCompactKeepN mirrors the Memory Manager's AutoKeep default used
// when a user runs /compact without an explicit count.
const defaultCompactKeepN = 5

func (h *replHost) cmdCompact(args string) {
	keepN := h.mem.AutoKeep
	if keepN <= 0 {
		keepN = defaultCompactKeepN
	}
	if args != "" {
		if n, err := strconv.Atoi(args); err == nil && n >= 0 {
			keepN = n
		}
	}

	messages := h.conv.Messages()
	if len(messages) <= keepN {
		fmt.Println("ℹ️ too few messages to compact")
		return
	}

	summary, err := summarize(context.Background(), h.llmClient, messages[:len(messages)-keepN])
	if err != nil {
		fmt.Printf("❌ summary generation failed: %v\n", err)
		return
	}
	compacted := h.conv.Compress(summary, keepN)
	fmt.Printf("✅ compacted %d messages into a summary (%d chars)\n", compacted, len([]rune(summary)))
}

// summarize asks the backend to condense the given messages into a short
// plain-text summary, the same approach the teacher's web host used for
// /compact and auto-compaction, generalized to the Conversation log.
func summarize(ctx context.Context, provider llm.LLMProvider, messages []llm.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("请将以下对话内容压缩为一段简洁的摘要（200字以内），保留关键事实、决策和未完成事项：\n\n")
	for _, m := range messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	llmCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	resp, err := provider.CallLLM(llmCtx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// handleTurn runs one user message through the agent flow and appends the
// resulting exchange to the canonical conversation log.
func (h *replHost) handleTurn(userMsg string) {
	status := h.mem.CheckWarning(h.conv.Len())
	if status.ShouldWarn {
		if status.OverThreshold {
			fmt.Printf("⚠️  conversation is %d%% over the compression threshold\n", status.OveragePercent)
		} else {
			fmt.Printf("ℹ️  conversation at %d/%d messages\n", status.Count, status.Threshold)
		}
	}
	if h.mem.ShouldAutoCompress(h.conv.Len()) {
		if summary, err := summarize(context.Background(), h.llmClient, h.conv.Messages()); err == nil {
			compacted := h.conv.Compress(summary, h.mem.AutoKeep)
			log.Printf("[Memory] auto-compressed %d messages", compacted)
		} else {
			log.Printf("[Memory] auto-compress failed: %v", err)
		}
	}

	// Trim is non-destructive: it shapes the outgoing request only, the
	// canonical log below still gets the untrimmed user/assistant pair.
	trimmed := h.mem.Trim(h.conv.Messages())
	historyPrefix := conversation.RenderPrefix(trimmed)

	ctx, cancel := context.WithTimeout(context.Background(), agentTimeout())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reqRegistry := h.registry
	if h.planStore != nil {
		planTool := builtin.NewTodoWriteTool(h.planStore, replSessionID, func(steps []plan.PlanStep) {
			renderPlan(steps)
		})
		reqRegistry = h.registry.WithExtra(planTool)
	}

	agentFlow := agent.BuildAgentFlow(h.llmClient, reqRegistry, h.promptLoader, h.thinkingMode)

	if h.execLogger != nil {
		h.execLogger.StartSession(userMsg)
	}

	state := &agent.AgentState{
		Problem:             userMsg,
		ConversationHistory: historyPrefix,
		WorkspaceDir:        h.workspaceDir,
		ToolRegistry:        reqRegistry,
		ThinkingMode:        h.thinkingMode,
		ToolCallMode:        h.toolCallMode,
		ContextWindowTokens: h.contextWindow,
		OSName:              h.osName,
		ShellCmd:            h.shellCmd,
		ModelName:           h.modelName,
		PlanStore:           h.planStore,
		PlanSID:             replSessionID,
		ReadCache:           agent.NewReadCache(),
		OnStepComplete: func(step agent.StepRecord) {
			if h.execLogger != nil {
				h.execLogger.LogStep(step)
			}
			printStep(step)
		},
		OnStreamChunk: func(chunk string) {
			fmt.Print(chunk)
		},
		OnPlanUpdate: func(steps []plan.PlanStep) {
			renderPlan(steps)
		},
	}

	if h.maxTokens > 0 || h.maxDuration > 0 {
		state.CostGuard = agent.NewCostGuard(h.maxTokens, h.maxDuration)
	}

	start := time.Now()
	agentFlow.Run(ctx, state)

	if err := ctx.Err(); err != nil {
		// The user interrupted (timeout/cancel) mid-flight: no complete
		// assistant turn was committed, so drop back to the last user
		// message rather than leaving a half-written exchange in the log.
		h.conv.TruncateToUserMessage()
		fmt.Printf("\n⚠️  turn interrupted: %v\n", err)
		return
	}

	solution := strings.TrimSpace(state.Solution)
	if solution == "" {
		solution = "Sorry, I wasn't able to produce an answer. Please try again."
	}

	if state.MaxIterationsErr != nil {
		log.Printf("[Agent] %v", state.MaxIterationsErr)
		fmt.Printf("\n⚠️  %v\n", agenterr.KindOf(state.MaxIterationsErr))
	}

	fmt.Printf("\n\n%s\n", solution)
	fmt.Printf("(%d steps, %d tool call(s), %s)\n",
		len(state.StepHistory), countToolSteps(state.StepHistory), time.Since(start).Round(time.Millisecond))

	h.conv.Append(llm.Message{Role: llm.RoleUser, Content: userMsg})
	h.conv.Append(llm.Message{Role: llm.RoleAssistant, Content: solution})

	if h.execLogger != nil {
		h.execLogger.EndSession(state)
	}
	h.planStore.Delete(replSessionID)
}

func printStep(step agent.StepRecord) {
	switch step.Type {
	case "decide":
		fmt.Printf("\n· %s\n", step.Input)
	case "tool":
		status := "ok"
		if step.IsError {
			status = "error"
		}
		fmt.Printf("  → %s (%s, %dms)\n", step.ToolName, status, step.DurationMs)
	case "think":
		fmt.Printf("\n· thinking: %s\n", step.Input)
	}
}

func renderPlan(steps []plan.PlanStep) {
	if len(steps) == 0 {
		return
	}
	fmt.Println()
	for _, s := range steps {
		fmt.Printf("  [%s] %s\n", s.Status, s.Title)
	}
}

func countToolSteps(steps []agent.StepRecord) int {
	n := 0
	for _, s := range steps {
		if s.Type == "tool" {
			n++
		}
	}
	return n
}

// agentTimeout is the global timeout for a single turn of the agent flow.
// Configurable via AGENT_TIMEOUT_MINUTES env var (default: 10, min: 1, max: 30).
func agentTimeout() time.Duration {
	const defaultMinutes = 10
	v := os.Getenv("AGENT_TIMEOUT_MINUTES")
	if v == "" {
		return time.Duration(defaultMinutes) * time.Minute
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 30 {
		log.Printf("[Config] WARNING: invalid AGENT_TIMEOUT_MINUTES=%q (must be 1-30), using default %d", v, defaultMinutes)
		return time.Duration(defaultMinutes) * time.Minute
	}
	return time.Duration(n) * time.Minute
}

// osDisplayName returns a human-readable OS name for the decide-prompt runtime line.
func osDisplayName() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	default:
		return "Linux"
	}
}

// shellCmdForOS returns the shell invocation prefix matching shell_exec's own dispatch.
func shellCmdForOS() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe /c"
	}
	return "sh -c"
}
