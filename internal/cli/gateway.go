package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kodokalabs/tetsuo/internal/agent"
	"github.com/kodokalabs/tetsuo/internal/approval"
	"github.com/kodokalabs/tetsuo/internal/bus"
	"github.com/kodokalabs/tetsuo/internal/channels"
	"github.com/kodokalabs/tetsuo/internal/config"
	"github.com/kodokalabs/tetsuo/internal/costs"
	"github.com/kodokalabs/tetsuo/internal/gateway"
	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/heartbeat"
	"github.com/kodokalabs/tetsuo/internal/memory"
	"github.com/kodokalabs/tetsuo/internal/orchestrator"
	"github.com/kodokalabs/tetsuo/internal/provider"
	"github.com/kodokalabs/tetsuo/internal/settings"
	"github.com/kodokalabs/tetsuo/internal/tasks"
	"github.com/kodokalabs/tetsuo/internal/tools"
	"github.com/kodokalabs/tetsuo/internal/triggers"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the agent host (channels, event plane, control plane)",
	Run:   runGateway,
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("Tetsuo Gateway")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if err := config.EnsureWorkspace(cfg.Agent.Workspace); err != nil {
		fmt.Fprintf(os.Stderr, "Workspace error: %v\n", err)
		os.Exit(1)
	}

	// Gateway token first: it doubles as the settings-confirmation secret.
	token, err := guard.LoadOrCreateGatewayToken(cfg.Agent.Workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway token error: %v\n", err)
		os.Exit(1)
	}

	settingsStore, err := settings.Load(cfg.Agent.Workspace, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Settings error: %v\n", err)
		os.Exit(1)
	}
	settingsFn := settingsStore.Get

	auditLog, err := guard.NewAuditLog(cfg.Agent.Workspace, settingsFn().Security.AuditLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Audit log error: %v\n", err)
		os.Exit(1)
	}
	settingsStore.OnChange(func(s settings.RuntimeSettings) {
		auditLog.SetEnabled(s.Security.AuditLog)
	})

	costTracker, err := costs.NewTracker(cfg.Agent.Workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cost tracker error: %v\n", err)
		os.Exit(1)
	}
	taskStore, err := tasks.NewStore(cfg.Agent.Workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Task store error: %v\n", err)
		os.Exit(1)
	}
	memStore, err := memory.NewFileStore(cfg.Agent.Workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Memory error: %v\n", err)
		os.Exit(1)
	}

	msgBus := bus.NewDispatcher()
	events := bus.NewEventStream()

	broker, err := approval.NewBroker(cfg.Agent.Workspace, events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Approval broker error: %v\n", err)
		os.Exit(1)
	}

	prov, err := provider.Resolve(cfg, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Provider error: %v\n", err)
		os.Exit(1)
	}

	jail := guard.NewPathJail(cfg.Agent.Workspace)
	validator := guard.NewURLValidator()
	refreshGuards := func(s settings.RuntimeSettings) {
		validator.AllowLocalhost = s.Security.AllowLocalhost
		validator.AllowDomains = s.Domains.Allow
		validator.BlockDomains = s.Domains.Block
	}
	refreshGuards(settingsFn())
	settingsStore.OnChange(refreshGuards)

	limiter := guard.NewRateLimiter()
	registry := tools.NewRegistry(events, auditLog, func() int {
		return settingsFn().Limits.MaxToolOutputChars
	})

	triggerRegistry, err := triggers.NewRegistry(cfg.Agent.Workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Trigger registry error: %v\n", err)
		os.Exit(1)
	}
	webhookServer := triggers.NewWebhookServer(cfg.Gateway.Host, cfg.Gateway.WebhookPort,
		int64(settingsFn().Limits.MaxRequestBodyBytes))
	triggerService := triggers.NewService(triggerRegistry, msgBus, events, webhookServer)

	heartbeatSvc := heartbeat.New(cfg.Agent.Workspace, cfg.Heartbeat.IntervalMinutes,
		cfg.Heartbeat.Channel, msgBus, events)

	// Model routes: tiers map onto the default provider's models, plus the
	// local runtime when enabled.
	router := orchestrator.NewRouter(costTracker.RemainingBudget)
	wireRoutes(cfg, router, costTracker)

	agentRegistry := orchestrator.NewAgentRegistry()
	contextBuilder := agent.NewContextBuilder(cfg.Agent.Workspace, memStore, costTracker, settingsFn, nil)
	loop := agent.NewLoop(agent.LoopOptions{
		Bus:            msgBus,
		Events:         events,
		Provider:       prov,
		ProviderID:     cfg.Providers.Default,
		Registry:       registry,
		Memory:         memStore,
		Tasks:          taskStore,
		Broker:         broker,
		Costs:          costTracker,
		Settings:       settingsFn,
		Context:        contextBuilder,
		AllowedUserIDs: cfg.Agent.AllowedUserIDs,
	})
	orch := orchestrator.New(router, loop, contextBuilder, taskStore, agentRegistry)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	browserTool := &tools.BrowserTool{Jail: jail, Settings: settingsFn, Validate: validator.Validate}

	registerTools(registry, toolDeps{
		browser:    browserTool,
		jail:       jail,
		validator:  validator,
		settings:   settingsFn,
		memory:     memStore,
		tasks:      taskStore,
		broker:     broker,
		costs:      costTracker,
		triggers:   triggerRegistry,
		heartbeat:  heartbeatSvc,
		agentName:  settingsFn().AgentName,
		orchRun:    orch.Run,
		orchGate:   orchestrator.ShouldOrchestrate,
		reloadTrig: func() error { return triggerService.Restart(rootCtx) },
	})

	gw := gateway.New(gateway.Options{
		Host:        cfg.Gateway.Host,
		Port:        cfg.Gateway.Port,
		Token:       token,
		AgentName:   settingsFn().AgentName,
		ProviderID:  cfg.Providers.Default,
		Model:       prov.DefaultModel(),
		Settings:    settingsStore,
		Tasks:       taskStore,
		Approvals:   broker,
		Costs:       costTracker,
		Triggers:    triggerRegistry,
		Agents:      agentRegistry,
		Router:      router,
		Audit:       auditLog,
		Memory:      memStore,
		Events:      events,
		Limiter:     limiter,
		TriggersCtl: func() error { return triggerService.Restart(rootCtx) },
	})

	// Concrete channel clients (Telegram, Discord) register themselves here;
	// the kernel only owns the dispatch side.
	chanMgr := channels.NewManager(msgBus)
	chanMgr.StartAll(rootCtx)

	go loop.Run(rootCtx)
	if err := triggerService.Start(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Trigger service error: %v\n", err)
	}
	if cfg.Heartbeat.Enabled {
		go heartbeatSvc.Run(rootCtx)
	}
	go gw.Run(rootCtx)

	fmt.Printf("Gateway up on %s:%d (webhooks on :%d)\n", cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.WebhookPort)
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("Shutting down…")

	stop()
	triggerService.Stop()
	chanMgr.StopAll()
	browserTool.Close()
	broker.Close()
	if err := auditLog.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Audit log close error: %v\n", err)
	}
}

// wireRoutes registers tier routes and their prices with the cost tracker.
func wireRoutes(cfg *config.Config, router *orchestrator.Router, tracker *costs.Tracker) {
	providerID := cfg.Providers.Default
	var pc config.ProviderConfig
	switch providerID {
	case "anthropic":
		pc = cfg.Providers.Anthropic
	default:
		pc = cfg.Providers.OpenAI
	}

	type tierSpec struct {
		tier            string
		model           string
		promptPer1K     float64
		completionPer1K float64
	}
	specs := []tierSpec{
		{orchestrator.TierFast, pc.FastModel, 0.00015, 0.0006},
		{orchestrator.TierBalanced, pc.BalancedModel, 0.003, 0.015},
		{orchestrator.TierReasoning, pc.ReasoningModel, 0.015, 0.075},
	}
	newClient := func(model string) provider.LLMProvider {
		if providerID == "anthropic" {
			return provider.NewAnthropicProvider(pc.APIKey, pc.APIBase, model)
		}
		return provider.NewOpenAIProvider(pc.APIKey, pc.APIBase, model)
	}
	for _, spec := range specs {
		if spec.model == "" {
			continue
		}
		router.AddRoute(spec.tier, providerID, spec.model, spec.promptPer1K, spec.completionPer1K, newClient(spec.model))
		tracker.SetPrice(spec.model, costs.ModelPrice{
			PromptPer1K:     spec.promptPer1K,
			CompletionPer1K: spec.completionPer1K,
		})
	}

	if cfg.Providers.Local.Enabled {
		if client, err := provider.Resolve(cfg, "local"); err == nil {
			router.AddRoute(orchestrator.TierLocal, "local", cfg.Providers.Local.Model, 0, 0, client)
		}
	}
}

// toolDeps bundles what the built-in tools need.
type toolDeps struct {
	jail       *guard.PathJail
	validator  *guard.URLValidator
	browser    *tools.BrowserTool
	settings   func() settings.RuntimeSettings
	memory     memory.Store
	tasks      *tasks.Store
	broker     *approval.Broker
	costs      *costs.Tracker
	triggers   *triggers.Registry
	heartbeat  *heartbeat.Service
	agentName  string
	orchRun    func(ctx context.Context, task *tasks.Task) (string, error)
	orchGate   func(description string) bool
	reloadTrig func() error
}

// registerTools registers the built-in tool suite.
func registerTools(registry *tools.Registry, deps toolDeps) {
	validate := deps.validator.Validate

	registry.Register(&tools.ReadFileTool{Jail: deps.jail})
	registry.Register(&tools.WriteFileTool{Jail: deps.jail})
	registry.Register(&tools.ListDirectoryTool{Jail: deps.jail})
	registry.Register(&tools.RunShellTool{Jail: deps.jail, Settings: deps.settings})
	registry.Register(tools.NewWebFetchTool(deps.settings, validate))
	registry.Register(deps.browser)
	registry.Register(&tools.RememberTool{Memory: deps.memory})
	registry.Register(&tools.RecallTool{Memory: deps.memory})
	registry.Register(&tools.CreateTaskTool{
		Store:             deps.tasks,
		Orchestrate:       deps.orchRun,
		ShouldOrchestrate: deps.orchGate,
	})
	registry.Register(&tools.ListTasksTool{Store: deps.tasks})
	registry.Register(&tools.UpdateTaskTool{Store: deps.tasks})
	registry.Register(&tools.PendingApprovalsTool{Broker: deps.broker})
	registry.Register(&tools.ResolveApprovalTool{Broker: deps.broker, Agent: deps.agentName})
	registry.Register(&tools.CostReportTool{Tracker: deps.costs})
	registry.Register(&tools.CostConfigTool{Tracker: deps.costs})
	registry.Register(&tools.CreateTriggerTool{Registry: deps.triggers, Reload: deps.reloadTrig})
	registry.Register(&tools.ListTriggersTool{Registry: deps.triggers})
	registry.Register(&tools.DeleteTriggerTool{Registry: deps.triggers, Reload: deps.reloadTrig})
	registry.Register(&tools.ScheduleCronTool{Registry: deps.triggers, Reload: deps.reloadTrig})
	registry.Register(&tools.CancelCronTool{Registry: deps.triggers, Reload: deps.reloadTrig})
	registry.Register(&tools.EditHeartbeatTool{Heartbeat: deps.heartbeat})
	registry.Register(&tools.SystemInfoTool{})
	registry.Register(&tools.ClipboardWriteTool{Settings: deps.settings})
	registry.Register(&tools.OpenApplicationTool{Settings: deps.settings})
	registry.Register(&tools.EmailSendTool{Settings: deps.settings})
	registry.Register(&tools.EmailReadTool{Settings: deps.settings})
	registry.Register(&tools.GitHubTool{Settings: deps.settings})
	registry.Register(&tools.MastodonPostTool{Settings: deps.settings})
	registry.Register(&tools.RedditReadTool{Settings: deps.settings})
	registry.Register(&tools.RedditPostTool{Settings: deps.settings})
}
