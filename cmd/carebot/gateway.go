package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carebot/internal/agent"
	"carebot/internal/bus"
	"carebot/internal/channel"
	"carebot/internal/config"
	"carebot/internal/domain"
	"carebot/internal/metrics"
	"carebot/internal/provider"
	"carebot/internal/reminder"
	"carebot/internal/ride"
	"carebot/internal/store"
	"carebot/internal/tool"

	"github.com/spf13/cobra"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (Web + Telegram + agent loop + reminders)",
		Long:  "Starts all enabled channels and the agent loop. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

// core bundles the pieces shared by the gateway and chat commands.
type core struct {
	Bus        *bus.InMemoryBus
	Store      *store.Store
	Provider   domain.Provider
	Prompt     *agent.PromptBuilder
	Registry   *tool.Registry
	Dispatcher *tool.Dispatcher
	Loop       *agent.Loop
}

func (c *core) Close() {
	c.Bus.Close()
	c.Store.Close()
}

// buildCore wires the store, provider, tools, and agent loop from config.
func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	messageBus := bus.New(100, logger)

	s, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	prov := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Provider.APIKey,
		APIBase: cfg.Provider.APIBase,
		Model:   cfg.Provider.DefaultModel,
		Logger:  logger,
	})
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	registry, err := registerTools(ctx, cfg, s, prov)
	if err != nil {
		s.Close()
		return nil, err
	}
	dispatcher := tool.NewDispatcher(registry, logger)

	promptBuilder := agent.NewPromptBuilder(s, cfg.General.Timezone, cfg.General.SystemPromptExtra, logger)

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:     prov,
		Model:        cfg.Provider.DefaultModel,
		Store:        s,
		Prompt:       promptBuilder,
		Registry:     registry,
		Dispatcher:   dispatcher,
		Bus:          messageBus,
		Logger:       logger,
		MaxSteps:     cfg.General.MaxSteps,
		HistoryLimit: cfg.Store.MaxHistoryPerConversation,
	})

	return &core{
		Bus:        messageBus,
		Store:      s,
		Provider:   prov,
		Prompt:     promptBuilder,
		Registry:   registry,
		Dispatcher: dispatcher,
		Loop:       loop,
	}, nil
}

// registerTools builds the full tool catalog. Tools listed in
// tools.remoteTools are proxied to the tool server instead of running
// in-process, so the browser stack can live in its own process.
func registerTools(ctx context.Context, cfg *config.Config, s *store.Store, prov domain.Provider) (*tool.Registry, error) {
	registry := tool.NewRegistry(logger)

	proxied := make(map[string]bool, len(cfg.Tools.RemoteTools))
	for _, name := range cfg.Tools.RemoteTools {
		proxied[name] = true
	}

	registry.MustRegister(
		tool.NewGetUserProfileTool(s),
		tool.NewGetMedicationsTool(s),
		tool.NewAddMedicationTool(s),
		tool.NewLogMedicationTakenTool(s),
		tool.NewGetMedicationLogTool(s),
		tool.NewGetEmergencyContactsTool(s),
		tool.NewAddEmergencyContactTool(s),
		tool.NewUpdateEmergencyContactTool(s),
		tool.NewGetBillRemindersTool(s),
		tool.NewAddBillReminderTool(s),
		tool.NewMarkBillPaidTool(s),
		tool.NewWeatherTool(logger),
	)

	if cfg.Tools.Mail.APIBase != "" {
		mail := tool.NewMailClient(cfg.Tools.Mail.APIBase, cfg.Tools.Mail.APIKey, logger)
		registry.MustRegister(
			tool.NewGetRecentEmailsTool(mail),
			tool.NewSearchEmailsTool(mail),
			tool.NewSendEmailTool(mail, s),
		)
	} else {
		logger.Info("email tools disabled, tools.mail.apiBase not set")
	}

	if cfg.Tools.Calendar.APIBase != "" {
		cal := tool.NewCalendarClient(cfg.Tools.Calendar.APIBase, cfg.Tools.Calendar.APIKey, cfg.Tools.Calendar.Username, cfg.General.Timezone, logger)
		registry.MustRegister(
			tool.NewGetEventTypesTool(cal),
			tool.NewGetAvailableSlotsTool(cal),
			tool.NewBookAppointmentTool(cal, s),
			tool.NewGetUpcomingAppointmentsTool(cal),
		)
	} else {
		logger.Info("appointment tools disabled, tools.calendar.apiBase not set")
	}

	// Browser tools run locally only when not proxied to the tool server.
	if !proxied["getRidePrices"] || !proxied["orderGroceries"] {
		browser := ride.NewBrowser(cfg.Rides.ProfileDir, cfg.Rides.Headless, logger)

		if !proxied["getRidePrices"] {
			workflow := rideWorkflow(cfg, s, prov, browser)
			registry.MustRegister(
				tool.NewGetRidePricesTool(workflow),
				tool.NewGetLastRideLookupTool(workflow),
			)
		}
		if !proxied["orderGroceries"] {
			if cfg.Rides.GroceryURL != "" {
				grocery := ride.NewGrocery(browser, prov, cfg.Provider.DefaultModel, cfg.Rides.GroceryURL, cfg.Rides.MaxSteps, logger)
				registry.MustRegister(tool.NewOrderGroceriesTool(grocery))
			} else {
				logger.Info("grocery tool disabled, rides.groceryUrl not set")
			}
		}
	}

	if cfg.Tools.RemoteBase != "" {
		defs, err := fetchRemoteToolDefs(ctx, cfg.Tools.RemoteBase)
		if err != nil {
			return nil, fmt.Errorf("fetch remote tool definitions: %w", err)
		}
		for _, def := range defs {
			if len(proxied) > 0 && !proxied[def.Name] {
				continue
			}
			if registry.Get(def.Name) != nil {
				continue
			}
			if err := registry.Register(tool.NewRemoteTool(def, cfg.Tools.RemoteBase, logger)); err != nil {
				return nil, err
			}
			logger.Info("registered remote tool", "name", def.Name, "base", cfg.Tools.RemoteBase)
		}
	}

	logger.Info("tool catalog ready", "tools", len(registry.Names()))
	return registry, nil
}

func rideWorkflow(cfg *config.Config, s *store.Store, prov domain.Provider, browser *ride.Browser) *ride.Workflow {
	fastModel := cfg.Provider.FastModel
	if fastModel == "" {
		fastModel = cfg.Provider.DefaultModel
	}
	return ride.NewWorkflow(ride.WorkflowConfig{
		Store:      s,
		Provider:   prov,
		Browser:    browser,
		AgentModel: cfg.Provider.DefaultModel,
		FastModel:  fastModel,
		BookingURL: cfg.Rides.BookingURL,
		MaxSteps:   cfg.Rides.MaxSteps,
		Logger:     logger,
	})
}

// fetchRemoteToolDefs asks the tool server for its catalog.
func fetchRemoteToolDefs(ctx context.Context, baseURL string) ([]tool.RemoteToolDef, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/api/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool server returned %d", resp.StatusCode)
	}

	var payload struct {
		Tools []tool.RemoteToolDef `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return payload.Tools, nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}

	go deps.Loop.Run(ctx)

	var sched *reminder.Scheduler
	if cfg.Reminders.Enabled {
		sched = reminder.NewScheduler(deps.Bus, logger)
		sched.FromConfig(cfg.Reminders.Tasks)
		go sched.Start(ctx)
	} else {
		logger.Info("reminders disabled")
	}

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:           cfg.Channels.Telegram.Token,
			AllowFrom:       cfg.Channels.Telegram.AllowFrom,
			CaregiverChatID: cfg.Channels.Telegram.CaregiverChatID,
			Logger:          logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, deps.Bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var webCh *channel.Web
	if cfg.Channels.Web.Enabled {
		var metricsHandler http.HandlerFunc
		if cfg.Metrics.Enabled {
			metricsHandler = metrics.Collector.Handler()
		}
		webCh = channel.NewWeb(channel.WebConfig{
			Host:        cfg.Channels.Web.Host,
			Port:        cfg.Channels.Web.Port,
			STT:         buildSTT(cfg),
			TTS:         buildTTS(cfg),
			Provider:    deps.Provider,
			Store:       deps.Store,
			PromptReset: deps.Prompt.Reset,
			Metrics:     metricsHandler,
			Logger:      logger,
		})
		go func() {
			if err := webCh.Start(ctx, deps.Bus); err != nil {
				logger.Error("web channel error", "err", err)
			}
		}()
		logger.Info("web channel enabled", "host", cfg.Channels.Web.Host, "port", cfg.Channels.Web.Port)
	} else {
		logger.Info("web channel disabled")
	}

	if cfg.Channels.CLI.Enabled {
		cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
		go func() {
			if err := cliCh.Start(ctx, deps.Bus); err != nil {
				logger.Error("cli channel error", "err", err)
			}
		}()
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if sched != nil {
			sched.Stop()
		}
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if webCh != nil {
			webCh.Stop()
		}
		deps.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// buildSTT returns a Whisper transcriber, or nil when no key is available.
func buildSTT(cfg *config.Config) channel.Transcriber {
	key := cfg.Voice.STTKey
	if key == "" {
		key = cfg.Provider.APIKey
	}
	if key == "" {
		logger.Info("voice input disabled, no STT key")
		return nil
	}
	return provider.NewWhisper(provider.WhisperConfig{
		APIBase: cfg.Voice.STTBase,
		APIKey:  key,
		Model:   cfg.Voice.STTModel,
		Logger:  logger,
	})
}

// buildTTS returns a speech synthesizer, or nil when no key is available.
func buildTTS(cfg *config.Config) channel.Synthesizer {
	key := cfg.Voice.TTS.APIKey
	if key == "" && (cfg.Voice.TTS.Provider == "" || cfg.Voice.TTS.Provider == "openai") {
		key = cfg.Provider.APIKey
	}
	if key == "" {
		logger.Info("reply audio disabled, no TTS key")
		return nil
	}
	return provider.NewTTS(provider.TTSConfig{
		Provider: cfg.Voice.TTS.Provider,
		APIKey:   key,
		Model:    cfg.Voice.TTS.Model,
		Voice:    cfg.Voice.TTS.Voice,
		Logger:   logger,
	})
}
