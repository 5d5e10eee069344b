package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carebot/internal/provider"
	"carebot/internal/ride"
	"carebot/internal/store"
	"carebot/internal/tool"

	"github.com/spf13/cobra"
)

func toolServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toolserver",
		Short: "Serve the browser tools over HTTP",
		Long:  "Runs the ride and grocery tools in their own process so the gateway can stay on a small host. The gateway proxies calls to POST /api/tools/run.",
		RunE:  runToolServer,
	}
}

func runToolServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	prov := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Provider.APIKey,
		APIBase: cfg.Provider.APIBase,
		Model:   cfg.Provider.DefaultModel,
		Logger:  logger,
	})

	browser := ride.NewBrowser(cfg.Rides.ProfileDir, cfg.Rides.Headless, logger)
	if !browser.Provisioned() {
		logger.Warn("ride profile not provisioned, run 'carebot ride-login' first", "profile", cfg.Rides.ProfileDir)
	}

	registry := tool.NewRegistry(logger)
	workflow := rideWorkflow(cfg, s, prov, browser)
	registry.MustRegister(
		tool.NewGetRidePricesTool(workflow),
		tool.NewGetLastRideLookupTool(workflow),
	)
	if cfg.Rides.GroceryURL != "" {
		grocery := ride.NewGrocery(browser, prov, cfg.Provider.DefaultModel, cfg.Rides.GroceryURL, cfg.Rides.MaxSteps, logger)
		registry.MustRegister(tool.NewOrderGroceriesTool(grocery))
	}

	dispatcher := tool.NewDispatcher(registry, logger)
	server := tool.NewServer(fmt.Sprintf(":%d", cfg.Tools.ServerPort), dispatcher, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down tool server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
