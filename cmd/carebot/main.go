package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"carebot/internal/channel"
	"carebot/internal/config"
	"carebot/internal/provider"
	"carebot/internal/ride"
	"carebot/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.1"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "carebot",
		Short: "CareBot: voice-first caregiving assistant",
		Long:  "CareBot answers questions about medications, appointments, bills, contacts, rides, and groceries over voice, Telegram, and CLI.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.carebot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(toolServerCmd())
	root.AddCommand(rideLoginCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and reconfigures the global logger to
// the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))
	return cfg, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Config written to %s\n", cfgPath)
			fmt.Println("Next steps:")
			fmt.Println("  1. Set provider.apiKey (or export OPENAI_API_KEY)")
			fmt.Println("  2. carebot seed <fixture.yaml>  - load the care profile")
			fmt.Println("  3. carebot ride-login           - sign in to the ride service")
			fmt.Println("  4. carebot gateway              - start the assistant")
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				logger.Warn("config not found, using defaults", "err", err)
				cfg = config.Defaults()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := buildCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			go deps.Loop.Run(ctx)

			cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
			return cliCh.Start(ctx, deps.Bus)
		},
	}
}

func rideLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ride-login",
		Short: "Open a visible browser to sign in to the ride service",
		Long:  "Opens a Chrome window on the booking site. Log in manually, then press Ctrl+C. Cookies persist in the ride profile directory for later headless use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			browser := ride.NewBrowser(cfg.Rides.ProfileDir, cfg.Rides.Headless, logger)
			return browser.Login(ctx, cfg.Rides.BookingURL)
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load a YAML care-profile fixture into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				logger.Warn("config not found, using defaults", "err", err)
				cfg = config.Defaults()
				cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
			}

			s, err := store.Open(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := s.Seed(ctx, args[0]); err != nil {
				return err
			}
			logger.Info("fixture loaded", "path", args[0], "db", cfg.Store.DBPath)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx := context.Background()

			prov := provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:  cfg.Provider.APIKey,
				APIBase: cfg.Provider.APIBase,
				Model:   cfg.Provider.DefaultModel,
				Logger:  logger,
			})
			if err := prov.Healthy(ctx); err != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			}

			s, err := store.Open(config.ExpandPath(cfg.Store.DBPath), logger)
			if err != nil {
				logger.Info("store", "path", cfg.Store.DBPath, "ok", false, "err", err)
			} else {
				profile, perr := s.GetProfile(ctx)
				logger.Info("store", "path", cfg.Store.DBPath, "ok", true, "profile_set", perr == nil && profile != nil)
				s.Close()
			}

			browser := ride.NewBrowser(config.ExpandPath(cfg.Rides.ProfileDir), cfg.Rides.Headless, logger)
			logger.Info("rides", "profile", cfg.Rides.ProfileDir, "provisioned", browser.Provisioned())

			if cfg.Tools.RemoteBase != "" {
				if defs, err := fetchRemoteToolDefs(ctx, cfg.Tools.RemoteBase); err != nil {
					logger.Info("toolserver", "base", cfg.Tools.RemoteBase, "reachable", false, "err", err)
				} else {
					logger.Info("toolserver", "base", cfg.Tools.RemoteBase, "reachable", true, "tools", len(defs))
				}
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. channels.web.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.web.port 8787)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
