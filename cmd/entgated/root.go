package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/audit"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/store"
	"github.com/entgate/entgate/store/memory"
	"github.com/entgate/entgate/store/postgres"
	"github.com/entgate/entgate/store/sqlite"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "entgated",
		Short:         "Entitlement and usage-accounting daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default entgate.yaml in the working directory)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

// initConfig wires viper: flags < config file < ENTGATE_* environment.
func initConfig() error {
	viper.SetDefault("http.addr", ":8380")
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.dsn", "entgate.db")
	viper.SetDefault("webhook.tolerance", provider.DefaultTolerance)
	viper.SetDefault("provider.timeout", 15*time.Second)
	viper.SetDefault("scan.concurrency", 4)
	viper.SetDefault("scan.interval", time.Duration(0))
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("entgate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/entgate")
	}

	viper.SetEnvPrefix("ENTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(viper.GetString("log.format")) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func openStore() (store.Store, error) {
	driver := viper.GetString("store.driver")
	dsn := viper.GetString("store.dsn")

	switch driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(dsn)
	case "postgres":
		return postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func buildEngine(logger *slog.Logger) (*entgate.Engine, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}

	opts := []entgate.Option{
		entgate.WithLogger(logger),
		entgate.WithHook(audit.New(logger)),
		entgate.WithWebhookTolerance(viper.GetDuration("webhook.tolerance")),
		entgate.WithScanConcurrency(viper.GetInt("scan.concurrency")),
	}
	if secret := viper.GetString("webhook.secret"); secret != "" {
		opts = append(opts, entgate.WithWebhookSecret([]byte(secret)))
	}
	if baseURL := viper.GetString("provider.base_url"); baseURL != "" {
		client, err := provider.NewHTTPClient(baseURL,
			viper.GetString("provider.api_key"),
			viper.GetDuration("provider.timeout"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, entgate.WithProvider(client))
	}

	return entgate.New(st, opts...), nil
}
