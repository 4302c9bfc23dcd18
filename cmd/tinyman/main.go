package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrSnakeDoc/tinyman/internal/app"
	"github.com/MrSnakeDoc/tinyman/internal/config"
	"github.com/MrSnakeDoc/tinyman/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:   version.Name,
		Short: "Manage and monitor TinyURL short links",
		Long: `tinyman creates TinyURL short links, keeps a health monitor running
for each of them and re-points them interactively or on failover.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := readConfigFile(v); err != nil {
				return err
			}

			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			a, err := app.New(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return a.Run()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.tinyman/config.yml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "write logs to this file instead of stderr")
	flags.Bool("pretty-log", true, "human readable logs instead of JSON")
	flags.String("credentials-file", "", "YAML file with auth_tokens and fallback_urls")
	flags.StringSliceP("token", "t", nil, "API token (repeatable)")
	flags.StringSlice("fallback-url", nil, "failover target (repeatable)")
	flags.Duration("ping-interval", 0, "initial monitor interval (default 60s)")
	flags.Bool("self-delete", false, "drop resources after repeated failed probes")
	flags.String("status-listen", "", "address of the optional status server (ex: 127.0.0.1:8080)")
	flags.String("redis-addr", "", "mirror monitor state into this Redis")
	flags.String("nats-url", "", "publish status changes to this NATS server")

	bindings := map[string]string{
		"config":           "config",
		"log_level":        "log-level",
		"log_file":         "log-file",
		"pretty_log":       "pretty-log",
		"credentials_file": "credentials-file",
		"auth_tokens":      "token",
		"fallback_urls":    "fallback-url",
		"ping_interval":    "ping-interval",
		"self_delete":      "self-delete",
		"status_listen":    "status-listen",
		"redis_addr":       "redis-addr",
		"nats_url":         "nats-url",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// readConfigFile loads --config, or $HOME/.tinyman/config.yml when present.
func readConfigFile(v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(filepath.Join(home, ".tinyman"))
	v.SetConfigType("yml")
	v.SetConfigName("config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit=%s, built=%s, go=%s)\n",
				version.Name, version.Version, version.Commit, version.BuildDate, version.GoVersion)
		},
	}
}
