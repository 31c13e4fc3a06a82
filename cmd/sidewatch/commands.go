package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/sidewatch"
	"github.com/loykin/sidewatch/pkg/client"
)

const defaultAPIURL = "http://127.0.0.1:9600"

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and supervise the backend in the foreground",
		Long: `Run spawns the backend, waits for it to become healthy and keeps
supervising it until SIGINT or SIGTERM, then runs the graceful exit
sequence.

Examples:
  sidewatch run --config=sidewatch.toml
  sidewatch run --binary=./backend --port=8000 --env=APP_MODE=prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(global, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "backend name used in logs and metrics")
	cmd.Flags().StringVar(&flags.Binary, "binary", "", "path to the backend executable")
	cmd.Flags().StringVar(&flags.Host, "host", "", "backend listen host")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "backend listen port")
	cmd.Flags().StringVar(&flags.DataDir, "data-dir", "", "directory passed to the backend via DATA_DIR")
	cmd.Flags().DurationVar(&flags.StartupTimeout, "startup-timeout", 0, "how long to wait for the first healthy probe")
	cmd.Flags().DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 0, "graceful termination deadline")
	cmd.Flags().DurationVar(&flags.HealthInterval, "health-interval", 0, "steady-state health poll interval")
	cmd.Flags().BoolVar(&flags.NoAutoRestart, "no-auto-restart", false, "do not restart the backend after a crash")
	cmd.Flags().Uint32Var(&flags.MaxRestarts, "max-restarts", 0, "automatic restart budget after crashes")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "extra KEY=VALUE for the backend (repeatable, later wins)")
	cmd.Flags().StringVar(&flags.APIListen, "api-listen", "127.0.0.1:9600", "address for the supervisor API (empty disables)")
	cmd.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "address for /metrics (empty disables)")
	return cmd
}

func runSupervisor(global *GlobalFlags, flags *RunFlags) error {
	cfg, err := loadConfig(global, flags)
	if err != nil {
		return err
	}

	log := sidewatch.NewLogger(global.LogLevel)
	if err := sidewatch.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	sup, err := sidewatch.New(cfg, sidewatch.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		return err
	}

	if flags.APIListen != "" {
		apiSrv := sidewatch.NewHTTPServer(flags.APIListen, "", sup)
		defer func() { _ = apiSrv.Close() }()
		log.Info("supervisor API listening", "addr", flags.APIListen)
	}
	if flags.MetricsListen != "" {
		go func() {
			if err := sidewatch.ServeMetrics(flags.MetricsListen); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("signal received; shutting down", "signal", sig.String())

	shCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout+10*time.Second)
	defer cancel()
	return sup.Shutdown(shCtx)
}

// loadConfig merges the optional config file with command-line overrides
func loadConfig(global *GlobalFlags, flags *RunFlags) (sidewatch.Config, error) {
	cfg := sidewatch.DefaultConfig()
	if global.ConfigPath != "" {
		var err error
		cfg, err = sidewatch.LoadConfig(global.ConfigPath)
		if err != nil {
			return cfg, err
		}
	}
	if flags.Name != "" {
		cfg.Name = flags.Name
	}
	if flags.Binary != "" {
		cfg.BinaryPath = flags.Binary
	}
	if flags.Host != "" {
		cfg.Host = flags.Host
	}
	if flags.Port != 0 {
		cfg.Port = flags.Port
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if flags.StartupTimeout != 0 {
		cfg.StartupTimeout = flags.StartupTimeout
	}
	if flags.ShutdownTimeout != 0 {
		cfg.ShutdownTimeout = flags.ShutdownTimeout
	}
	if flags.HealthInterval != 0 {
		cfg.HealthCheckInterval = flags.HealthInterval
	}
	if flags.NoAutoRestart {
		cfg.AutoRestart = false
	}
	if flags.MaxRestarts != 0 {
		cfg.MaxRestartAttempts = flags.MaxRestarts
	}
	for _, kv := range flags.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return cfg, fmt.Errorf("--env entry %q is not KEY=VALUE", kv)
		}
		cfg.SetEnv(k, v)
	}
	return cfg, nil
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the supervised backend's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := dial(flags)
			if err != nil {
				return err
			}
			defer cancel()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createHealthCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the backend's health endpoint once",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := dial(flags)
			if err != nil {
				return err
			}
			defer cancel()
			h, err := c.Health(ctx)
			if err != nil {
				return err
			}
			printJSON(h)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createHistoryCommand(flags *APIFlags, hf *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := dial(flags)
			if err != nil {
				return err
			}
			defer cancel()
			events, err := c.History(ctx, hf.Limit)
			if err != nil {
				return err
			}
			printJSON(events)
			return nil
		},
	}
	cmd.Flags().IntVar(&hf.Limit, "limit", 50, "maximum number of events")
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the supervisor to shut the backend down",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := dial(flags)
			if err != nil {
				return err
			}
			defer cancel()
			if err := c.Shutdown(ctx); err != nil {
				return err
			}
			fmt.Println("shutdown requested")
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createRestartCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a stopped or crashed backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := dial(flags)
			if err != nil {
				return err
			}
			defer cancel()
			if err := c.Restart(ctx); err != nil {
				return err
			}
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sidewatch version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", defaultAPIURL, "supervisor API URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func dial(flags *APIFlags) (*client.Client, context.Context, context.CancelFunc, error) {
	c := client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
	ctx, cancel := context.WithTimeout(context.Background(), flags.APITimeout)
	if !c.IsReachable(ctx) {
		cancel()
		return nil, nil, nil, fmt.Errorf("supervisor not reachable at %s - start it first with 'sidewatch run'", flags.APIUrl)
	}
	return c, ctx, cancel, nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}
