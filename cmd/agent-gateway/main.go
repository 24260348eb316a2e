package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/cnst"
	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/amoylab/agent-gateway/internal/gateway"
	"github.com/amoylab/agent-gateway/pkg/helper"
	"github.com/amoylab/agent-gateway/pkg/logger"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/amoylab/agent-gateway/pkg/trace"
	"github.com/amoylab/agent-gateway/pkg/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of agent-gateway",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.CommandName, version.Get())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfgPath, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("configuration %s is invalid: %w", cfgPath, err)
			}
			fmt.Printf("configuration file %s test is successful\n", cfgPath)
			return nil
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Connect to the agent gateway and run a health check",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return ping(cmd.Context(), cfg, zap.NewNop())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "Agent Gateway streaming bridge",
		Long:  `agent-gateway keeps pooled websocket connections to an agent gateway and streams chat turns to HTTP callers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.AgentGatewayYaml, "path to configuration file")
	rootCmd.AddCommand(versionCmd, testCmd, pingCmd, serveCmd)
}

// ping dials the gateway, completes the handshake and calls health
func ping(ctx context.Context, cfg *config.AgentGatewayConfig, lg *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn := gateway.NewConnection(gateway.OptionsFromConfig(&cfg.Gateway), lg)
	defer conn.Close()

	start := time.Now()
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Gateway.URL, err)
	}
	fmt.Printf("connected to %s in %s\n", cfg.Gateway.URL, time.Since(start).Round(time.Millisecond))
	if policy := conn.Policy(); len(policy) > 0 {
		fmt.Printf("policy: %s\n", policy)
	}

	payload, err := conn.RPC(ctx, protocol.MethodHealth, nil, 0)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	fmt.Printf("health: %s\n", payload)
	return nil
}

func serve() error {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", cfgPath, err)
	}

	lg := initLogger(cfg)
	defer lg.Sync()
	lg.Info("starting agent-gateway",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath),
		zap.String("gateway_url", cfg.Gateway.URL))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
		if err != nil {
			lg.Error("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(sctx)
			}()
		}
	}

	app, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer app.Close()

	pidFile := helper.GetPIDPath(cfg.Server.PID)
	if err := helper.WritePIDFile(pidFile); err != nil {
		lg.Warn("failed to write pid file", zap.String("path", pidFile), zap.Error(err))
	} else {
		defer func() { _ = helper.RemovePIDFile(pidFile) }()
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: app.router,
	}
	errCh := make(chan error, 1)
	go func() {
		lg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			lg.Error("http server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		lg.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("failed to shutdown http server", zap.Error(err))
	}
	lg.Info("agent-gateway stopped")
	return nil
}

func initLogger(cfg *config.AgentGatewayConfig) *zap.Logger {
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger, falling back to production logger: %v\n", err)
		lg, _ = zap.NewProduction()
	}
	return lg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
