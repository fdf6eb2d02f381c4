package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/scalaric/decryptor/internal/agent"
	"github.com/scalaric/decryptor/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decryptor-agent",
		Short: "Clones repositories, decrypts SOPS-encrypted manifests, and serves them over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	var env config.AgentEnv
	if err := env.Parse(); err != nil {
		return fmt.Errorf("parse agent environment: %w", err)
	}

	zapLog, err := newZapLogger(env.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	log := zapr.NewLogger(zapLog)

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	root := agent.WorkspaceRoot(home)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}

	registry, err := agent.NewRegistry(agent.RegistryPath(root))
	if err != nil {
		return fmt.Errorf("open repository registry: %w", err)
	}
	gitEngine := agent.NewGitEngine(root)
	provider := agent.NewProviderAdapter()
	invoker := agent.NewInvoker()

	if err := agent.ValidateRefreshInterval(env.RefreshInterval); err != nil {
		return err
	}
	refresher, err := agent.NewRefresher(registry, gitEngine, log.WithName("refresh"), env.RefreshInterval)
	if err != nil {
		return fmt.Errorf("build refresher: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := refresher.Start(ctx); err != nil {
		return fmt.Errorf("start refresher: %w", err)
	}
	defer func() { _ = refresher.Stop() }()

	svc := agent.NewService(&agent.GitRegistry{Registry: registry, Git: gitEngine}, invoker, provider, log.WithName("service"))

	lis, err := net.Listen("tcp", env.BindAddress())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", env.BindAddress(), err)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&agent.ServiceDesc, svc)

	log.Info("agent listening", "address", env.BindAddress())
	errCh := make(chan error, 1)
	go func() { errCh <- grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down agent")
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func newZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var zl zap.AtomicLevel
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = zl
	return cfg.Build()
}
