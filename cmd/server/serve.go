package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/linkgate/internal/config"
	"github.com/and161185/linkgate/internal/crypto"
	"github.com/and161185/linkgate/internal/limiter"
	"github.com/and161185/linkgate/internal/metrics"
	"github.com/and161185/linkgate/internal/migrate"
	"github.com/and161185/linkgate/internal/provider"
	"github.com/and161185/linkgate/internal/repository/postgres"
	"github.com/and161185/linkgate/internal/revocation"
	grpcserver "github.com/and161185/linkgate/internal/server/grpc"
	"github.com/and161185/linkgate/internal/server/ops"
	"github.com/and161185/linkgate/internal/service"
	"github.com/and161185/linkgate/internal/token"
	"github.com/and161185/linkgate/internal/unlink"
)

const shutdownGrace = 5 * time.Second

func newServeCmd(f *flags) *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC session API and the ops HTTP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log, err := newLogger(cfg.Dev)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, !skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger, runMigrations bool) error {
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpcAddr", cfg.GRPCAddr),
		zap.String("opsAddr", cfg.OpsAddr),
		zap.String("revocation", cfg.RevocationBackend),
	)

	if runMigrations {
		if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	}

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	revoked, closeRevoked, err := openRevocation(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRevoked()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	issuer, err := token.NewIssuer(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return err
	}

	accounts := postgres.NewAccountRepo(db, crypto.NewDigester([]byte(cfg.JWTSecret)))
	sessions := service.NewSessionService(service.SessionDeps{
		Accounts:   accounts,
		Providers:  provider.Default(),
		Reconciler: service.NewReconciler(accounts, log.Named("reconcile"), m),
		Tokens:     issuer,
		Revoked:    revoked,
		Unlinker: unlink.New(unlink.Config{
			Credentials: cfg.UnlinkCredentials(),
			Timeout:     cfg.UnlinkTimeout,
		}, log.Named("unlink"), m),
		Limiter: limiter.NewPG(db.Pool, limiter.Options{
			Window:   cfg.ReissueWindow,
			MaxFails: cfg.ReissueMaxFails,
			BlockFor: cfg.ReissueBlockFor,
		}),
		CallbackURL: cfg.CallbackURL,
		Log:         log.Named("session"),
		Metrics:     m,
	})

	var opts []grpc.ServerOption
	if cfg.TLSCertFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		log.Warn("gRPC listening without TLS")
	}
	gs, hs := grpcserver.NewGRPCServer(sessions, log.Named("grpc"), grpcserver.Options{
		Dev:        cfg.Dev,
		EdgeSecret: cfg.EdgeSecret,
	}, opts...)

	opsSrv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           ops.NewRouter(ops.Checks{"postgres": db, "revocation": revoked}, reg, log.Named("ops")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC listening", zap.String("addr", lis.Addr().String()))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		log.Info("ops listening", zap.String("addr", cfg.OpsAddr))
		if err := opsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		shutdownGRPC(gs)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return opsSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// shutdownGRPC drains in-flight calls, forcing a stop after shutdownGrace.
func shutdownGRPC(s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.Stop()
	}
}

func openRevocation(ctx context.Context, cfg config.Config) (revocation.Store, func(), error) {
	switch cfg.RevocationBackend {
	case config.BackendMemory:
		return revocation.NewMemoryStore(time.Minute), func() {}, nil
	case config.BackendRedis:
		rs, err := revocation.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("revocation store: %w", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown revocation backend %q", cfg.RevocationBackend)
	}
}
