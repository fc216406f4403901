// Command linkgate-server runs the federated session service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/linkgate/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// flags override the environment when set.
type flags struct {
	grpcAddr string
	opsAddr  string
	dsn      string
	dev      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "linkgate-server",
		Short:         "Federated identity and session token service",
		Version:       version + " (" + buildDate + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC listen address (LINKGATE_GRPC_ADDR)")
	pf.StringVar(&f.opsAddr, "ops-addr", "", "ops HTTP listen address (LINKGATE_OPS_ADDR)")
	pf.StringVar(&f.dsn, "dsn", "", "PostgreSQL DSN (LINKGATE_DATABASE_DSN)")
	pf.BoolVar(&f.dev, "dev", false, "development logging and gRPC reflection (LINKGATE_DEV)")

	root.AddCommand(newServeCmd(&f), newMigrateCmd(&f))
	return root
}

// loadConfig reads the environment, applies flag overrides and validates.
func loadConfig(f *flags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if f.grpcAddr != "" {
		cfg.GRPCAddr = f.grpcAddr
	}
	if f.opsAddr != "" {
		cfg.OpsAddr = f.opsAddr
	}
	if f.dsn != "" {
		cfg.DatabaseDSN = f.dsn
	}
	if f.dev {
		cfg.Dev = true
	}
	return cfg, nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
