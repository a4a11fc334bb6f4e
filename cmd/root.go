package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/courierd/app"
	"github.com/kilianp07/courierd/config"
	"github.com/kilianp07/courierd/infra/logger"
)

var (
	cfgPath    string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:          "courierd",
	Short:        "Courier dispatch service",
	Long: `courierd assigns delivery orders to available drivers: it tracks driver
presence, fans new orders out to driver mailboxes and arbitrates claims.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.Flags().StringVar(&listenAddr, "addr", "", "HTTP listen address, overrides server.addr")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads --config. A missing default file falls back to the
// built-in defaults; a missing explicit file is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		logger.New("main").Warnf("%s not found, using defaults", cfgPath)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
