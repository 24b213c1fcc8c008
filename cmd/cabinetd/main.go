package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/quorum/pkg/cabinet"
	"github.com/cuemby/quorum/pkg/config"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cabinetd",
	Short:   "Cabinet quorum selection daemon",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().String("log-level", config.EnvOrDefault("QUORUM_LOG_LEVEL", "info"), "Log level")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("addr", config.EnvOrDefault("QUORUM_CABINET_ADDR", "127.0.0.1:9102"), "Listen address")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	addr, _ := cmd.Flags().GetString("addr")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("cabinet", true, "")

	srv := cabinet.NewServer()
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil {
			errCh <- err
		}
	}()

	log.WithComponent("cabinetd").Info().Str("addr", addr).Msg("cabinet listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.WithComponent("cabinetd").Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("cabinet server error: %w", err)
	}
	return nil
}
