package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/quorum/pkg/config"
	"github.com/cuemby/quorum/pkg/dbconn"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/sampler"
	"github.com/cuemby/quorum/pkg/types"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "samplerd",
	Short:   "Metrics Sampler daemon",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().String("log-level", config.EnvOrDefault("QUORUM_LOG_LEVEL", "info"), "Log level")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("addr", config.EnvOrDefault("QUORUM_SAMPLER_ADDR", "127.0.0.1:9104"), "Listen address")
	rootCmd.Flags().String("seed-file", "", "YAML topology seed file (required)")
	rootCmd.Flags().String("mysql-user", config.EnvOrDefault("QUORUM_MYSQL_USER", "root"), "MySQL user for every instance probe")
	rootCmd.Flags().String("mysql-password", config.EnvOrDefault("QUORUM_MYSQL_PASSWORD", ""), "MySQL password")
	rootCmd.Flags().String("mysql-database", config.EnvOrDefault("QUORUM_MYSQL_DATABASE", "app"), "MySQL database name")
	rootCmd.Flags().Duration("period", 5*time.Second, "Sample period")
	rootCmd.MarkFlagRequired("seed-file")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	addr, _ := cmd.Flags().GetString("addr")
	seedFile, _ := cmd.Flags().GetString("seed-file")
	mysqlUser, _ := cmd.Flags().GetString("mysql-user")
	mysqlPassword, _ := cmd.Flags().GetString("mysql-password")
	mysqlDatabase, _ := cmd.Flags().GetString("mysql-database")
	period, _ := cmd.Flags().GetDuration("period")

	seed, err := config.LoadClusterSeed(seedFile)
	if err != nil {
		return err
	}

	var instances []*types.Instance
	conns := make(map[string]sampler.Prober)
	var primary *types.Instance
	for _, is := range seed.Instances {
		inst := &types.Instance{ID: is.ID, Addr: is.Addr, ContainerID: is.ContainerID}
		instances = append(instances, inst)
		if is.Role == "primary" {
			primary = inst
		}

		host, port := splitHostPort(is.Addr)
		conn, err := dbconn.Open(dbconn.Config{
			Host: host, Port: port,
			User: mysqlUser, Password: mysqlPassword, Database: mysqlDatabase,
		})
		if err != nil {
			log.WithInstanceID(log.WithComponent("samplerd"), is.ID).Warn().Err(err).Msg("failed to open connection")
			continue
		}
		conns[is.ID] = conn
	}

	cfg := sampler.DefaultConfig()
	cfg.Period = period
	samp := sampler.New(instances, conns, sampler.StaticStatus(primary), cfg)
	samp.Start()
	defer samp.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("sampler", true, "")

	srv := sampler.NewServer(samp)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil {
			errCh <- err
		}
	}()

	log.WithComponent("samplerd").Info().Str("addr", addr).Int("instances", len(instances)).Msg("sampler listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.WithComponent("samplerd").Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("sampler server error: %w", err)
	}
	return nil
}

// splitHostPort splits a host:port address, defaulting to port 3306 when
// no port is present or unparsable.
func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 3306
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 3306
	}
	return host, port
}
