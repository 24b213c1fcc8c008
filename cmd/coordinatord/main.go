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

	"github.com/cuemby/quorum/pkg/allocator"
	"github.com/cuemby/quorum/pkg/api"
	"github.com/cuemby/quorum/pkg/config"
	"github.com/cuemby/quorum/pkg/containerctl"
	"github.com/cuemby/quorum/pkg/dbconn"
	"github.com/cuemby/quorum/pkg/failover"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/read"
	"github.com/cuemby/quorum/pkg/sampler"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/cuemby/quorum/pkg/write"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "coordinatord",
	Short:   "Control API: write/read coordinators, failover orchestrator, and sampler in one process",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().String("log-level", config.EnvOrDefault("QUORUM_LOG_LEVEL", "info"), "Log level")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("addr", config.EnvOrDefault("QUORUM_COORDINATOR_ADDR", "127.0.0.1:9100"), "Listen address")
	rootCmd.Flags().String("seed-file", "", "YAML topology seed file (required)")
	rootCmd.Flags().String("mysql-user", config.EnvOrDefault("QUORUM_MYSQL_USER", "root"), "MySQL user for every instance")
	rootCmd.Flags().String("mysql-password", config.EnvOrDefault("QUORUM_MYSQL_PASSWORD", ""), "MySQL password")
	rootCmd.Flags().String("mysql-database", config.EnvOrDefault("QUORUM_MYSQL_DATABASE", "app"), "MySQL database name")
	rootCmd.Flags().Duration("sample-period", 5*time.Second, "Sampler poll period")
	rootCmd.Flags().String("containerd-socket", config.EnvOrDefault("QUORUM_CONTAINERD_SOCKET", ""), "containerd socket path; falls back to the docker CLI when unset or unreachable")
	rootCmd.Flags().String("replication-user", config.EnvOrDefault("QUORUM_REPLICATION_USER", ""), "Replication account user; defaults to the seed file's value, then \"repl\"")
	rootCmd.Flags().String("replication-password", config.EnvOrDefault("QUORUM_REPLICATION_PASSWORD", ""), "Replication account password; defaults to the seed file's value")
	rootCmd.MarkFlagRequired("seed-file")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("coordinatord")

	addr, _ := cmd.Flags().GetString("addr")
	seedFile, _ := cmd.Flags().GetString("seed-file")
	mysqlUser, _ := cmd.Flags().GetString("mysql-user")
	mysqlPassword, _ := cmd.Flags().GetString("mysql-password")
	mysqlDatabase, _ := cmd.Flags().GetString("mysql-database")
	samplePeriod, _ := cmd.Flags().GetDuration("sample-period")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	replicationUser, _ := cmd.Flags().GetString("replication-user")
	replicationPassword, _ := cmd.Flags().GetString("replication-password")

	seed, err := config.LoadClusterSeed(seedFile)
	if err != nil {
		return err
	}
	primarySeed, ok := seed.Primary()
	if !ok {
		return fmt.Errorf("coordinatord: seed file has no instance with role: primary")
	}
	seedReplicationUser, seedReplicationPassword := seed.ReplicationCredentials()
	if replicationUser == "" {
		replicationUser = seedReplicationUser
	}
	if replicationPassword == "" {
		replicationPassword = seedReplicationPassword
	}

	primary := &types.Instance{ID: primarySeed.ID, Addr: primarySeed.Addr, ContainerID: primarySeed.ContainerID}
	var followers []*types.Instance
	registry := map[string]*types.Instance{primary.ID: primary}
	conns := make(write.ConnMap)
	samplerConns := make(map[string]sampler.Prober)

	for _, is := range seed.Instances {
		inst := &types.Instance{ID: is.ID, Addr: is.Addr, ContainerID: is.ContainerID}
		registry[inst.ID] = inst
		if is.Role != "primary" {
			followers = append(followers, inst)
		}

		host, port := splitHostPort(is.Addr)
		db, err := dbconn.Open(dbconn.Config{
			Host: host, Port: port,
			User: mysqlUser, Password: mysqlPassword, Database: mysqlDatabase,
		})
		if err != nil {
			log.WithInstanceID(logger, is.ID).Warn().Err(err).Msg("failed to open connection")
			continue
		}
		if err := db.EnsureSchema(cmd.Context()); err != nil {
			log.WithInstanceID(logger, is.ID).Warn().Err(err).Msg("failed to ensure schema")
		}
		conns[inst.ID] = db
		samplerConns[inst.ID] = db
	}

	topo := topology.New(primary, followers)

	var ctl containerctl.Controller
	if containerdSocket != "" {
		cd, err := containerctl.NewContainerd(containerdSocket)
		if err != nil {
			logger.Warn().Err(err).Msg("containerd unreachable, falling back to docker CLI")
			ctl = containerctl.NewDockerCLI()
		} else {
			ctl = cd
		}
	} else {
		ctl = containerctl.NewDockerCLI()
	}

	allInstances := make([]*types.Instance, 0, len(registry))
	for _, inst := range registry {
		allInstances = append(allInstances, inst)
	}
	samplerCfg := sampler.DefaultConfig()
	samplerCfg.Period = samplePeriod
	samp := sampler.New(allInstances, samplerConns, sampler.TopologyStatus(topo), samplerCfg)
	samp.Start()
	defer samp.Stop()
	health := sampler.RecordsView{Sampler: samp}

	var allocClient allocator.Client
	if len(seed.AllocatorShards) > 0 {
		allocClient = allocator.NewHTTPClient(seed.AllocatorShards)
	} else {
		allocClient = &allocator.LocalClient{Shard: allocator.NewShard(1, 1, 1, 0)}
	}

	fo := failover.New(topo, conns, health, ctl, failover.Config{
		ElectionRetries:     3,
		ElectionBackoff:     500 * time.Millisecond,
		ContainerTimeout:    10 * time.Second,
		ReplicationUser:     replicationUser,
		ReplicationPassword: replicationPassword,
	})

	writeCoord := write.New(topo, conns, allocClient, fo, health)
	readCoord := read.New(topo, conns, health)

	srv := api.NewServer(topo, writeCoord, readCoord, fo, samp, conns, registry, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Str("addr", addr).Int("instances", len(registry)).Msg("control API listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("control API server error: %w", err)
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
