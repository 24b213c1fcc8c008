package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/quorum/pkg/allocator"
	"github.com/cuemby/quorum/pkg/config"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "allocatord",
	Short:   "Timestamp Allocator shard daemon",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().String("log-level", config.EnvOrDefault("QUORUM_LOG_LEVEL", "info"), "Log level")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("addr", config.EnvOrDefault("QUORUM_ALLOCATOR_ADDR", "127.0.0.1:9101"), "Listen address")
	rootCmd.Flags().Int64("server-id", 1, "This shard's server id (also its seed)")
	rootCmd.Flags().Int64("stride", 1, "Number of shards K; seeds in {1..K} stay disjoint")
	rootCmd.Flags().String("state-file", "", "Optional path to persist the last issued timestamp across restarts")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	addr, _ := cmd.Flags().GetString("addr")
	serverID, _ := cmd.Flags().GetInt64("server-id")
	stride, _ := cmd.Flags().GetInt64("stride")
	stateFile, _ := cmd.Flags().GetString("state-file")

	resumeFrom := int64(0)
	if stateFile != "" {
		if last, err := readPersistedCounter(stateFile); err == nil {
			resumeFrom = last + stride
		}
	}

	shard := allocator.NewShard(serverID, serverID, stride, resumeFrom)
	if stateFile != "" {
		shard.Persist = func(last int64) {
			if err := persistCounter(stateFile, last); err != nil {
				log.WithShardID(log.WithComponent("allocatord"), strconv.FormatInt(serverID, 10)).Warn().Err(err).Msg("failed to persist counter")
			}
		}
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("allocator", true, "")

	srv := allocator.NewServer(shard)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil {
			errCh <- err
		}
	}()

	log.WithShardID(log.WithComponent("allocatord"), strconv.FormatInt(serverID, 10)).Info().Str("addr", addr).Msg("allocator shard listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.WithComponent("allocatord").Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("allocator server error: %w", err)
	}
	return nil
}

// readPersistedCounter reads the single int64 written by persistCounter.
func readPersistedCounter(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var state struct {
		Last int64 `json:"last"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, err
	}
	return state.Last, nil
}

// persistCounter writes the shard's high-water mark as a single JSON
// object, fsync'd so a crash does not lose the last durable value.
func persistCounter(path string, last int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(struct {
		Last int64 `json:"last"`
	}{Last: last}); err != nil {
		return err
	}
	return f.Sync()
}
