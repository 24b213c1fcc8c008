package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cuemby/quorum/pkg/quorumclient"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "quorumctl",
	Short:   "Control client for the quorum Control API",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:9100", "Control API address")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(tableTimestampsCmd)
	rootCmd.AddCommand(consistencyMetricsCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(stopMasterCmd)
	rootCmd.AddCommand(stopMasterOnlyCmd)
	rootCmd.AddCommand(promoteLeaderCmd)
	rootCmd.AddCommand(startInstanceCmd)
	rootCmd.AddCommand(restartOldMasterCmd)
	rootCmd.AddCommand(clearDataCmd)
}

func newClient(cmd *cobra.Command) *quorumclient.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return quorumclient.New(addr)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cluster status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient(cmd).Status()
		if err != nil {
			return err
		}
		fmt.Printf("Primary:          %s\n", s.Primary)
		fmt.Printf("Followers:        %v\n", s.Followers)
		fmt.Printf("Replication mode: %s\n", s.ReplicationMode)
		fmt.Printf("Failover state:   %s\n", s.FailoverState)
		return nil
	},
}

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Show cluster topology",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := newClient(cmd).Topology()
		if err != nil {
			return err
		}
		if t.Primary != nil {
			fmt.Printf("Primary:   %s (%s)\n", t.Primary.ID, t.Primary.Addr)
		} else {
			fmt.Println("Primary:   none")
		}
		fmt.Printf("%-20s %s\n", "FOLLOWER", "ADDR")
		for _, f := range t.Followers {
			fmt.Printf("%-20s %s\n", f.ID, f.Addr)
		}
		return nil
	},
}

var tableTimestampsCmd = &cobra.Command{
	Use:   "table-timestamps",
	Short: "Show each instance's last-applied table timestamps",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := newClient(cmd).TableTimestamps()
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-12s %s\n", "INSTANCE", "LAG", "LAST_APPLIED")
		for _, row := range rows {
			fmt.Printf("%-20s %-12d %d\n", row.InstanceID, row.Lag, row.LastAppliedTimestamp)
		}
		return nil
	},
}

var consistencyMetricsCmd = &cobra.Command{
	Use:   "consistency-metrics",
	Short: "Show per-consistency-level request counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newClient(cmd).ConsistencyMetrics()
		if err != nil {
			return err
		}
		levels := make([]string, 0, len(stats))
		for level := range stats {
			levels = append(levels, level)
		}
		sort.Strings(levels)

		fmt.Printf("%-10s %-10s %-10s %-10s %s\n", "LEVEL", "REQUESTS", "FAILURES", "TIMEOUTS", "AVG_MS")
		for _, level := range levels {
			s := stats[level]
			fmt.Printf("%-10s %-10d %-10d %-10d %.1f\n", level, s.Requests, s.Failures, s.Timeouts, s.AverageLatencyMS)
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query STATEMENT",
	Short: "Execute a SQL statement against the cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		consistency, _ := cmd.Flags().GetString("consistency")
		result, err := newClient(cmd).Query(args[0], consistency)
		if err != nil {
			return err
		}
		fmt.Printf("Executed on:   %s\n", result.ExecutedOn)
		fmt.Printf("Latency:       %dms\n", result.LatencyMS)
		if result.Timestamp != 0 {
			fmt.Printf("Timestamp:     %d\n", result.Timestamp)
		}
		if result.RowsAffected != 0 {
			fmt.Printf("Rows affected: %d\n", result.RowsAffected)
		}
		for _, row := range result.Rows {
			fmt.Printf("  %v\n", row)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().String("consistency", "STRONG", "Consistency level for reads and writes: EVENTUAL or STRONG")
}

var stopMasterCmd = &cobra.Command{
	Use:   "stop-master",
	Short: "Force-stop the primary and run a full failover",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).StopMaster(); err != nil {
			return err
		}
		fmt.Println("Failover triggered")
		return nil
	},
}

var stopMasterOnlyCmd = &cobra.Command{
	Use:   "stop-master-only",
	Short: "Stop the primary's container without electing a replacement",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).StopMasterOnly(); err != nil {
			return err
		}
		fmt.Println("Primary stopped")
		return nil
	},
}

var promoteLeaderCmd = &cobra.Command{
	Use:   "promote-leader INSTANCE_ID",
	Short: "Promote the named follower to primary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).PromoteLeader(args[0]); err != nil {
			return err
		}
		fmt.Println("Promotion complete")
		return nil
	},
}

var startInstanceCmd = &cobra.Command{
	Use:   "start-instance INSTANCE_ID",
	Short: "Start a stopped instance's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).StartInstance(args[0]); err != nil {
			return err
		}
		fmt.Println("Instance started")
		return nil
	},
}

var restartOldMasterCmd = &cobra.Command{
	Use:   "restart-old-master",
	Short: "Rejoin a recovered former primary as a follower",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).RestartOldMaster(); err != nil {
			return err
		}
		fmt.Println("Rejoin complete")
		return nil
	},
}

var clearDataCmd = &cobra.Command{
	Use:   "clear-data",
	Short: "Reset every instance's timestamp bookkeeping and the consistency counters; user tables are not touched (testing only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).ClearData(); err != nil {
			return err
		}
		fmt.Println("Timestamp bookkeeping and consistency counters cleared")
		return nil
	},
}
