// Package dbconn wraps database/sql against github.com/go-sql-driver/mysql,
// the MySQL-compatible engine every instance in the cluster runs. It owns
// the two durable bookkeeping tables this repository relies on and the
// promotion/demotion SQL sequences used by the failover orchestrator.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cuemby/quorum/pkg/log"
)

// DB wraps a single instance's connection pool.
type DB struct {
	conn *sql.DB
}

// Config holds the connection parameters for one instance. A zero Port
// means 3306; no other field is defaulted here.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

func (c Config) dsn() string {
	if c.Port == 0 {
		c.Port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=5s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// Open establishes a connection pool to one database instance.
func Open(cfg Config) (*DB, error) {
	conn, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("dbconn: open: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &DB{conn: conn}, nil
}

// Close releases the connection pool.
func (d *DB) Close() error { return d.conn.Close() }

// EnsureSchema creates the _metadata and _table_timestamps tables if they
// do not already exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _metadata (
			id INT PRIMARY KEY,
			last_applied_timestamp BIGINT NOT NULL DEFAULT 0
		)`,
		`INSERT IGNORE INTO _metadata (id, last_applied_timestamp) VALUES (1, 0)`,
		`CREATE TABLE IF NOT EXISTS _table_timestamps (
			table_name VARCHAR(255) PRIMARY KEY,
			last_timestamp BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dbconn: ensure schema: %w", err)
		}
	}
	return nil
}

// Probe runs a trivial round-trip used by the sampler to measure latency
// and liveness.
func (d *DB) Probe(ctx context.Context) error {
	var one int
	return d.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// LastAppliedTimestamp reads the instance-wide high-water mark.
func (d *DB) LastAppliedTimestamp(ctx context.Context) (int64, error) {
	var ts int64
	err := d.conn.QueryRowContext(ctx, "SELECT last_applied_timestamp FROM _metadata WHERE id = 1").Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("dbconn: last applied timestamp: %w", err)
	}
	return ts, nil
}

// TableTimestamps reads the per-table high-water marks.
func (d *DB) TableTimestamps(ctx context.Context) (map[string]int64, error) {
	rows, err := d.conn.QueryContext(ctx, "SELECT table_name, last_timestamp FROM _table_timestamps")
	if err != nil {
		return nil, fmt.Errorf("dbconn: table timestamps: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var table string
		var ts int64
		if err := rows.Scan(&table, &ts); err != nil {
			return nil, fmt.Errorf("dbconn: table timestamps scan: %w", err)
		}
		out[table] = ts
	}
	return out, rows.Err()
}

// ApplyWrite executes the client statement and the metadata bookkeeping in
// a single transaction. table may be empty when the router could not
// extract one; in that case only the instance-wide timestamp advances.
func (d *DB) ApplyWrite(ctx context.Context, statement string, table string, ts int64) (rowsAffected int64, err error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("dbconn: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, statement)
	if err != nil {
		return 0, fmt.Errorf("dbconn: apply statement: %w", err)
	}
	rowsAffected, _ = result.RowsAffected()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO _metadata (id, last_applied_timestamp) VALUES (1, ?)
		 ON DUPLICATE KEY UPDATE last_applied_timestamp = GREATEST(last_applied_timestamp, VALUES(last_applied_timestamp))`,
		ts); err != nil {
		return 0, fmt.Errorf("dbconn: bump metadata: %w", err)
	}

	if table != "" {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO _table_timestamps (table_name, last_timestamp) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE last_timestamp = GREATEST(last_timestamp, VALUES(last_timestamp))`,
			table, ts); err != nil {
			return 0, fmt.Errorf("dbconn: bump table timestamp: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("dbconn: commit: %w", err)
	}
	return rowsAffected, nil
}

// ExecuteRead runs a read-only statement and returns every result row as
// a map from column name to value.
func (d *DB) ExecuteRead(ctx context.Context, statement string) ([]map[string]any, error) {
	rows, err := d.conn.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("dbconn: execute read: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dbconn: columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dbconn: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReplicationStatus is the subset of SHOW [REPLICA|SLAVE] STATUS used to
// evaluate replication health.
type ReplicationStatus struct {
	IORunning  bool
	SQLRunning bool
	SecondsBehindMaster sql.NullInt64
}

// FetchReplicationStatus tries the MySQL 8.0.22+ SHOW REPLICA STATUS
// column names first, falling back to the legacy SHOW SLAVE STATUS names
// used by older MySQL/MariaDB.
func (d *DB) FetchReplicationStatus(ctx context.Context) (ReplicationStatus, error) {
	row, err := d.scanStatusRow(ctx, "SHOW REPLICA STATUS")
	if err != nil {
		row, err = d.scanStatusRow(ctx, "SHOW SLAVE STATUS")
	}
	if err != nil {
		return ReplicationStatus{}, fmt.Errorf("dbconn: replication status: %w", err)
	}

	status := ReplicationStatus{}
	if io, ok := row["Replica_IO_Running"]; ok {
		status.IORunning = io == "Yes"
	} else {
		status.IORunning = row["Slave_IO_Running"] == "Yes"
	}
	if sqlRunning, ok := row["Replica_SQL_Running"]; ok {
		status.SQLRunning = sqlRunning == "Yes"
	} else {
		status.SQLRunning = row["Slave_SQL_Running"] == "Yes"
	}
	return status, nil
}

// scanStatusRow runs a SHOW ... STATUS style statement with no fixed
// column list and returns the single result row as a string map.
func (d *DB) scanStatusRow(ctx context.Context, statement string) (map[string]string, error) {
	rows, err := d.conn.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, fmt.Errorf("no replication status row (is this instance a replica?)")
	}

	raw := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(cols))
	for i, c := range cols {
		out[c] = raw[i].String
	}
	return out, nil
}

// PromoteToMaster runs the promotion SQL sequence: stop replication,
// clear its configuration, drop the read-only guards, and ensure the
// replication user every future follower will authenticate as exists on
// the new primary.
func (d *DB) PromoteToMaster(ctx context.Context, replicationUser, replicationPassword string) error {
	stmts := []string{
		"STOP REPLICA",
		"RESET REPLICA ALL",
		"SET GLOBAL read_only = OFF",
		"SET GLOBAL super_read_only = OFF",
		"RESET MASTER",
	}
	for _, stmt := range stmts {
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dbconn: promote (%s): %w", stmt, err)
		}
	}
	if err := d.EnsureReplicationUser(ctx, replicationUser, replicationPassword); err != nil {
		return fmt.Errorf("dbconn: promote: %w", err)
	}
	return nil
}

// EnsureReplicationUser verifies the replication account new followers
// will use to authenticate exists and is granted REPLICATION SLAVE,
// creating it if necessary. Idempotent: safe to call on every promotion
// even when the account already exists from a prior one.
func (d *DB) EnsureReplicationUser(ctx context.Context, user, password string) error {
	var exists int
	err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mysql.user WHERE User = ?", user,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check replication user: %w", err)
	}
	if exists > 0 {
		return nil
	}

	stmts := []string{
		fmt.Sprintf(
			`CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED WITH mysql_native_password BY '%s'`,
			user, password,
		),
		fmt.Sprintf(`GRANT REPLICATION SLAVE ON *.* TO '%s'@'%%'`, user),
		"FLUSH PRIVILEGES",
	}
	for _, stmt := range stmts {
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure replication user (%s): %w", stmt, err)
		}
	}
	log.WithComponent("dbconn").Info().Str("replication_user", user).Msg("created replication user")
	return nil
}

// DemoteToReplica runs the demotion SQL sequence: set a unique server
// id, turn read-only guards on, and point replication at the new
// primary using auto-position so the engine resumes from whatever GTID
// set it already has.
func (d *DB) DemoteToReplica(ctx context.Context, serverID int, masterHost string, masterPort int, masterUser, masterPassword string) error {
	preStmts := []string{
		fmt.Sprintf("SET GLOBAL server_id = %d", serverID),
		"SET GLOBAL read_only = ON",
		"SET GLOBAL super_read_only = ON",
	}
	for _, stmt := range preStmts {
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dbconn: demote (%s): %w", stmt, err)
		}
	}

	changeMaster := fmt.Sprintf(
		`CHANGE MASTER TO MASTER_HOST='%s', MASTER_PORT=%d, MASTER_USER='%s', MASTER_PASSWORD='%s', MASTER_AUTO_POSITION=1`,
		masterHost, masterPort, masterUser, masterPassword,
	)
	if _, err := d.conn.ExecContext(ctx, changeMaster); err != nil {
		return fmt.Errorf("dbconn: change master: %w", err)
	}

	if _, err := d.conn.ExecContext(ctx, "START REPLICA"); err != nil {
		return fmt.Errorf("dbconn: start replica: %w", err)
	}
	return nil
}

// ClearData resets the bookkeeping tables to a fresh-install state. Called
// only by the admin clear-data endpoint; callers must treat this as
// cluster-wide destructive, the same tolerance required of the
// allocator's reset operation.
func (d *DB) ClearData(ctx context.Context) error {
	if _, err := d.conn.ExecContext(ctx, "UPDATE _metadata SET last_applied_timestamp = 0 WHERE id = 1"); err != nil {
		return fmt.Errorf("dbconn: clear metadata: %w", err)
	}
	if _, err := d.conn.ExecContext(ctx, "DELETE FROM _table_timestamps"); err != nil {
		return fmt.Errorf("dbconn: clear table timestamps: %w", err)
	}
	log.WithComponent("dbconn").Warn().Msg("cleared instance metadata and table timestamps")
	return nil
}
