package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	createExtensions(ctx, conn)
	createEventsTable(ctx, conn)
	createIndexes(ctx, conn)
	verify(ctx, conn)

	fmt.Println("\nDatabase initialised")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func createExtensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Extensions ──────────────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

func createEventsTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── device_events table ─────────────────────────")

	// Column order and types must match store.eventColumns.
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS device_events (
			occurred_at      TIMESTAMPTZ      NOT NULL,
			event_id         UUID             NOT NULL,
			kind             TEXT             NOT NULL,
			device_id        TEXT             NOT NULL,
			login_id         TEXT,

			-- triggering position
			latitude         DOUBLE PRECISION NOT NULL,
			longitude        DOUBLE PRECISION NOT NULL,
			altitude         DOUBLE PRECISION,
			accuracy         DOUBLE PRECISION,
			heading          DOUBLE PRECISION,
			speed_mps        DOUBLE PRECISION,
			captured_at      TIMESTAMPTZ,

			-- zone transitions and speed breaches
			zone             TEXT,
			inside_since     TIMESTAMPTZ,
			seconds_inside   BIGINT,
			speed_limit_kmh  DOUBLE PRECISION,
			speed_kmh        DOUBLE PRECISION,

			payload          JSONB,

			CONSTRAINT chk_kind CHECK (
				kind IN ('zone-enter', 'zone-exit', 'speed-excess', 'speed-pre-excess', 'position-sample')
			)
		);
	`, "device_events table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'device_events',
			'occurred_at',
			if_not_exists => TRUE
		);
	`, "device_events converted to hypertable")
}

func createIndexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Indexes ─────────────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		use  string
	}{
		{
			name: "idx_events_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_device_time
				  ON device_events (device_id, occurred_at DESC);`,
			use: "event history for one device",
		},
		{
			name: "idx_events_kind_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_kind_time
				  ON device_events (kind, occurred_at DESC);`,
			use: "all breaches or transitions in a period",
		},
		{
			name: "idx_events_zone",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_zone
				  ON device_events (zone, occurred_at DESC)
				  WHERE zone IS NOT NULL;`,
			use: "activity of one zone",
		},
		{
			name: "idx_events_login",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_login
				  ON device_events (login_id, occurred_at DESC)
				  WHERE login_id IS NOT NULL;`,
			use: "events recorded under one login",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-28s <- %s", idx.name, idx.use),
		)
	}
}

func verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Verification ────────────────────────────────")

	var hypertableName string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'device_events'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("device_events is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s\n", hypertableName)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename = 'device_events'
		AND indexname LIKE 'idx_events_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
