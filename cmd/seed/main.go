// Package main is a development tool that loads business and event
// fixtures into the Postgres document store.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/placefeed/placefeed/internal/business"
	"github.com/placefeed/placefeed/internal/config"
	"github.com/placefeed/placefeed/internal/event"
	"github.com/placefeed/placefeed/internal/middleware"
)

const schema = `
CREATE TABLE IF NOT EXISTS businesses (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	lat        DOUBLE PRECISION,
	lng        DOUBLE PRECISION,
	tags       TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	business_id TEXT NOT NULL REFERENCES businesses(id),
	date        TIMESTAMPTZ NOT NULL,
	tags        TEXT[] NOT NULL DEFAULT '{}',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS events_date_idx ON events (date);
CREATE INDEX IF NOT EXISTS events_business_idx ON events (business_id);
CREATE INDEX IF NOT EXISTS businesses_updated_idx ON businesses (updated_at);
`

// Fixtures is the JSON shape the seed file is parsed into.
type Fixtures struct {
	Businesses []business.Record `json:"businesses"`
	Events     []event.Record    `json:"events"`
}

func main() {
	help := flag.Bool("help", false, "display help message")
	initSchema := flag.Bool("init", false, "create tables and indexes before seeding")
	fixturePath := flag.String("file", "", "path to JSON fixture file")
	flag.Parse()

	if *help {
		fmt.Println("Placefeed Seeder")
		fmt.Println()
		fmt.Println("Usage: seed [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load("")
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *initSchema {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}
		logger.Info("schema created")
	}

	if *fixturePath == "" {
		if !*initSchema {
			logger.Error("nothing to do, pass -init or -file")
			os.Exit(1)
		}
		return
	}

	fixtures, err := loadFixtures(*fixturePath)
	if err != nil {
		logger.Error("failed to load fixtures", "file", *fixturePath, "error", err)
		os.Exit(1)
	}

	if err := seed(ctx, db, fixtures); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seeding complete",
		"businesses", len(fixtures.Businesses),
		"events", len(fixtures.Events))
}

func loadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixtures
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// seed upserts all fixtures in one transaction so a partial file never
// leaves the store half-written.
func seed(ctx context.Context, db *sql.DB, f *Fixtures) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const upsertBusiness = `
		INSERT INTO businesses (id, name, address, lat, lng, tags, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			tags = EXCLUDED.tags,
			updated_at = now()`

	for _, b := range f.Businesses {
		var lat, lng sql.NullFloat64
		if b.Coord != nil {
			lat = sql.NullFloat64{Float64: b.Coord.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: b.Coord.Lng, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, upsertBusiness,
			b.ID, b.Name, b.Address, lat, lng, pq.Array(b.Tags)); err != nil {
			return fmt.Errorf("upsert business %s: %w", b.ID, err)
		}
	}

	const upsertEvent = `
		INSERT INTO events (id, business_id, date, tags, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			business_id = EXCLUDED.business_id,
			date = EXCLUDED.date,
			tags = EXCLUDED.tags,
			updated_at = now()`

	for _, e := range f.Events {
		if _, err := tx.ExecContext(ctx, upsertEvent,
			e.ID, e.BusinessID, e.Date, pq.Array(e.Tags)); err != nil {
			return fmt.Errorf("upsert event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}
