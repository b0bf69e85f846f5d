// Command seed-db loads the demo fleet, add-on catalog, demo users and a few
// promo codes into the database. Safe to re-run; everything is upserted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodarent/backend/internal/repository"
)

type catalogJSON struct {
	Bikes []struct {
		ID      uuid.UUID `json:"id"`
		Name    string    `json:"name"`
		DayRate int64     `json:"dayRate"`
	} `json:"bikes"`
	AddOns []struct {
		ID      uuid.UUID `json:"id"`
		Name    string    `json:"name"`
		DayRate int64     `json:"dayRate"`
	} `json:"addons"`
	Users []struct {
		ID     uuid.UUID `json:"id"`
		Name   string    `json:"name"`
		MSISDN string    `json:"msisdn"`
	} `json:"users"`
}

const (
	upsertBikeSQL = `INSERT INTO bikes (id, name, day_rate, active) VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, day_rate = EXCLUDED.day_rate, active = TRUE`

	upsertAddOnSQL = `INSERT INTO addons (id, name, day_rate, active) VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, day_rate = EXCLUDED.day_rate, active = TRUE`

	upsertUserSQL = `INSERT INTO users (id, name, msisdn) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, msisdn = EXCLUDED.msisdn`

	upsertPromoSQL = `INSERT INTO promo_codes (code, kind, value, min_order, max_uses, description, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (code) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value,
			min_order = EXCLUDED.min_order, max_uses = EXCLUDED.max_uses,
			description = EXCLUDED.description, active = TRUE`
)

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedPromoCodes(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	for _, b := range catalog.Bikes {
		if _, err := pool.Exec(ctx, upsertBikeSQL, b.ID, b.Name, decimal.NewFromInt(b.DayRate)); err != nil {
			return errors.Wrapf(err, "upsert bike %s", b.Name)
		}
		slog.Info("upserted bike", slog.String("name", b.Name), slog.Int64("day_rate", b.DayRate))
	}

	for _, a := range catalog.AddOns {
		if _, err := pool.Exec(ctx, upsertAddOnSQL, a.ID, a.Name, decimal.NewFromInt(a.DayRate)); err != nil {
			return errors.Wrapf(err, "upsert add-on %s", a.Name)
		}
		slog.Info("upserted add-on", slog.String("name", a.Name), slog.Int64("day_rate", a.DayRate))
	}

	for _, u := range catalog.Users {
		if _, err := pool.Exec(ctx, upsertUserSQL, u.ID, u.Name, u.MSISDN); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.Name)
		}
		slog.Info("upserted user", slog.String("name", u.Name))
	}

	return nil
}

func seedPromoCodes(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo promo codes")

	promos := []struct {
		code        string
		kind        string
		value       int64
		minOrder    int64
		maxUses     *int32
		description string
	}{
		{"SAVE10", "percentage", 10, 0, nil, "10% off any rental"},
		{"WEEKEND", "percentage", 15, 2000, nil, "15% off orders of 2000+"},
		{"FLAT500", "fixed_amount", 500, 3000, ptr[int32](100), "500 off orders of 3000+, first 100 uses"},
	}

	for _, p := range promos {
		if _, err := pool.Exec(ctx, upsertPromoSQL,
			p.code, p.kind, decimal.NewFromInt(p.value), decimal.NewFromInt(p.minOrder),
			p.maxUses, p.description,
		); err != nil {
			return errors.Wrapf(err, "upsert promo code %s", p.code)
		}
		slog.Info("upserted promo code", slog.String("code", p.code))
	}

	return nil
}

func ptr[T any](v T) *T { return &v }
