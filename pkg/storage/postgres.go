package storage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

const uncostedChargesQuery = `
SELECT id, start_date, end_date,
	COALESCE(charge_energy_added, 0)::float8,
	COALESCE(charge_energy_used, 0)::float8
FROM charging_processes
WHERE geofence_id = $1
	AND end_date IS NOT NULL
	AND end_date >= $2
	AND cost IS NULL
ORDER BY start_date`

const chargeSamplesQuery = `
SELECT date, charge_energy_added::float8
FROM charges
WHERE charging_process_id = $1
	AND charge_energy_added IS NOT NULL
ORDER BY date`

const setChargeCostQuery = `UPDATE charging_processes SET cost = $1::numeric WHERE id = $2`

// Postgres implements Database on top of the TeslaMate Postgres schema.
type Postgres struct {
	pool     *pgxpool.Pool
	connStr  string
	maxConns int
}

// configuredPostgres sets up the Postgres database.
// It registers flags for configuration.
func configuredPostgres() *Postgres {
	dbURL := lflag.String("database-url", "", "Postgres connection URL for the TeslaMate database (overrides the other database flags)")
	host := lflag.String("database-host", "localhost", "TeslaMate database host")
	port := lflag.Int("database-port", 5432, "TeslaMate database port")
	name := lflag.String("database-name", "teslamate", "TeslaMate database name")
	user := lflag.String("database-user", "teslamate", "TeslaMate database user")
	pass := lflag.String("database-pass", "", "TeslaMate database password")
	maxConns := lflag.Int("database-max-conns", 4, "Maximum number of pooled database connections")

	p := &Postgres{}

	lflag.Do(func() {
		p.connStr = *dbURL
		if p.connStr == "" {
			u := url.URL{
				Scheme: "postgres",
				Host:   net.JoinHostPort(*host, strconv.Itoa(*port)),
				Path:   "/" + *name,
			}
			if *pass != "" {
				u.User = url.UserPassword(*user, *pass)
			} else {
				u.User = url.User(*user)
			}
			p.connStr = u.String()
		}
		p.maxConns = *maxConns
	})

	return p
}

// Validate checks if the database is properly configured.
func (p *Postgres) Validate() error {
	if p.connStr == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	if p.maxConns < 0 || p.maxConns > math.MaxInt32 {
		return fmt.Errorf("database-max-conns must be between 0 and %d, got %d", math.MaxInt32, p.maxConns)
	}
	if _, err := pgxpool.ParseConfig(p.connStr); err != nil {
		return fmt.Errorf("invalid database url: %w", err)
	}
	return nil
}

// Init connects the pool and verifies the database is reachable.
// This must be called before using Session.
func (p *Postgres) Init(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(p.connStr)
	if err != nil {
		return fmt.Errorf("invalid database url: %w", err)
	}
	if p.maxConns > 0 {
		cfg.MaxConns = int32(p.maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create database pool (host=%s, database=%s): %w", cfg.ConnConfig.Host, cfg.ConnConfig.Database, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database (host=%s, database=%s): %w", cfg.ConnConfig.Host, cfg.ConnConfig.Database, err)
	}
	p.pool = pool
	return nil
}

// Close closes every pooled connection.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// Session implements Database.
func (p *Postgres) Session(ctx context.Context) (Session, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return &pgSession{conn: conn}, nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

// UncostedCharges implements Session.
func (s *pgSession) UncostedCharges(ctx context.Context, geofenceID int64, since time.Time) ([]types.Charge, error) {
	rows, err := s.conn.Query(ctx, uncostedChargesQuery, geofenceID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query charging processes: %w", err)
	}
	charges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Charge, error) {
		var c types.Charge
		err := row.Scan(&c.ID, &c.StartDate, &c.EndDate, &c.EnergyAdded, &c.EnergyUsed)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read charging processes: %w", err)
	}

	for i := range charges {
		rows, err := s.conn.Query(ctx, chargeSamplesQuery, charges[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query charges for %d: %w", charges[i].ID, err)
		}
		samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ChargeSample, error) {
			var cs types.ChargeSample
			err := row.Scan(&cs.Date, &cs.EnergyAdded)
			return cs, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read charges for %d: %w", charges[i].ID, err)
		}
		charges[i].Samples = samples
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"loaded uncosted charges",
		slog.Int64("geofenceID", geofenceID),
		slog.Time("since", since),
		slog.Int("count", len(charges)),
	)
	return charges, nil
}

// SetChargeCost implements Session.
func (s *pgSession) SetChargeCost(ctx context.Context, chargeID int64, cost decimal.Decimal) error {
	tag, err := s.conn.Exec(ctx, setChargeCostQuery, cost.String(), chargeID)
	if err != nil {
		return fmt.Errorf("failed to update cost of charge %d: %w", chargeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrChargeNotFound, chargeID)
	}
	return nil
}

// Release implements Session.
func (s *pgSession) Release() {
	s.conn.Release()
}
