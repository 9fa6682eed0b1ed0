// Package postgres provides a PostgreSQL implementation of the
// entitle.Storage interface. Server allocation runs inside a transaction
// with SELECT FOR UPDATE so the capacity check and the increment commit as
// one atomic step.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// Storage implements entitle.Storage using PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// InitSchema creates the tables if they do not exist.
func (s *Storage) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS entitlements (
			email       TEXT PRIMARY KEY,
			premium     BOOLEAN NOT NULL DEFAULT FALSE,
			device_id   TEXT NOT NULL DEFAULT '',
			granted_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trials (
			device_id   TEXT PRIMARY KEY,
			email       TEXT NOT NULL DEFAULT '',
			started_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trial_servers (
			id          TEXT PRIMARY KEY,
			ip          TEXT NOT NULL,
			port        INTEGER NOT NULL DEFAULT 0,
			country     TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT '',
			username    TEXT NOT NULL,
			password    TEXT NOT NULL,
			tags        TEXT[] NOT NULL DEFAULT '{}',
			capacity    INTEGER NOT NULL,
			users       INTEGER NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Storage) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetEntitlement implements entitle.Storage.
func (s *Storage) GetEntitlement(ctx context.Context, email string) (*entitle.Entitlement, error) {
	var ent entitle.Entitlement
	err := s.pool.QueryRow(ctx,
		`SELECT email, premium, device_id, granted_at, updated_at
			FROM entitlements WHERE email = $1`,
		email).Scan(&ent.Email, &ent.Premium, &ent.DeviceID, &ent.GrantedAt, &ent.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, entitle.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return &ent, nil
}

// SetEntitlement implements entitle.Storage.
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitle.Entitlement) error {
	if ent == nil || ent.Email == "" {
		return fmt.Errorf("invalid entitlement")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlements (email, premium, device_id, granted_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (email) DO UPDATE SET
				premium = EXCLUDED.premium,
				device_id = EXCLUDED.device_id,
				granted_at = EXCLUDED.granted_at,
				updated_at = EXCLUDED.updated_at`,
		ent.Email, ent.Premium, ent.DeviceID, ent.GrantedAt, ent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set entitlement: %w", err)
	}
	return nil
}

// GetTrial implements entitle.Storage.
func (s *Storage) GetTrial(ctx context.Context, deviceID string) (*entitle.Trial, error) {
	var trial entitle.Trial
	err := s.pool.QueryRow(ctx,
		`SELECT device_id, email, started_at FROM trials WHERE device_id = $1`,
		deviceID).Scan(&trial.DeviceID, &trial.Email, &trial.StartedAt)
	if err == pgx.ErrNoRows {
		return nil, entitle.ErrTrialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial: %w", err)
	}
	return &trial, nil
}

// CreateTrial implements entitle.Storage. ON CONFLICT DO NOTHING keeps the
// record write-once under concurrent callers.
func (s *Storage) CreateTrial(ctx context.Context, trial *entitle.Trial) error {
	if trial == nil || trial.DeviceID == "" {
		return fmt.Errorf("invalid trial")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO trials (device_id, email, started_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (device_id) DO NOTHING`,
		trial.DeviceID, trial.Email, trial.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create trial: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrTrialExists
	}
	return nil
}

// AddServer implements entitle.Storage.
func (s *Storage) AddServer(ctx context.Context, server *entitle.Server) error {
	if server == nil || server.ID == "" {
		return fmt.Errorf("invalid server")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO trial_servers (id, ip, port, country, location, username, password, tags, capacity, users, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		server.ID, server.IP, server.Port, server.Country, server.Location,
		server.Username, server.Password, server.Tags, server.Capacity, server.Users, server.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add server: %w", err)
	}
	return nil
}

// ListServers implements entitle.Storage.
func (s *Storage) ListServers(ctx context.Context) ([]*entitle.Server, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ip, port, country, location, username, password, tags, capacity, users, created_at
			FROM trial_servers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []*entitle.Server
	for rows.Next() {
		var server entitle.Server
		if err := rows.Scan(&server.ID, &server.IP, &server.Port, &server.Country,
			&server.Location, &server.Username, &server.Password, &server.Tags,
			&server.Capacity, &server.Users, &server.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, &server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read servers: %w", err)
	}
	return servers, nil
}

// RemoveServer implements entitle.Storage.
func (s *Storage) RemoveServer(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trial_servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrServerNotFound
	}
	return nil
}

// AllocateServer implements entitle.Storage.
func (s *Storage) AllocateServer(ctx context.Context) (*entitle.Server, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// FOR UPDATE serializes concurrent allocations on the row: each caller
	// re-reads users after the previous claim commits, so capacity is
	// never overcommitted.
	var server entitle.Server
	err = tx.QueryRow(ctx,
		`SELECT id, ip, port, country, location, username, password, tags, capacity, users, created_at
			FROM trial_servers
			WHERE users < capacity
			ORDER BY created_at, id
			FOR UPDATE
			LIMIT 1`).Scan(&server.ID, &server.IP, &server.Port, &server.Country,
		&server.Location, &server.Username, &server.Password, &server.Tags,
		&server.Capacity, &server.Users, &server.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, entitle.ErrPoolExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select server: %w", err)
	}

	server.Users++
	if _, err := tx.Exec(ctx,
		`UPDATE trial_servers SET users = $1 WHERE id = $2`,
		server.Users, server.ID); err != nil {
		return nil, fmt.Errorf("failed to claim server: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit allocation: %w", err)
	}
	return &server, nil
}

// ReleaseServer implements entitle.Storage.
func (s *Storage) ReleaseServer(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trial_servers SET users = GREATEST(users - 1, 0) WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to release server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrServerNotFound
	}
	return nil
}
