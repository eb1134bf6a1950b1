package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/ashita-ai/kioku/internal/model"
)

// PostgresStore persists incidents in PostgreSQL with the embedding in a
// pgvector column. The stored embedding is a recovery cache: restart
// rebuilds the sparse index and re-upserts the vector index without
// re-embedding unchanged text.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a store with a connection pool.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("corpus: parse DSN: %w", err)
	}

	// Register pgvector types on each new connection. Best-effort: if the
	// vector extension hasn't been created yet (pool startup before
	// migrations), later connections succeed once it exists.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("corpus: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("corpus: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("corpus: ping pool: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Get returns the incident or a KindNotFound error.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Incident, error) {
	var in model.Incident
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, description, resolution, tags, created_at, resolved_by, category, priority, embedding
		 FROM incidents WHERE id = $1`, id,
	).Scan(
		&in.ID, &in.Title, &in.Description, &in.Resolution, &in.Tags,
		&in.CreatedAt, &in.ResolvedBy, &in.Category, &in.Priority, &in.Embedding,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("corpus: get incident %s: %w", id, err)
	}
	return &in, nil
}

// Put inserts or replaces an incident.
func (s *PostgresStore) Put(ctx context.Context, in *model.Incident) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO incidents (id, title, description, resolution, tags, created_at, resolved_by, category, priority, embedding, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'live', now())
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			resolution = EXCLUDED.resolution,
			tags = EXCLUDED.tags,
			created_at = EXCLUDED.created_at,
			resolved_by = EXCLUDED.resolved_by,
			category = EXCLUDED.category,
			priority = EXCLUDED.priority,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		in.ID, in.Title, in.Description, in.Resolution, in.Tags,
		in.CreatedAt, in.ResolvedBy, in.Category, in.Priority, in.Embedding,
	)
	if err != nil {
		return fmt.Errorf("corpus: put incident %s: %w", in.ID, err)
	}
	return nil
}

// Delete removes an incident or returns KindNotFound.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("corpus: delete incident %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// All returns every incident ordered by id.
func (s *PostgresStore) All(ctx context.Context) ([]*model.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, description, resolution, tags, created_at, resolved_by, category, priority, embedding
		 FROM incidents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("corpus: list incidents: %w", err)
	}
	defer rows.Close()

	var out []*model.Incident
	for rows.Next() {
		var in model.Incident
		if err := rows.Scan(
			&in.ID, &in.Title, &in.Description, &in.Resolution, &in.Tags,
			&in.CreatedAt, &in.ResolvedBy, &in.Category, &in.Priority, &in.Embedding,
		); err != nil {
			return nil, fmt.Errorf("corpus: scan incident: %w", err)
		}
		out = append(out, &in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("corpus: list incidents: %w", err)
	}
	return out, nil
}

// IDs returns every incident id, sorted.
func (s *PostgresStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM incidents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("corpus: list ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("corpus: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("corpus: list ids: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored incidents.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM incidents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count incidents: %w", err)
	}
	return n, nil
}

// RunMigrations executes unapplied SQL migration files from the provided
// filesystem in order. Applied migrations are tracked in a
// schema_migrations table so each file runs at most once. A simple
// forward-only runner; there is no down path.
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("corpus: create schema_migrations: %w", err)
	}

	applied, err := s.loadAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("corpus: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("corpus: read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		name := entry.Name()
		if applied[name] {
			s.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("corpus: read migration %s: %w", name, err)
		}

		s.logger.Info("running migration", "file", name)
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("corpus: execute migration %s: %w", name, err)
		}

		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("corpus: record migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *PostgresStore) loadAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
