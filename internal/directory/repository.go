package directory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound occurs when no party matches the lookup.
var ErrNotFound = errors.New("party not found")

// Repository persists parties.
type Repository interface {
	Create(ctx context.Context, p Party) error
	ByID(ctx context.Context, id string) (Party, error)
	ByHandle(ctx context.Context, handle string) (Party, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed party repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new party.
func (r *PostgresRepository) Create(ctx context.Context, p Party) error {
	_, err := r.db.Exec(ctx, `INSERT INTO parties (id, handle, display_name, role, created_at)
        VALUES ($1, $2, $3, $4, $5)`, p.ID, p.Handle, p.DisplayName, p.Role, p.CreatedAt.UTC())
	return err
}

// ByID fetches a party by identifier.
func (r *PostgresRepository) ByID(ctx context.Context, id string) (Party, error) {
	row := r.db.QueryRow(ctx, `SELECT id, handle, display_name, role, created_at FROM parties WHERE id = $1`, id)
	return scanParty(row)
}

// ByHandle fetches a party by its unique handle.
func (r *PostgresRepository) ByHandle(ctx context.Context, handle string) (Party, error) {
	row := r.db.QueryRow(ctx, `SELECT id, handle, display_name, role, created_at FROM parties WHERE handle = $1`, handle)
	return scanParty(row)
}

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	var createdAt time.Time
	if err := row.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.Role, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrNotFound
		}
		return Party{}, err
	}
	p.CreatedAt = createdAt.UTC()
	return p, nil
}
