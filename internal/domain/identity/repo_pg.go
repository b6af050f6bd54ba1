package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Patient(ctx context.Context, id uuid.UUID) (*Person, error) {
	return r.get(ctx, KindPatient, id)
}

func (r *repoPG) Doctor(ctx context.Context, id uuid.UUID) (*Person, error) {
	return r.get(ctx, KindDoctor, id)
}

func (r *repoPG) get(ctx context.Context, kind Kind, id uuid.UUID) (*Person, error) {
	var p Person
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, display_name, active, created_at FROM `+kind.table()+` WHERE id = $1 AND active`, id,
	).Scan(&p.ID, &p.DisplayName, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(string(kind), id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, kind Kind, p *Person) error {
	p.ID = uuid.New()
	p.Active = true
	p.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO `+kind.table()+` (id, display_name, active, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.DisplayName, p.Active, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+kind.table()+` WHERE active`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", kind, err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, display_name, active, created_at FROM `+kind.table()+`
		 WHERE active ORDER BY display_name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []*Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Active, &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, &p)
	}
	return out, total, rows.Err()
}
