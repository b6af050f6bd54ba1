package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

const medicineCols = `id, name, unit_price, active, created_at`

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	if err := row.Scan(&m.ID, &m.Name, &m.UnitPrice, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// likeEscaper neutralizes LIKE wildcards in user-supplied names.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(name string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(name)) + "%"
}

func (r *repoPG) FindByName(ctx context.Context, name string) (*Medicine, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.NotFound("medicine", name)
	}
	m, err := scanMedicine(r.conn(ctx).QueryRow(ctx, `
		SELECT `+medicineCols+` FROM medicine
		WHERE active AND name ILIKE $1 ESCAPE '\'
		ORDER BY LENGTH(name), name, id
		LIMIT 1`, containsPattern(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("medicine", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find medicine by name: %w", err)
	}
	return m, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	m, err := scanMedicine(r.conn(ctx).QueryRow(ctx, `SELECT `+medicineCols+` FROM medicine WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("medicine", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get medicine: %w", err)
	}
	return m, nil
}

func (r *repoPG) Create(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	m.Active = true
	m.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO medicine (`+medicineCols+`) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Name, m.UnitPrice, m.Active, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create medicine: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Medicine, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medicine WHERE active`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medicines: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicineCols+` FROM medicine WHERE active ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list medicines: %w", err)
	}
	defer rows.Close()

	var out []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan medicine: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}
