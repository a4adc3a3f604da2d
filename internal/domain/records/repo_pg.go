package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediclear/mediclear/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// repoPG implements Repository for any Kind. All SQL is assembled from the
// Kind's fixed table and column names, never from request input.
type repoPG[T any] struct {
	pool *pgxpool.Pool
	kind *Kind[T]
	cols string
}

func NewRepoPG[T any](pool *pgxpool.Pool, kind *Kind[T]) Repository[T] {
	cols := kind.IDColumn + ", patient_id, " + strings.Join(kind.Columns, ", ") + ", created_at"
	return &repoPG[T]{pool: pool, kind: kind, cols: cols}
}

func (r *repoPG[T]) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG[T]) scan(row pgx.Row) (*T, error) {
	item := new(T)
	targets := make([]any, 0, len(r.kind.Columns)+3)
	targets = append(targets, r.kind.ID(item), r.kind.PatientID(item))
	targets = append(targets, r.kind.Fields(item)...)
	targets = append(targets, r.kind.CreatedAt(item))
	if err := row.Scan(targets...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

// mapWriteError turns foreign-key and row-policy rejections into
// ErrPatientNotFound: either the patient does not exist or the caller may not
// see it.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "42501":
			return ErrPatientNotFound
		}
	}
	return err
}

func (r *repoPG[T]) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*T, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+r.cols+` FROM `+r.kind.Table+` WHERE patient_id = $1 ORDER BY `+r.kind.OrderBy, patientID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.kind.Label, err)
	}
	defer rows.Close()
	items := make([]*T, 0)
	for rows.Next() {
		item, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.kind.Label, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repoPG[T]) GetByID(ctx context.Context, id uuid.UUID) (*T, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+r.cols+` FROM `+r.kind.Table+` WHERE `+r.kind.IDColumn+` = $1`, id))
}

func (r *repoPG[T]) Create(ctx context.Context, item *T) error {
	id := r.kind.ID(item)
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	args := append([]any{*id, *r.kind.PatientID(item)}, r.kind.Fields(item)...)
	placeholders := make([]string, len(args))
	for i := range placeholders {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	sql := `INSERT INTO ` + r.kind.Table + ` (` + r.kind.IDColumn + `, patient_id, ` + strings.Join(r.kind.Columns, ", ") + `)
		VALUES (` + strings.Join(placeholders, ",") + `) RETURNING created_at`
	if err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(r.kind.CreatedAt(item)); err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert %s: %w", r.kind.Label, err)
	}
	return nil
}

func (r *repoPG[T]) Update(ctx context.Context, item *T) error {
	args := append([]any{*r.kind.ID(item)}, r.kind.Fields(item)...)
	sets := make([]string, len(r.kind.Columns))
	for i, col := range r.kind.Columns {
		sets[i] = col + " = $" + strconv.Itoa(i+2)
	}
	sql := `UPDATE ` + r.kind.Table + ` SET ` + strings.Join(sets, ", ") +
		` WHERE ` + r.kind.IDColumn + ` = $1 RETURNING patient_id, created_at`
	err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(r.kind.PatientID(item), r.kind.CreatedAt(item))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", r.kind.Label, err)
	}
	return nil
}

func (r *repoPG[T]) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+r.kind.Table+` WHERE `+r.kind.IDColumn+` = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.kind.Label, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
