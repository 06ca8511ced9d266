package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/database/postgres"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/pkg/errors"
)

type postgresRecordRepo struct {
	conn *postgres.Connection
	tx   *sql.Tx
	log  logging.Logger
}

// NewPostgresRecordRepo returns the molecule_records backed repository.
// IDs are stored as BIGINT; values above math.MaxInt64 round-trip through
// their two's complement.
func NewPostgresRecordRepo(conn *postgres.Connection, log logging.Logger) molecule.RecordRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &postgresRecordRepo{conn: conn, log: log}
}

func (r *postgresRecordRepo) executor() dbtx {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

func (r *postgresRecordRepo) Save(ctx context.Context, rec *molecule.Record) error {
	query := `
		INSERT INTO molecule_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			charge = EXCLUDED.charge,
			atoms_hash = EXCLUDED.atoms_hash,
			structure_hash = EXCLUDED.structure_hash,
			structure_hash_exact = EXCLUDED.structure_hash_exact,
			flags = EXCLUDED.flags,
			formula = EXCLUDED.formula,
			cas_numbers = EXCLUDED.cas_numbers,
			graph = EXCLUDED.graph,
			updated_at = NOW()
	`
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	_, err = r.executor().ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save record")
	}
	return nil
}

func (r *postgresRecordRepo) SaveAll(ctx context.Context, records []*molecule.Record) error {
	if r.tx != nil {
		return r.saveAll(ctx, records)
	}
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		inner := &postgresRecordRepo{conn: r.conn, tx: tx, log: r.log}
		return inner.saveAll(ctx, records)
	})
}

func (r *postgresRecordRepo) saveAll(ctx context.Context, records []*molecule.Record) error {
	for _, rec := range records {
		if err := r.Save(ctx, rec); err != nil {
			return err
		}
	}
	r.log.Debug("saved record batch", logging.Int("records", len(records)))
	return nil
}

func (r *postgresRecordRepo) FindByID(ctx context.Context, id uint64) (*molecule.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM molecule_records WHERE id = $1`
	rec, err := scanRecord(r.executor().QueryRowContext(ctx, query, int64(id)))
	if err == sql.ErrNoRows {
		return nil, molecule.ErrRecordNotFound.WithDetail(fmt.Sprintf("id %d", id))
	}
	return rec, err
}

func whereClause(o molecule.QueryOptions) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if o.NameKeyword != "" {
		args = append(args, "%"+o.NameKeyword+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if o.AnyFlags != 0 {
		args = append(args, int64(o.AnyFlags))
		conds = append(conds, fmt.Sprintf("(flags & $%d) <> 0", len(args)))
	}
	if !o.UpdatedSince.IsZero() {
		args = append(args, o.UpdatedSince)
		conds = append(conds, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *postgresRecordRepo) List(ctx context.Context, opts ...molecule.QueryOption) ([]*molecule.Record, error) {
	o := molecule.ApplyOptions(opts...)
	where, args := whereClause(o)
	query := `SELECT ` + recordColumns + ` FROM molecule_records` + where + ` ORDER BY id`
	if o.Limit > 0 {
		args = append(args, o.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if o.Offset > 0 {
		args = append(args, o.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list records")
	}
	defer rows.Close()

	var out []*molecule.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list records")
	}
	return out, nil
}

func (r *postgresRecordRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.executor().ExecContext(ctx, `DELETE FROM molecule_records WHERE id = $1`, int64(id))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete record")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return molecule.ErrRecordNotFound.WithDetail(fmt.Sprintf("id %d", id))
	}
	return nil
}

func (r *postgresRecordRepo) Count(ctx context.Context, opts ...molecule.QueryOption) (int64, error) {
	where, args := whereClause(molecule.ApplyOptions(opts...))
	var n int64
	if err := r.executor().QueryRowContext(ctx, `SELECT COUNT(*) FROM molecule_records`+where, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count records")
	}
	return n, nil
}
