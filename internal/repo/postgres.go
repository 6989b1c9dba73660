package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/fp"
)

// PostgresRepo implements TransferRepo backed by PostgreSQL.
// It expects a table `transfers` with an index on `fingerprint`.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// PostgresDSNFromEnv builds a DSN from component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (devsync),
//	POSTGRES_USER (devsync), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded.
func PostgresDSNFromEnv() string {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "devsync")
	user := getenv("POSTGRES_USER", "devsync")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

// NewPostgresRepoFromEnv connects using PostgresDSNFromEnv.
func NewPostgresRepoFromEnv() (*PostgresRepo, error) {
	return NewPostgresRepo(PostgresDSNFromEnv())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS transfers (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    product TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    size DOUBLE PRECISION NOT NULL DEFAULT 0,
    percent SMALLINT NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    fingerprint TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transfers_fingerprint_idx ON transfers (fingerprint, created_at DESC);
`)
	return err
}

const transferColumns = `id,kind,product,name,size,percent,status,error,fingerprint,created_at,updated_at`

// List implements TransferReader.List
func (r *PostgresRepo) List(ctx context.Context) (data.TransferRecords, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+transferColumns+` FROM transfers ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := data.TransferRecords{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get implements TransferReader.Get
func (r *PostgresRepo) Get(ctx context.Context, id string) (*data.TransferRecord, error) {
	return r.one(ctx, r.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id))
}

// Latest implements TransferReader.Latest
func (r *PostgresRepo) Latest(ctx context.Context, fingerprint string) (*data.TransferRecord, error) {
	return r.one(ctx, r.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE fingerprint=$1 ORDER BY created_at DESC LIMIT 1`, fingerprint))
}

func (r *PostgresRepo) one(ctx context.Context, row *sql.Row) (*data.TransferRecord, error) {
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// Add implements TransferWriter.Add
func (r *PostgresRepo) Add(ctx context.Context, t *data.TransferRecord) (*data.TransferRecord, error) {
	cp := t.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Fingerprint == "" {
		cp.Fingerprint = fp.Fingerprint(cp.Product, cp.Name, cp.Size)
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `INSERT INTO transfers (`+transferColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		cp.ID, string(cp.Kind), cp.Product, cp.Name, cp.Size, int16(cp.Percent), string(cp.Status), cp.Error, cp.Fingerprint, cp.CreatedAt, cp.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate transfer id %s", data.ErrBadParameter, cp.ID)
		}
		return nil, err
	}
	return r.Get(ctx, cp.ID)
}

// Update implements TransferWriter.Update by fetching, mutating, and writing
// back under a row lock.
func (r *PostgresRepo) Update(ctx context.Context, id string, mutate func(*data.TransferRecord) error) (*data.TransferRecord, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		// no-op after commit
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, id)
	cur, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	if equalTransfers(cur, next) {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return cur, nil
	}

	// id, fingerprint and created_at are immutable
	if _, err := tx.ExecContext(ctx, `UPDATE transfers SET kind=$1, product=$2, name=$3, size=$4, percent=$5, status=$6, error=$7, updated_at=$8 WHERE id=$9`,
		string(next.Kind), next.Product, next.Name, next.Size, int16(next.Percent), string(next.Status), next.Error, time.Now().UTC(), id); err != nil {
		return nil, err
	}

	row2 := tx.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id)
	updated, err := scanTransfer(row2)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// Helpers

type rowScanner interface{ Scan(dest ...any) error }

func scanTransfer(rs rowScanner) (*data.TransferRecord, error) {
	var (
		id, kind, product, name, status, errStr, fprint string
		size                                            float64
		percent                                         int16
		created, updated                                time.Time
	)
	if err := rs.Scan(&id, &kind, &product, &name, &size, &percent, &status, &errStr, &fprint, &created, &updated); err != nil {
		return nil, err
	}
	return &data.TransferRecord{
		ID:          id,
		Kind:        data.TransferKind(kind),
		Product:     product,
		Name:        name,
		Size:        size,
		Percent:     uint8(percent),
		Status:      data.TransferStatus(status),
		Error:       errStr,
		Fingerprint: fprint,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func equalTransfers(a, b *data.TransferRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind == b.Kind && a.Product == b.Product && a.Name == b.Name && a.Size == b.Size &&
		a.Percent == b.Percent && a.Status == b.Status && a.Error == b.Error
}

func isUniqueViolation(err error) bool {
	// pgx stdlib returns error strings containing "duplicate key value violates unique constraint"
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
