package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/validation"
)

var _ core.PolicyStore = (*SQLiteStore)(nil)

// SQLiteStore persists policies in the trust_policies table.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteStore wraps an already migrated database (see store.OpenSQLite).
// If ownsDB is set, Close closes the database.
func NewSQLiteStore(db *sql.DB, ownsDB bool) *SQLiteStore {
	return &SQLiteStore{db: db, ownsDB: ownsDB}
}

const policyColumns = `provider, target_role, name, subject, audience, branch, issuer, condition, max_lifetime`

func (s *SQLiteStore) Put(ctx context.Context, p core.TrustPolicy) error {
	if err := validation.ValidatePolicy(p); err != nil {
		return err
	}
	// a single upsert statement, readers see either the old or the new row
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_policies (`+policyColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, target_role) DO UPDATE SET
			name = excluded.name,
			subject = excluded.subject,
			audience = excluded.audience,
			branch = excluded.branch,
			issuer = excluded.issuer,
			condition = excluded.condition,
			max_lifetime = excluded.max_lifetime,
			updated_at = excluded.updated_at`,
		p.Provider, p.TargetRole, p.Name, p.Subject, p.Audience, p.Branch, p.Issuer, p.Condition,
		int64(p.MaxLifetime), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting policy '%s': %w", p.ID(), err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, provider, targetRole string) (*core.TrustPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM trust_policies WHERE provider = ? AND target_role = ?`,
		provider, targetRole)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) List(ctx context.Context, provider string) ([]core.TrustPolicy, error) {
	return s.query(ctx, `SELECT `+policyColumns+` FROM trust_policies WHERE provider = ?`, provider)
}

func (s *SQLiteStore) All(ctx context.Context) ([]core.TrustPolicy, error) {
	return s.query(ctx, `SELECT `+policyColumns+` FROM trust_policies`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]core.TrustPolicy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []core.TrustPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(sc scanner) (core.TrustPolicy, error) {
	var (
		p           core.TrustPolicy
		maxLifetime int64
	)
	err := sc.Scan(&p.Provider, &p.TargetRole, &p.Name, &p.Subject, &p.Audience,
		&p.Branch, &p.Issuer, &p.Condition, &maxLifetime)
	p.MaxLifetime = time.Duration(maxLifetime)
	return p, err
}

func (s *SQLiteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
