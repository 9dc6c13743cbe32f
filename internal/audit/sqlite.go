package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/store"
)

// queryPageSize is the number of rows read per round trip in Query.
const queryPageSize = 256

var _ core.AuditLog = (*SQLiteLog)(nil)

// SQLiteLog records decisions in the decisions table. Each append is its own
// committed transaction, with synchronous=FULL that makes it durable.
type SQLiteLog struct {
	db     *sql.DB
	ownsDB bool
}

func NewSQLiteLog(db *sql.DB, ownsDB bool) *SQLiteLog {
	return &SQLiteLog{db: db, ownsDB: ownsDB}
}

func (s *SQLiteLog) Append(ctx context.Context, d core.FederationDecision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer store.Rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (id, correlation_id, time, kind, reason, provider, subject, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CorrelationID, d.Time.UnixNano(), string(d.Kind), string(d.Reason),
		d.Provider, d.Principal.Subject, string(body),
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			// an earlier attempt committed but its result was lost
			return nil
		}
		return fmt.Errorf("inserting decision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing decision: %w", err)
	}
	return nil
}

// Query reads matching rows page by page, so no connection is held while the
// caller consumes the sequence.
func (s *SQLiteLog) Query(ctx context.Context, filter core.AuditFilter) iter.Seq2[core.FederationDecision, error] {
	where, args := whereClause(filter)

	return func(yield func(core.FederationDecision, error) bool) {
		var after int64
		n := 0
		for {
			page, last, err := s.page(ctx, where, args, after)
			if err != nil {
				yield(core.FederationDecision{}, err)
				return
			}
			for _, d := range page {
				// the body holds fields that have no column, filter again to be exact
				if !filter.Matches(d) {
					continue
				}
				if !yield(d, nil) {
					return
				}
				n++
				if filter.Limit > 0 && n >= filter.Limit {
					return
				}
			}
			if len(page) < queryPageSize {
				return
			}
			after = last
		}
	}
}

func (s *SQLiteLog) page(ctx context.Context, where string, args []any, after int64) ([]core.FederationDecision, int64, error) {
	query := "SELECT seq, body FROM decisions WHERE seq > ?" + where + " ORDER BY seq LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, append(append([]any{after}, args...), queryPageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	page := make([]core.FederationDecision, 0, queryPageSize)
	var last int64
	for rows.Next() {
		var body string
		if err := rows.Scan(&last, &body); err != nil {
			return nil, 0, fmt.Errorf("scanning decision: %w", err)
		}
		var d core.FederationDecision
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			return nil, 0, fmt.Errorf("decoding decision %d: %w", last, err)
		}
		page = append(page, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading decisions: %w", err)
	}
	return page, last, nil
}

func whereClause(f core.AuditFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.ID != "" {
		add("id = ?", f.ID)
	}
	if f.CorrelationID != "" {
		add("correlation_id = ?", f.CorrelationID)
	}
	if f.Provider != "" {
		add("provider = ?", f.Provider)
	}
	if f.Kind != "" {
		add("kind = ?", string(f.Kind))
	}
	if f.Reason != core.ReasonNone {
		add("reason = ?", string(f.Reason))
	}
	if f.Subject != "" {
		add("subject = ?", f.Subject)
	}
	if !f.Since.IsZero() {
		add("time >= ?", f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		add("time <= ?", f.Until.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

func (s *SQLiteLog) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
