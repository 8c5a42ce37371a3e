package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"github.com/nearai/pay-per-prompt/internal/arbiter"
)

// Store is the receiver's persistence contract. SQLStore is the only
// production implementation; tests may supply a fake satisfying the same
// interface.
type Store interface {
	GetChannel(ctx context.Context, channelID string) (ChannelRow, error)
	UpsertChannel(ctx context.Context, row ChannelRow) error
	TouchUpdatedAt(ctx context.Context, channelID string) error
	SoftClose(ctx context.Context, channelID string) error
	LatestSignedState(ctx context.Context, channelID string) (SignedStateRow, bool, error)
	InsertSignedStateLinearized(ctx context.Context, channelID string, check func(latest SignedStateRow, found bool) error, row SignedStateRow) error
	StaleChannels(ctx context.Context, receiverAccountID string, threshold time.Duration, limit int) ([]ChannelRow, error)
	Close() error
}

// SQLStore backs Store with database/sql, supporting SQLite
// (mattn/go-sqlite3) for local/dev use and PostgreSQL (lib/pq) for
// production, selected by connection-string scheme.
type SQLStore struct {
	db         *sql.DB
	driverName string
}

// NewStore opens dsn, picking the driver from its scheme:
//   - "postgres://..." or "postgresql://..." → PostgreSQL
//   - anything else (a file path, ":memory:") → SQLite
func NewStore(dsn string) (*SQLStore, error) {
	var driverName string
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driverName = "postgres"
	} else {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// placeholder renders the driver-appropriate bind-variable for position n
// (1-indexed): "$n" for Postgres, "?" for SQLite.
func (s *SQLStore) placeholder(n int) string {
	if s.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) initSchema() error {
	var idClause, timestampType string
	if s.driverName == "postgres" {
		idClause, timestampType = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	} else {
		idClause, timestampType = "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS channels (
		channel_id TEXT PRIMARY KEY,
		receiver_account_id TEXT NOT NULL,
		receiver_public_key TEXT NOT NULL,
		sender_account_id TEXT NOT NULL,
		sender_public_key TEXT NOT NULL,
		added_balance TEXT NOT NULL,
		withdrawn_balance TEXT NOT NULL,
		force_close_started %s,
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		soft_closed BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at %s NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_channels_updated_at ON channels(updated_at);

	CREATE TABLE IF NOT EXISTS signed_states (
		id %s,
		channel_id TEXT NOT NULL,
		spent_balance TEXT NOT NULL,
		signature BLOB NOT NULL,
		created_at %s NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signed_states_channel_created ON signed_states(channel_id, created_at);
	`, timestampType, timestampType, idClause, timestampType)

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLStore) GetChannel(ctx context.Context, channelID string) (ChannelRow, error) {
	q := fmt.Sprintf(`SELECT channel_id, receiver_account_id, receiver_public_key, sender_account_id, sender_public_key,
		added_balance, withdrawn_balance, force_close_started, closed, soft_closed, updated_at
		FROM channels WHERE channel_id = %s`, s.placeholder(1))

	row := s.db.QueryRowContext(ctx, q, channelID)
	return scanChannelRow(row)
}

func scanChannelRow(row *sql.Row) (ChannelRow, error) {
	var (
		r                    ChannelRow
		addedStr, withdrnStr string
		forceCloseStarted    sql.NullTime
	)
	err := row.Scan(&r.ChannelID, &r.Receiver.AccountID, &r.Receiver.PublicKey, &r.Sender.AccountID, &r.Sender.PublicKey,
		&addedStr, &withdrnStr, &forceCloseStarted, &r.Closed, &r.SoftClosed, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return ChannelRow{}, ErrNotFoundInDB
	}
	if err != nil {
		return ChannelRow{}, fmt.Errorf("store: scan channel: %w", err)
	}
	r.AddedBalance = parseBalance(addedStr)
	r.WithdrawnBalance = parseBalance(withdrnStr)
	if forceCloseStarted.Valid {
		t := forceCloseStarted.Time
		r.ForceCloseStarted = &t
	}
	return r, nil
}

func parseBalance(s string) arbiter.Balance {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return arbiter.Zero()
	}
	return arbiter.BalanceFromBigInt(n)
}

// UpsertChannel inserts a fresh row or overwrites only the mutable columns
// of an existing one. Identity columns (receiver/sender account id and
// public key) are never touched on an update — spec.md §4.4.
func (s *SQLStore) UpsertChannel(ctx context.Context, row ChannelRow) error {
	if s.driverName == "postgres" {
		q := `INSERT INTO channels (channel_id, receiver_account_id, receiver_public_key, sender_account_id, sender_public_key,
			added_balance, withdrawn_balance, force_close_started, closed, soft_closed, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (channel_id) DO UPDATE SET
				added_balance = EXCLUDED.added_balance,
				withdrawn_balance = EXCLUDED.withdrawn_balance,
				force_close_started = EXCLUDED.force_close_started,
				closed = EXCLUDED.closed,
				updated_at = EXCLUDED.updated_at`
		_, err := s.db.ExecContext(ctx, q, row.ChannelID, row.Receiver.AccountID, row.Receiver.PublicKey,
			row.Sender.AccountID, row.Sender.PublicKey, row.AddedBalance.String(), row.WithdrawnBalance.String(),
			row.ForceCloseStarted, row.Closed, row.SoftClosed, row.UpdatedAt)
		return err
	}

	q := `INSERT INTO channels (channel_id, receiver_account_id, receiver_public_key, sender_account_id, sender_public_key,
		added_balance, withdrawn_balance, force_close_started, closed, soft_closed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			added_balance = excluded.added_balance,
			withdrawn_balance = excluded.withdrawn_balance,
			force_close_started = excluded.force_close_started,
			closed = excluded.closed,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q, row.ChannelID, row.Receiver.AccountID, row.Receiver.PublicKey,
		row.Sender.AccountID, row.Sender.PublicKey, row.AddedBalance.String(), row.WithdrawnBalance.String(),
		row.ForceCloseStarted, row.Closed, row.SoftClosed, row.UpdatedAt)
	return err
}

func (s *SQLStore) TouchUpdatedAt(ctx context.Context, channelID string) error {
	q := fmt.Sprintf(`UPDATE channels SET updated_at = %s WHERE channel_id = %s`, s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, q, time.Now().UTC(), channelID)
	return err
}

func (s *SQLStore) SoftClose(ctx context.Context, channelID string) error {
	q := fmt.Sprintf(`UPDATE channels SET soft_closed = TRUE, updated_at = %s WHERE channel_id = %s`, s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, q, time.Now().UTC(), channelID)
	return err
}

func (s *SQLStore) LatestSignedState(ctx context.Context, channelID string) (SignedStateRow, bool, error) {
	q := fmt.Sprintf(`SELECT channel_id, spent_balance, signature, created_at FROM signed_states
		WHERE channel_id = %s ORDER BY created_at DESC, id DESC LIMIT 1`, s.placeholder(1))
	return s.scanLatest(s.db.QueryRowContext(ctx, q, channelID))
}

func (s *SQLStore) scanLatest(row *sql.Row) (SignedStateRow, bool, error) {
	var r SignedStateRow
	var spentStr string
	err := row.Scan(&r.ChannelID, &spentStr, &r.Signature, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return SignedStateRow{}, false, nil
	}
	if err != nil {
		return SignedStateRow{}, false, fmt.Errorf("store: scan signed state: %w", err)
	}
	r.SpentBalance = parseBalance(spentStr)
	return r, true, nil
}

// InsertSignedStateLinearized reads the channel's latest signed state and
// inserts row inside one transaction, so a concurrent admission cannot
// observe a stale "latest" — spec.md §5's linearizability requirement.
// check is the caller's monotonicity/amount validation; returning an error
// aborts the transaction without inserting.
func (s *SQLStore) InsertSignedStateLinearized(ctx context.Context, channelID string, check func(latest SignedStateRow, found bool) error, row SignedStateRow) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var softClosed bool
	stateQ := fmt.Sprintf(`SELECT soft_closed FROM channels WHERE channel_id = %s`, s.placeholder(1))
	if err := tx.QueryRowContext(ctx, stateQ, channelID).Scan(&softClosed); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: read channel state: %w", err)
	}
	if softClosed {
		return ErrSoftClosed
	}

	q := fmt.Sprintf(`SELECT channel_id, spent_balance, signature, created_at FROM signed_states
		WHERE channel_id = %s ORDER BY created_at DESC, id DESC LIMIT 1`, s.placeholder(1))
	latest, found, err := s.scanLatest(tx.QueryRowContext(ctx, q, channelID))
	if err != nil {
		return err
	}

	if err := check(latest, found); err != nil {
		return err
	}

	insertQ := fmt.Sprintf(`INSERT INTO signed_states (channel_id, spent_balance, signature, created_at) VALUES (%s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	if _, err := tx.ExecContext(ctx, insertQ, row.ChannelID, row.SpentBalance.String(), row.Signature, row.CreatedAt); err != nil {
		return fmt.Errorf("store: insert signed state: %w", err)
	}

	return tx.Commit()
}

// StaleChannels returns channel rows belonging to receiverAccountID that
// have gone untouched for longer than threshold, excluding soft-closed
// ones, newest-stale first, bounded to limit. The receiver-account
// predicate keeps one receiver process's sweep from ever picking up rows
// for a channel it is not actually a party to (spec.md §4.4).
func (s *SQLStore) StaleChannels(ctx context.Context, receiverAccountID string, threshold time.Duration, limit int) ([]ChannelRow, error) {
	cutoff := time.Now().Add(-threshold).UTC()
	q := fmt.Sprintf(`SELECT channel_id, receiver_account_id, receiver_public_key, sender_account_id, sender_public_key,
		added_balance, withdrawn_balance, force_close_started, closed, soft_closed, updated_at
		FROM channels WHERE receiver_account_id = %s AND updated_at < %s AND soft_closed = FALSE
		ORDER BY updated_at DESC LIMIT %s`, s.placeholder(1), s.placeholder(2), s.placeholder(3))

	rows, err := s.db.QueryContext(ctx, q, receiverAccountID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query stale channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelRow
	for rows.Next() {
		var (
			r                    ChannelRow
			addedStr, withdrnStr string
			forceCloseStarted    sql.NullTime
		)
		if err := rows.Scan(&r.ChannelID, &r.Receiver.AccountID, &r.Receiver.PublicKey, &r.Sender.AccountID, &r.Sender.PublicKey,
			&addedStr, &withdrnStr, &forceCloseStarted, &r.Closed, &r.SoftClosed, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan stale channel: %w", err)
		}
		r.AddedBalance = parseBalance(addedStr)
		r.WithdrawnBalance = parseBalance(withdrnStr)
		if forceCloseStarted.Valid {
			t := forceCloseStarted.Time
			r.ForceCloseStarted = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
