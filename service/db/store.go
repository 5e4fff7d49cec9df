package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/metrics"
	"github.com/brojonat/walletfeed/service/profiles"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres implementation of the feed store, the outbox store
// and the profile cache storage.
type Store struct {
	pool     *pgxpool.Pool
	metrics  *metrics.Metrics
	watchers watchers
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Pool exposes the underlying pool for callers that manage its lifecycle.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ready returns once the database answers pings.
func (s *Store) Ready(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Watch registers fn to be called after every successful write.
func (s *Store) Watch(fn func(*feed.Event)) func() {
	return s.watchers.add(fn)
}

const eventColumns = `id, type, tx_type, status, otpl_status, date, created_date,
	receipt_received, fetched_outbox, data`

func scanEvent(row pgx.Row) (*feed.Event, error) {
	var (
		ev      feed.Event
		rawData []byte
	)
	err := row.Scan(
		&ev.ID,
		&ev.Type,
		&ev.TxType,
		&ev.Status,
		&ev.OTPLStatus,
		&ev.Date,
		&ev.CreatedDate,
		&ev.ReceiptReceived,
		&ev.FetchedOutbox,
		&rawData,
	)
	if err != nil {
		return nil, err
	}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &ev.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data of %s: %w", ev.ID, err)
		}
	}
	ev.Date = feed.Timestamp(ev.Date)
	ev.CreatedDate = feed.Timestamp(ev.CreatedDate)
	return &ev, nil
}

// Read returns the record with id, or (nil, nil) when it does not exist.
func (s *Store) Read(ctx context.Context, id string) (*feed.Event, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM feed_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery("read", "feed_events", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed event %s: %w", id, err)
	}
	return ev, nil
}

// ReadByPaymentID returns the record that created the payment link, or
// (nil, nil) when none is known.
func (s *Store) ReadByPaymentID(ctx context.Context, paymentID string) (*feed.Event, error) {
	if paymentID == "" {
		return nil, nil
	}
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM feed_events
		WHERE payment_id = $1
		ORDER BY created_date
		LIMIT 1`, paymentID)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery("read_by_payment_id", "feed_events", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed event by payment id: %w", err)
	}
	return ev, nil
}

// Write inserts or replaces the record.
func (s *Store) Write(ctx context.Context, ev *feed.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to encode data of %s: %w", ev.ID, err)
	}
	var paymentID *string
	if ev.Data.PaymentID != "" {
		paymentID = &ev.Data.PaymentID
	}

	start := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO feed_events (id, type, tx_type, status, otpl_status, date, created_date,
			payment_id, receipt_received, fetched_outbox, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			tx_type = EXCLUDED.tx_type,
			status = EXCLUDED.status,
			otpl_status = EXCLUDED.otpl_status,
			date = EXCLUDED.date,
			created_date = EXCLUDED.created_date,
			payment_id = EXCLUDED.payment_id,
			receipt_received = EXCLUDED.receipt_received,
			fetched_outbox = EXCLUDED.fetched_outbox,
			data = EXCLUDED.data,
			updated_at = NOW()`,
		ev.ID,
		string(ev.Type),
		string(ev.TxType),
		string(ev.Status),
		string(ev.OTPLStatus),
		ev.Date,
		ev.CreatedDate,
		paymentID,
		ev.ReceiptReceived,
		ev.FetchedOutbox,
		data,
	)
	s.metrics.RecordDBQuery("write", "feed_events", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to write feed event %s: %w", ev.ID, err)
	}

	s.watchers.notify(ev)
	return nil
}

// GetFeedPage returns up to count visible records after skipping cursor,
// newest first.
func (s *Store) GetFeedPage(ctx context.Context, count, cursor int, category feed.Category) ([]*feed.Event, error) {
	if count <= 0 || cursor < 0 {
		return nil, nil
	}
	query := `SELECT ` + eventColumns + ` FROM feed_events WHERE status <> $1`
	args := []any{string(feed.StatusDeleted)}

	rewardTypes := make([]string, len(feed.RewardTypes))
	for i, t := range feed.RewardTypes {
		rewardTypes[i] = string(t)
	}
	switch category {
	case feed.CategoryRewards:
		query += ` AND type = ANY($2)`
		args = append(args, rewardTypes)
	case feed.CategoryTransactions:
		query += ` AND NOT (type = ANY($2))`
		args = append(args, rewardTypes)
	}
	query += fmt.Sprintf(` ORDER BY date DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, count, cursor)

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.metrics.RecordDBQuery("page", "feed_events", time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to query feed page: %w", err)
	}
	defer rows.Close()

	var events []*feed.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed event: %w", err)
		}
		events = append(events, ev)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("page", "feed_events", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate feed page: %w", err)
	}
	return events, nil
}

// ListUnconfirmed returns ids of on-chain records that never had a receipt
// merged, newest first.
func (s *Store) ListUnconfirmed(ctx context.Context, limit int) ([]string, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM feed_events
		WHERE NOT receipt_received
			AND id LIKE '0x%'
			AND type <> $1
			AND status <> $2
		ORDER BY date DESC
		LIMIT $3`,
		string(feed.ItemNews), string(feed.StatusDeleted), limit)
	if err != nil {
		s.metrics.RecordDBQuery("list_unconfirmed", "feed_events", time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list unconfirmed events: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	s.metrics.RecordDBQuery("list_unconfirmed", "feed_events", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list unconfirmed events: %w", err)
	}
	return ids, nil
}

// AddToOutbox stores a sealed entry for the recipient.
func (s *Store) AddToOutbox(ctx context.Context, recipientKey, txID, ciphertext string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox (recipient_key, tx_id, ciphertext)
		VALUES ($1, $2, $3)
		ON CONFLICT (recipient_key, tx_id) DO UPDATE SET ciphertext = EXCLUDED.ciphertext`,
		recipientKey, txID, ciphertext)
	s.metrics.RecordDBQuery("write", "outbox", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}
	return nil
}

// GetFromOutbox returns the sealed entry, or "" when there is none.
func (s *Store) GetFromOutbox(ctx context.Context, recipientKey, txID string) (string, error) {
	var ciphertext string
	start := time.Now()
	err := s.pool.QueryRow(ctx,
		`SELECT ciphertext FROM outbox WHERE recipient_key = $1 AND tx_id = $2`,
		recipientKey, txID).Scan(&ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery("read", "outbox", time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("failed to read outbox entry: %w", err)
	}
	return ciphertext, nil
}

// ReadProfile returns the cached profile, or (nil, nil).
func (s *Store) ReadProfile(ctx context.Context, address string) (*profiles.Profile, error) {
	p := profiles.Profile{Address: address}
	start := time.Now()
	err := s.pool.QueryRow(ctx,
		`SELECT display_name, avatar, last_updated FROM profiles WHERE address = $1`,
		address).Scan(&p.DisplayName, &p.Avatar, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		s.metrics.RecordDBQuery("read", "profiles", time.Since(start).Seconds(), nil)
		return nil, nil
	}
	s.metrics.RecordDBQuery("read", "profiles", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return &p, nil
}

// WriteProfile upserts a cached profile.
func (s *Store) WriteProfile(ctx context.Context, p profiles.Profile) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (address, display_name, avatar, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar = EXCLUDED.avatar,
			last_updated = EXCLUDED.last_updated`,
		p.Address, p.DisplayName, p.Avatar, p.LastUpdated)
	s.metrics.RecordDBQuery("write", "profiles", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
