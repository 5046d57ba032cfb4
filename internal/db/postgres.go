package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stepmesh/proof-engine/pkg/models"
)

// schemaSQL is compiled into the binary so schema init works in runtime
// images that do not ship the source tree.
//
//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateNonce reports a replayed (account, nonce) pair, detected
	// by the unique index during commit.
	ErrDuplicateNonce = errors.New("duplicate (account, nonce)")
	// ErrTriangleInactive reports a click against a triangle that is
	// missing, already subdivided, or concurrently filled.
	ErrTriangleInactive = errors.New("triangle is not active")
)

const uniqueViolation = "23505"

// Store owns every persisted record. All mutation happens through the
// single CommitClick transaction.
type Store struct {
	pool        *pgxpool.Pool
	connectedAt time.Time

	mu          sync.Mutex
	lastErrorAt time.Time
	lastError   string
}

// Connect builds the pgx pool (2..10 connections) and pings it, retrying
// until the startup wait budget is spent.
func Connect(ctx context.Context, connStr string, wait time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MinConns = 2
	cfg.MaxConns = 10

	deadline := time.Now().Add(wait)
	for {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Println("Connected to PostgreSQL")
				return &Store{pool: pool, connectedAt: time.Now().UTC()}, nil
			}
			pool.Close()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("database unreachable after %s: %w", wait, err)
		}
		log.Printf("Database not ready, retrying: %v", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the embedded DDL. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return s.noteErr(fmt.Errorf("applying schema: %w", err))
	}
	log.Println("Mesh validator schema initialized")
	return nil
}

// Health snapshots connection state for the /health endpoint.
func (s *Store) Health(ctx context.Context) models.DBHealth {
	h := models.DBHealth{Status: "connected"}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(pingCtx); err != nil {
		h.Status = "disconnected"
		s.noteErr(err)
	}
	connected := s.connectedAt
	h.ConnectedAt = &connected

	s.mu.Lock()
	if !s.lastErrorAt.IsZero() {
		at := s.lastErrorAt
		h.LastErrorAt = &at
		h.LastError = s.lastError
	}
	s.mu.Unlock()

	stat := s.pool.Stat()
	h.Info = map[string]any{
		"totalConns": stat.TotalConns(),
		"idleConns":  stat.IdleConns(),
		"maxConns":   stat.MaxConns(),
	}
	return h
}

func (s *Store) noteErr(err error) error {
	s.mu.Lock()
	s.lastErrorAt = time.Now().UTC()
	s.lastError = err.Error()
	s.mu.Unlock()
	return err
}

// UpsertTriangle materializes a triangle record if absent. Used for seeding
// root faces and operator-designated cells; existing rows are untouched so
// click counts survive restarts.
func (s *Store) UpsertTriangle(ctx context.Context, t *models.Triangle) error {
	polygon, err := json.Marshal(t.Polygon)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO triangles
			(id, face, level, path, parent_id, children, state, clicks,
			 moratorium_start_at, centroid_lat, centroid_lon, polygon)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING;
	`, t.ID, t.Face, t.Level, t.Path, t.ParentID, t.Children, t.State,
		t.Clicks, t.MoratoriumStartAt, t.CentroidLat, t.CentroidLon, polygon)
	if err != nil {
		return s.noteErr(fmt.Errorf("upserting triangle %s: %w", t.ID, err))
	}
	return nil
}

const triangleColumns = `id, face, level, path, parent_id, children, state, clicks,
	moratorium_start_at, last_click_at, centroid_lat, centroid_lon, polygon`

// GetTriangle fetches one triangle by canonical id.
func (s *Store) GetTriangle(ctx context.Context, id string) (*models.Triangle, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+triangleColumns+` FROM triangles WHERE id = $1`, id)
	t, err := scanTriangle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.noteErr(fmt.Errorf("fetching triangle %s: %w", id, err))
	}
	return t, nil
}

func scanTriangle(row pgx.Row) (*models.Triangle, error) {
	var t models.Triangle
	var polygon []byte
	err := row.Scan(&t.ID, &t.Face, &t.Level, &t.Path, &t.ParentID, &t.Children,
		&t.State, &t.Clicks, &t.MoratoriumStartAt, &t.LastClickAt,
		&t.CentroidLat, &t.CentroidLon, &polygon)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(polygon, &t.Polygon); err != nil {
		return nil, fmt.Errorf("decoding polygon of %s: %w", t.ID, err)
	}
	return &t, nil
}

// HasEvent is the cheap nonce pre-check. The unique index remains the
// authority under concurrency.
func (s *Store) HasEvent(ctx context.Context, account, nonce string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE account = $1 AND nonce = $2)`,
		account, nonce).Scan(&exists)
	if err != nil {
		return false, s.noteErr(fmt.Errorf("nonce pre-check: %w", err))
	}
	return exists, nil
}

// LastClick returns the account's most recent click event, or nil.
func (s *Store) LastClick(ctx context.Context, account string) (*models.Event, error) {
	var ev models.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, triangle_id, kind, ts, account, nonce, COALESCE(signature, ''), payload
		FROM events
		WHERE account = $1 AND kind = 'click'
		ORDER BY ts DESC
		LIMIT 1
	`, account).Scan(&ev.ID, &ev.TriangleID, &ev.Kind, &ev.Timestamp,
		&ev.Account, &ev.Nonce, &ev.Signature, &ev.Payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.noteErr(fmt.Errorf("fetching last click: %w", err))
	}
	return &ev, nil
}

// CommitClick runs the atomic state transition for one accepted proof:
//
//  1. insert the click event (the unique index resolves concurrent
//     duplicates: exactly one writer wins);
//  2. increment the triangle click count; when the new count reaches
//     exactly 11, insert the four children built by childBuilder, retire
//     the parent, and append the subdivide audit event;
//  3. credit the reward to the account, creating it on first use.
//
// All three commit or none. A nil childBuilder marks a cell that cannot
// subdivide (the deepest level): its 11th click is accepted and the cell
// saturates, staying active with the click guard rejecting everything after.
func (s *Store) CommitClick(ctx context.Context, ev *models.Event, rewardMicro *big.Int,
	childBuilder func() ([]*models.Triangle, error)) (*models.ClickOutcome, error) {

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.noteErr(fmt.Errorf("beginning click transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, triangle_id, kind, ts, account, nonce, signature, payload)
		VALUES ($1, $2, 'click', $3, $4, $5, $6, $7)
	`, ev.ID, ev.TriangleID, ev.Timestamp, ev.Account, ev.Nonce, ev.Signature, ev.Payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateNonce
		}
		return nil, s.noteErr(fmt.Errorf("inserting click event: %w", err))
	}

	outcome := &models.ClickOutcome{}
	err = tx.QueryRow(ctx, `
		UPDATE triangles
		SET clicks = clicks + 1, last_click_at = $2
		WHERE id = $1 AND state = 'active' AND clicks < 11
		RETURNING clicks
	`, ev.TriangleID, ev.Timestamp).Scan(&outcome.Clicks)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTriangleInactive
	}
	if err != nil {
		return nil, s.noteErr(fmt.Errorf("incrementing clicks: %w", err))
	}
	outcome.State = models.TriangleActive

	if outcome.Clicks == models.ClicksToSubdivide && childBuilder != nil {
		if err := s.subdivide(ctx, tx, ev, outcome, childBuilder); err != nil {
			return nil, err
		}
	}

	var balanceText string
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (address, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
		RETURNING balance::text
	`, ev.Account, rewardMicro.String()).Scan(&balanceText)
	if err != nil {
		return nil, s.noteErr(fmt.Errorf("crediting account: %w", err))
	}
	balance, ok := new(big.Int).SetString(balanceText, 10)
	if !ok {
		return nil, fmt.Errorf("unparseable balance %q", balanceText)
	}
	outcome.Balance = balance

	if err := tx.Commit(ctx); err != nil {
		return nil, s.noteErr(fmt.Errorf("committing click transaction: %w", err))
	}
	return outcome, nil
}

// subdivide runs inside the click transaction once the count hits 11.
func (s *Store) subdivide(ctx context.Context, tx pgx.Tx, ev *models.Event,
	outcome *models.ClickOutcome, childBuilder func() ([]*models.Triangle, error)) error {

	children, err := childBuilder()
	if err != nil {
		return fmt.Errorf("building children of %s: %w", ev.TriangleID, err)
	}
	childIDs := make([]string, 0, len(children))
	var childLevel int
	for _, c := range children {
		polygon, err := json.Marshal(c.Polygon)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO triangles
				(id, face, level, path, parent_id, children, state, clicks,
				 moratorium_start_at, centroid_lat, centroid_lon, polygon)
			VALUES ($1, $2, $3, $4, $5, '{}', 'active', 0, $6, $7, $8, $9)
		`, c.ID, c.Face, c.Level, c.Path, c.ParentID, ev.Timestamp,
			c.CentroidLat, c.CentroidLon, polygon)
		if err != nil {
			return s.noteErr(fmt.Errorf("inserting child %s: %w", c.ID, err))
		}
		childIDs = append(childIDs, c.ID)
		childLevel = c.Level
	}

	if _, err := tx.Exec(ctx, `
		UPDATE triangles SET state = 'subdivided', children = $2 WHERE id = $1
	`, ev.TriangleID, childIDs); err != nil {
		return s.noteErr(fmt.Errorf("retiring parent %s: %w", ev.TriangleID, err))
	}

	subdivideID := uuid.NewString()
	payload, err := json.Marshal(models.SubdivideEventPayload{
		ParentID: ev.TriangleID,
		ChildIDs: childIDs,
		OldLevel: childLevel - 1,
		NewLevel: childLevel,
	})
	if err != nil {
		return err
	}
	// account='system', nonce=event id: keeps the row admissible under the
	// (account, nonce) uniqueness constraint.
	if _, err := tx.Exec(ctx, `
		INSERT INTO events (id, triangle_id, kind, ts, account, nonce, payload)
		VALUES ($1, $2, 'subdivide', $3, $4, $1, $5)
	`, subdivideID, ev.TriangleID, ev.Timestamp, models.SystemAccount, payload); err != nil {
		return s.noteErr(fmt.Errorf("inserting subdivide event: %w", err))
	}

	outcome.State = models.TriangleSubdivided
	outcome.Subdivided = true
	outcome.ChildIDs = childIDs
	return nil
}

// GetBalance returns an account's micro-STEP balance (zero if absent).
func (s *Store) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM accounts WHERE address = $1`, address).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, s.noteErr(fmt.Errorf("fetching balance: %w", err))
	}
	balance, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("unparseable balance %q", text)
	}
	return balance, nil
}
