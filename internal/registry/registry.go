// Package registry owns the durable record of every bet.
//
// The registry is the single writer of truth: the lifecycle engine reads
// through Get and writes through Update under its own guards; the registry
// itself performs no authorization. State is held in memory for cheap reads
// and scans, with every mutation written through to a SQLite database so
// terminal bets, fee accruals and the id counter survive restarts.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"betvault/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS bets (
    id                     INTEGER PRIMARY KEY,
    maker                  TEXT     NOT NULL,
    taker                  TEXT     NOT NULL DEFAULT '',
    collateral_asset       TEXT     NOT NULL,
    amount                 INTEGER  NOT NULL,
    deadline               INTEGER  NOT NULL,
    status                 TEXT     NOT NULL,
    oracle_kind            TEXT     NOT NULL,
    oracle_main            TEXT     NOT NULL,
    oracle_secondary       TEXT     NOT NULL DEFAULT '',
    fee_tier               INTEGER  NOT NULL DEFAULT 0,
    price_line             INTEGER  NOT NULL,
    comparator             TEXT     NOT NULL,
    maker_cancel_requested INTEGER  NOT NULL DEFAULT 0,
    taker_cancel_requested INTEGER  NOT NULL DEFAULT 0,
    created_at             INTEGER  NOT NULL
);

CREATE TABLE IF NOT EXISTS fee_accruals (
    asset  TEXT    PRIMARY KEY,
    amount INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS participants (
    identity TEXT    NOT NULL,
    bet_id   INTEGER NOT NULL,
    PRIMARY KEY (identity, bet_id)
);

CREATE TABLE IF NOT EXISTS params (
    key   TEXT    PRIMARY KEY,
    value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    seq     INTEGER PRIMARY KEY AUTOINCREMENT,
    type    TEXT    NOT NULL,
    bet_id  INTEGER NOT NULL,
    at      INTEGER NOT NULL,
    payload TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bets_status     ON bets(status);
CREATE INDEX IF NOT EXISTS idx_events_bet      ON events(bet_id);
CREATE INDEX IF NOT EXISTS idx_participants_id ON participants(identity);
`

// Registry holds all bet state. All operations are mutex-protected; the
// lifecycle engine additionally serializes its own read-modify-write cycles,
// so the registry only needs to keep individual operations consistent.
type Registry struct {
	db *sql.DB
	mu sync.RWMutex

	bets       map[types.BetID]types.Bet
	lastID     types.BetID
	feeAccrual map[string]int64          // asset → withheld fees pending sweep
	byIdentity map[string][]types.BetID  // append-only participation index
	feeBps     int
}

// Open opens (or creates) the registry database at the given path and loads
// all durable state into memory. The initial fee is only applied the first
// time the database is created; afterwards the persisted value wins.
func Open(path string, initialFeeBps int) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: apply schema: %w", err)
	}

	r := &Registry{
		db:         db,
		bets:       make(map[types.BetID]types.Bet),
		feeAccrual: make(map[string]int64),
		byIdentity: make(map[string][]types.BetID),
		feeBps:     initialFeeBps,
	}
	if err := r.load(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) load(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, maker, taker, collateral_asset, amount, deadline, status,
		       oracle_kind, oracle_main, oracle_secondary, fee_tier,
		       price_line, comparator, maker_cancel_requested,
		       taker_cancel_requested, created_at
		FROM bets`)
	if err != nil {
		return fmt.Errorf("registry: load bets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b types.Bet
		var deadline, createdAt int64
		if err := rows.Scan(
			&b.ID, &b.Maker, &b.Taker, &b.CollateralAsset, &b.Amount,
			&deadline, &b.Status, &b.OracleKind, &b.OracleMain,
			&b.OracleSecondary, &b.FeeTier, &b.PriceLine, &b.Comparator,
			&b.MakerCancelRequested, &b.TakerCancelRequested, &createdAt,
		); err != nil {
			return fmt.Errorf("registry: scan bet: %w", err)
		}
		b.Deadline = time.Unix(deadline, 0).UTC()
		b.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.bets[b.ID] = b
		if b.ID > r.lastID {
			r.lastID = b.ID
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("registry: load bets: %w", err)
	}

	accruals, err := r.db.QueryContext(ctx, `SELECT asset, amount FROM fee_accruals`)
	if err != nil {
		return fmt.Errorf("registry: load accruals: %w", err)
	}
	defer accruals.Close()
	for accruals.Next() {
		var asset string
		var amount int64
		if err := accruals.Scan(&asset, &amount); err != nil {
			return fmt.Errorf("registry: scan accrual: %w", err)
		}
		r.feeAccrual[asset] = amount
	}
	if err := accruals.Err(); err != nil {
		return fmt.Errorf("registry: load accruals: %w", err)
	}

	parts, err := r.db.QueryContext(ctx, `SELECT identity, bet_id FROM participants ORDER BY bet_id`)
	if err != nil {
		return fmt.Errorf("registry: load participants: %w", err)
	}
	defer parts.Close()
	for parts.Next() {
		var identity string
		var id types.BetID
		if err := parts.Scan(&identity, &id); err != nil {
			return fmt.Errorf("registry: scan participant: %w", err)
		}
		r.byIdentity[identity] = append(r.byIdentity[identity], id)
	}
	if err := parts.Err(); err != nil {
		return fmt.Errorf("registry: load participants: %w", err)
	}

	var feeBps int64
	err = r.db.QueryRowContext(ctx, `SELECT value FROM params WHERE key = 'fee_bps'`).Scan(&feeBps)
	switch {
	case err == sql.ErrNoRows:
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO params (key, value) VALUES ('fee_bps', ?)`, r.feeBps); err != nil {
			return fmt.Errorf("registry: seed fee_bps: %w", err)
		}
	case err != nil:
		return fmt.Errorf("registry: load fee_bps: %w", err)
	default:
		r.feeBps = int(feeBps)
	}

	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Bets
// ————————————————————————————————————————————————————————————————————————

// Create allocates the next sequential id, stores the bet in WaitingForTaker
// and records both (known) parties in the participation index. The caller
// supplies everything except ID and Status.
func (r *Registry) Create(ctx context.Context, bet types.Bet) (types.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bet.ID = r.lastID + 1
	bet.Status = types.StatusWaitingForTaker

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Bet{}, fmt.Errorf("registry: create: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bets
			(id, maker, taker, collateral_asset, amount, deadline, status,
			 oracle_kind, oracle_main, oracle_secondary, fee_tier,
			 price_line, comparator, maker_cancel_requested,
			 taker_cancel_requested, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bet.ID, bet.Maker, bet.Taker, bet.CollateralAsset, bet.Amount,
		bet.Deadline.Unix(), bet.Status, bet.OracleKind, bet.OracleMain,
		bet.OracleSecondary, bet.FeeTier, bet.PriceLine, bet.Comparator,
		bet.MakerCancelRequested, bet.TakerCancelRequested, bet.CreatedAt.Unix(),
	); err != nil {
		return types.Bet{}, fmt.Errorf("registry: insert bet: %w", err)
	}

	participants := []string{bet.Maker}
	if bet.Taker != "" {
		participants = append(participants, bet.Taker)
	}
	for _, identity := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO participants (identity, bet_id) VALUES (?, ?)`,
			identity, bet.ID); err != nil {
			return types.Bet{}, fmt.Errorf("registry: index participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Bet{}, fmt.Errorf("registry: create: commit: %w", err)
	}

	r.lastID = bet.ID
	r.bets[bet.ID] = bet
	for _, identity := range participants {
		r.byIdentity[identity] = append(r.byIdentity[identity], bet.ID)
	}
	return bet, nil
}

// Get returns a copy of the bet. It fails with ErrNotFound for id 0, ids
// beyond the highest allocated one, or uninitialized slots.
func (r *Registry) Get(id types.BetID) (types.Bet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bet, ok := r.bets[id]
	if !ok {
		return types.Bet{}, fmt.Errorf("registry: bet %d: %w", id, types.ErrNotFound)
	}
	return bet, nil
}

// Update persists a full-row mutation of an existing bet. It is only ever
// invoked by the lifecycle engine under its guards and performs no
// authorization itself.
func (r *Registry) Update(ctx context.Context, bet types.Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bets[bet.ID]; !ok {
		return fmt.Errorf("registry: bet %d: %w", bet.ID, types.ErrNotFound)
	}
	if err := r.writeBet(ctx, r.db, bet); err != nil {
		return err
	}
	r.bets[bet.ID] = bet
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// writeBet persists the full row, mirroring exactly what the in-memory map
// caches, so a reload always reproduces the state the caller committed.
func (r *Registry) writeBet(ctx context.Context, db execer, bet types.Bet) error {
	if _, err := db.ExecContext(ctx, `
		UPDATE bets SET
			maker                  = ?,
			taker                  = ?,
			collateral_asset       = ?,
			amount                 = ?,
			deadline               = ?,
			status                 = ?,
			oracle_kind            = ?,
			oracle_main            = ?,
			oracle_secondary       = ?,
			fee_tier               = ?,
			price_line             = ?,
			comparator             = ?,
			maker_cancel_requested = ?,
			taker_cancel_requested = ?,
			created_at             = ?
		WHERE id = ?`,
		bet.Maker, bet.Taker, bet.CollateralAsset, bet.Amount,
		bet.Deadline.Unix(), bet.Status, bet.OracleKind, bet.OracleMain,
		bet.OracleSecondary, bet.FeeTier, bet.PriceLine, bet.Comparator,
		bet.MakerCancelRequested, bet.TakerCancelRequested,
		bet.CreatedAt.Unix(), bet.ID,
	); err != nil {
		return fmt.Errorf("registry: update bet %d: %w", bet.ID, err)
	}
	return nil
}

// AddParticipant records identity's participation in the bet. The index is
// append-only and never consulted for authorization.
func (r *Registry) AddParticipant(ctx context.Context, identity string, id types.BetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO participants (identity, bet_id) VALUES (?, ?)`,
		identity, id); err != nil {
		return fmt.Errorf("registry: index participant: %w", err)
	}
	for _, existing := range r.byIdentity[identity] {
		if existing == id {
			return nil
		}
	}
	r.byIdentity[identity] = append(r.byIdentity[identity], id)
	return nil
}

// BetsOf returns the ids of all bets identity has participated in, in
// creation order.
func (r *Registry) BetsOf(identity string) []types.BetID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]types.BetID, len(r.byIdentity[identity]))
	copy(ids, r.byIdentity[identity])
	return ids
}

// LastID returns the highest allocated bet id (0 if none).
func (r *Registry) LastID() types.BetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastID
}

// ScanEligible returns up to max bet ids whose status is InProcess and whose
// deadline has passed, scanning ids from 1 upward and stopping early once
// max matches are found.
func (r *Registry) ScanEligible(now time.Time, max int) []types.BetID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []types.BetID
	for id := types.BetID(1); id <= r.lastID && len(ids) < max; id++ {
		bet, ok := r.bets[id]
		if !ok {
			continue
		}
		if bet.Status == types.StatusInProcess && !now.Before(bet.Deadline) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ————————————————————————————————————————————————————————————————————————
// Fee parameter and accrual
// ————————————————————————————————————————————————————————————————————————

// FeeBps returns the current protocol fee in basis points.
func (r *Registry) FeeBps() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeBps
}

// SetFeeBps updates the protocol fee. The engine guards it with the
// owner-only check; the registry only enforces the range.
func (r *Registry) SetFeeBps(ctx context.Context, bps int) error {
	if bps < 0 || bps >= 10000 {
		return fmt.Errorf("registry: fee %d bps out of range: %w", bps, types.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx,
		`UPDATE params SET value = ? WHERE key = 'fee_bps'`, bps); err != nil {
		return fmt.Errorf("registry: set fee_bps: %w", err)
	}
	r.feeBps = bps
	return nil
}

// FeeAccrual returns the fees withheld for the given asset pending sweep.
func (r *Registry) FeeAccrual(asset string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeAccrual[asset]
}

// TakeFee deducts amount from the asset's fee accrual for an owner sweep.
// Fails with ErrInsufficientFunds if the accrual cannot cover it.
func (r *Registry) TakeFee(ctx context.Context, asset string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance := r.feeAccrual[asset]
	if amount <= 0 {
		return fmt.Errorf("registry: sweep amount %d: %w", amount, types.ErrInvalidInput)
	}
	if amount > balance {
		return fmt.Errorf("registry: sweep %d exceeds accrued %d for %s: %w",
			amount, balance, asset, types.ErrInsufficientFunds)
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE fee_accruals SET amount = amount - ? WHERE asset = ?`, amount, asset); err != nil {
		return fmt.Errorf("registry: take fee: %w", err)
	}
	r.feeAccrual[asset] = balance - amount
	return nil
}

// RestoreFee re-adds a previously taken fee amount. Used by the engine to
// roll back a sweep whose payout transfer failed.
func (r *Registry) RestoreFee(ctx context.Context, asset string, amount int64) error {
	return r.addFee(ctx, asset, amount)
}

func (r *Registry) addFee(ctx context.Context, asset string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO fee_accruals (asset, amount) VALUES (?, ?)
		ON CONFLICT(asset) DO UPDATE SET amount = amount + excluded.amount`,
		asset, amount); err != nil {
		return fmt.Errorf("registry: add fee: %w", err)
	}
	r.feeAccrual[asset] += amount
	return nil
}

// ApplySettlement commits a settlement atomically: the bet's transition to
// its paid status and the fee accrual land in one database transaction.
func (r *Registry) ApplySettlement(ctx context.Context, bet types.Bet, feeAmount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bets[bet.ID]; !ok {
		return fmt.Errorf("registry: bet %d: %w", bet.ID, types.ErrNotFound)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: settlement: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := r.writeBet(ctx, tx, bet); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fee_accruals (asset, amount) VALUES (?, ?)
		ON CONFLICT(asset) DO UPDATE SET amount = amount + excluded.amount`,
		bet.CollateralAsset, feeAmount); err != nil {
		return fmt.Errorf("registry: settlement fee: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: settlement: commit: %w", err)
	}

	r.bets[bet.ID] = bet
	r.feeAccrual[bet.CollateralAsset] += feeAmount
	return nil
}

// RevertSettlement rolls a settlement back after a failed payout transfer:
// the prior bet row is restored and the fee accrual is deducted again.
func (r *Registry) RevertSettlement(ctx context.Context, prior types.Bet, feeAmount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: revert settlement: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := r.writeBet(ctx, tx, prior); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE fee_accruals SET amount = amount - ? WHERE asset = ?`,
		feeAmount, prior.CollateralAsset); err != nil {
		return fmt.Errorf("registry: revert settlement fee: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: revert settlement: commit: %w", err)
	}

	r.bets[prior.ID] = prior
	r.feeAccrual[prior.CollateralAsset] -= feeAmount
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Audit log
// ————————————————————————————————————————————————————————————————————————

// AppendEvent persists one audit log entry. The log is append-only; nothing
// ever deletes from it.
func (r *Registry) AppendEvent(ctx context.Context, ev types.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("registry: marshal event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO events (type, bet_id, at, payload) VALUES (?, ?, ?, ?)`,
		ev.Type, ev.BetID, ev.At.Unix(), string(payload)); err != nil {
		return fmt.Errorf("registry: append event: %w", err)
	}
	return nil
}

// EventsFor returns the audit log entries for a bet in append order.
func (r *Registry) EventsFor(ctx context.Context, id types.BetID) ([]types.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE bet_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("registry: query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("registry: scan event: %w", err)
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("registry: unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: query events: %w", err)
	}
	return events, nil
}

// Assets returns every collateral asset with a nonzero fee accrual, sorted.
// Used by the admin surface to report sweepable balances.
func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var assets []string
	for asset, amount := range r.feeAccrual {
		if amount > 0 {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)
	return assets
}
