// Package ledger is the authoritative table of orders and their remaining
// shares, persisted in SQLite so the server role and the panel editor can
// share it across processes without shared memory.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an order id has no ledger row.
var ErrNotFound = errors.New("order not found in ledger")

// FieldChange records one field's value before and after an upsert.
type FieldChange struct {
	Old string
	New string
}

// Diff maps field name to change for the fields an upsert touched. An
// inserted row diffs every field against the empty string.
type Diff map[string]FieldChange

// Ledger provides row-level access to the order table.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return l, nil
}

func (l *Ledger) migrate() error {
	// seq, not order_id, is the primary key: an INTEGER PRIMARY KEY aliases
	// rowid in SQLite, which would make row order follow order id instead of
	// insertion order and shift row indices whenever a lower id is inserted.
	query := `CREATE TABLE IF NOT EXISTS orders (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL UNIQUE,
		is_active INTEGER NOT NULL,
		uuid INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		shares INTEGER NOT NULL,
		price TEXT NOT NULL
	)`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

// ReadAll returns every row in insertion order. The ordinal position of a
// row in this slice is the row index the change-notification artifact
// refers to.
func (l *Ledger) ReadAll(ctx context.Context) ([]OrderSnapshot, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT order_id, is_active, uuid, symbol, side, shares, price FROM orders ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Get returns the row for orderID, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, orderID int64) (OrderSnapshot, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT order_id, is_active, uuid, symbol, side, shares, price FROM orders WHERE order_id = ?`,
		orderID,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OrderSnapshot{}, ErrNotFound
	}
	return snap, err
}

// FindByClientID returns the active rows belonging to a client identifier.
func (l *Ledger) FindByClientID(ctx context.Context, clientID int64) ([]OrderSnapshot, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT order_id, is_active, uuid, symbol, side, shares, price
		 FROM orders WHERE uuid = ? AND is_active = 1 ORDER BY seq`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for client %d: %w", clientID, err)
	}
	defer rows.Close()

	var out []OrderSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the row for snap.OrderID and returns the
// field-level diff against the previous row state.
func (l *Ledger) Upsert(ctx context.Context, snap OrderSnapshot) (Diff, error) {
	prev, err := l.Get(ctx, snap.OrderID)
	inserted := false
	switch {
	case errors.Is(err, ErrNotFound):
		prev, inserted = OrderSnapshot{}, true
	case err != nil:
		return nil, err
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO orders (order_id, is_active, uuid, symbol, side, shares, price)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(order_id) DO UPDATE SET
			is_active = excluded.is_active,
			uuid = excluded.uuid,
			symbol = excluded.symbol,
			side = excluded.side,
			shares = excluded.shares,
			price = excluded.price`,
		snap.OrderID, boolToInt(snap.IsActive), snap.ClientID, snap.Symbol,
		string(snap.Side), snap.Shares, snap.Price.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert order %d: %w", snap.OrderID, err)
	}

	return diffSnapshots(prev, snap, inserted), nil
}

// SeedIfEmpty inserts rows only when the table has no rows yet, so a demo
// ledger survives restarts without being re-seeded over edits.
func (l *Ledger) SeedIfEmpty(ctx context.Context, rows []OrderSnapshot) error {
	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count orders: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, snap := range rows {
		if _, err := l.Upsert(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// LastModified returns the modification time of the backing database file.
func (l *Ledger) LastModified() (time.Time, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat ledger file: %w", err)
	}
	return info.ModTime(), nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (OrderSnapshot, error) {
	var snap OrderSnapshot
	var active int
	var side, price string
	if err := row.Scan(&snap.OrderID, &active, &snap.ClientID, &snap.Symbol, &side, &snap.Shares, &price); err != nil {
		return OrderSnapshot{}, err
	}
	snap.IsActive = active != 0
	snap.Side = Side(side)
	p, err := decimal.NewFromString(price)
	if err != nil {
		return OrderSnapshot{}, fmt.Errorf("order %d has malformed price %q: %w", snap.OrderID, price, err)
	}
	snap.Price = p
	return snap, nil
}

func diffSnapshots(prev, next OrderSnapshot, inserted bool) Diff {
	old := func(v string) string {
		if inserted {
			return ""
		}
		return v
	}
	d := Diff{}
	add := func(field, oldVal, newVal string) {
		if oldVal != newVal {
			d[field] = FieldChange{Old: oldVal, New: newVal}
		}
	}
	add("order_id", old(strconv.FormatInt(prev.OrderID, 10)), strconv.FormatInt(next.OrderID, 10))
	add("is_active", old(strconv.FormatBool(prev.IsActive)), strconv.FormatBool(next.IsActive))
	add("uuid", old(strconv.FormatInt(prev.ClientID, 10)), strconv.FormatInt(next.ClientID, 10))
	add("symbol", old(prev.Symbol), next.Symbol)
	add("side", old(string(prev.Side)), string(next.Side))
	add("shares", old(strconv.FormatInt(prev.Shares, 10)), strconv.FormatInt(next.Shares, 10))
	add("price", old(prev.Price.String()), next.Price.String())
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
