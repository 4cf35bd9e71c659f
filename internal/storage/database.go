package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gmarchetti/diario/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrNotFound means an operation referenced an entry id that is not in
	// the store.
	ErrNotFound = errors.New("entry not found")
	// ErrConflict means a reorder referenced an id outside the target day
	// or an id that does not exist.
	ErrConflict = errors.New("entry does not belong to the target day")
)

// DB wraps the SQL database connection. The connection pool is capped at a
// single connection: SQLite allows one writer at a time, and every
// check-then-insert here must see its own writes.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and brings the schema up to date.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA foreign_keys = ON`} {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{conn: conn}
	if _, err := db.applyMigrations(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// applyMigrations runs every pending migration in order, recording each one
// in schema_migrations. Returns the number of migrations applied.
func (db *DB) applyMigrations() (int, error) {
	if _, err := db.conn.Exec(migrationsTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		err := db.conn.QueryRow(`
			SELECT COUNT(*) > 0 FROM schema_migrations WHERE version = ?
		`, m.version).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if exists {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return applied, fmt.Errorf("failed to begin migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to apply migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)
		`, m.version, time.Now().UTC()); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %s: %w", m.version, err)
		}
		applied++
	}
	return applied, nil
}

const entryColumns = `id, fingerprint, kind, date, subject, task, completed, position, parent_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.Entry, error) {
	var (
		e           domain.Entry
		fingerprint sql.NullString
		parentID    sql.NullString
		completed   int
	)
	err := row.Scan(
		&e.ID,
		&fingerprint,
		&e.Kind,
		&e.Date,
		&e.Subject,
		&e.Task,
		&completed,
		&e.Position,
		&parentID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return domain.Entry{}, err
	}
	e.Fingerprint = fingerprint.String
	e.ParentID = parentID.String
	e.Completed = completed != 0
	return e, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertEntry inserts an entry as-is. Position must already be assigned.
func (db *DB) InsertEntry(e domain.Entry) error {
	_, err := db.conn.Exec(`
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		nullable(e.Fingerprint),
		e.Kind,
		e.Date,
		e.Subject,
		e.Task,
		e.Completed,
		e.Position,
		nullable(e.ParentID),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
	}
	return nil
}

func insertInTx(tx *sql.Tx, e domain.Entry) error {
	_, err := tx.Exec(`
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		nullable(e.Fingerprint),
		e.Kind,
		e.Date,
		e.Subject,
		e.Task,
		e.Completed,
		e.Position,
		nullable(e.ParentID),
		e.CreatedAt,
		e.UpdatedAt,
	)
	return err
}

func maxPositionInTx(tx *sql.Tx, date string) (int, error) {
	var max sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(position) FROM entries WHERE date = ?`, date).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// InsertImported inserts an imported entry unless another entry already
// carries its fingerprint. The existence check and the insert run in one
// transaction so two concurrent imports of the same export cannot both pass
// the check. The entry is appended to the end of its day. Returns whether
// the entry was inserted.
func (db *DB) InsertImported(e domain.Entry) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin import of %s: %w", e.ID, err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow(`
		SELECT COUNT(*) > 0 FROM entries WHERE fingerprint = ?
	`, e.Fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed fingerprint lookup for %s: %w", e.Fingerprint, err)
	}
	if exists {
		return false, nil
	}

	max, err := maxPositionInTx(tx, e.Date)
	if err != nil {
		return false, fmt.Errorf("failed position lookup for %s: %w", e.Date, err)
	}
	e.Position = max + 1

	if err := insertInTx(tx, e); err != nil {
		return false, fmt.Errorf("failed to insert imported entry %s: %w", e.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit import of %s: %w", e.ID, err)
	}
	return true, nil
}

// InsertGenerated inserts a generated entry unless its deterministic id is
// already present, making schedule regeneration idempotent. The entry is
// appended to the end of its day. Returns whether the entry was inserted.
func (db *DB) InsertGenerated(e domain.Entry) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin insert of %s: %w", e.ID, err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow(`SELECT COUNT(*) > 0 FROM entries WHERE id = ?`, e.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed id lookup for %s: %w", e.ID, err)
	}
	if exists {
		return false, nil
	}

	max, err := maxPositionInTx(tx, e.Date)
	if err != nil {
		return false, fmt.Errorf("failed position lookup for %s: %w", e.Date, err)
	}
	e.Position = max + 1

	if err := insertInTx(tx, e); err != nil {
		return false, fmt.Errorf("failed to insert generated entry %s: %w", e.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit insert of %s: %w", e.ID, err)
	}
	return true, nil
}

// GetEntry retrieves an entry by id, or nil if it does not exist.
func (db *DB) GetEntry(id string) (*domain.Entry, error) {
	row := db.conn.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return &e, nil
}

// GetAllEntries returns every entry ordered by date, then position, with
// creation time as the stable tie-break for equal positions.
func (db *DB) GetAllEntries() ([]domain.Entry, error) {
	rows, err := db.conn.Query(`
		SELECT ` + entryColumns + ` FROM entries
		ORDER BY date ASC, position ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetChildren returns the study sessions generated for a parent entry,
// ordered by date.
func (db *DB) GetChildren(parentID string) ([]domain.Entry, error) {
	rows, err := db.conn.Query(`
		SELECT `+entryColumns+` FROM entries
		WHERE parent_id = ?
		ORDER BY date ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntryUpdate carries the fields of a partial update. Nil fields are left
// untouched.
type EntryUpdate struct {
	Date      *string
	Completed *bool
	Position  *int
	Task      *string
}

// UpdateEntry applies a partial update and bumps updated_at. Returns
// ErrNotFound if the id is not in the store.
func (db *DB) UpdateEntry(id string, u EntryUpdate) error {
	set := "updated_at = ?"
	args := []any{time.Now().UTC()}

	if u.Date != nil {
		set += ", date = ?"
		args = append(args, *u.Date)
	}
	if u.Completed != nil {
		set += ", completed = ?"
		args = append(args, *u.Completed)
	}
	if u.Position != nil {
		set += ", position = ?"
		args = append(args, *u.Position)
	}
	if u.Task != nil {
		set += ", task = ?"
		args = append(args, *u.Task)
	}
	args = append(args, id)

	res, err := db.conn.Exec(`UPDATE entries SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteResult reports what a plain delete did to the entry's children.
type DeleteResult struct {
	HadChildren bool
	Orphaned    int
}

// DeleteEntry removes an entry. Its children are kept and orphaned: the
// parent_id foreign key clears on delete, so they stay in the store with the
// parent link empty. Returns ErrNotFound if the id is not in the store.
func (db *DB) DeleteEntry(id string) (DeleteResult, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to begin delete of %s: %w", id, err)
	}
	defer tx.Rollback()

	var children int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM entries WHERE parent_id = ?`, id).Scan(&children); err != nil {
		return DeleteResult{}, fmt.Errorf("failed to count children of %s: %w", id, err)
	}

	res, err := tx.Exec(`DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	if affected == 0 {
		return DeleteResult{}, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return DeleteResult{}, fmt.Errorf("failed to commit delete of %s: %w", id, err)
	}
	return DeleteResult{HadChildren: children > 0, Orphaned: children}, nil
}

// DeleteWithChildren removes an entry together with every entry that points
// at it, in one transaction. The hierarchy is one level deep, so a single
// pass over parent_id covers the whole subtree. Returns the total number of
// rows deleted including the root, or ErrNotFound if the root is absent.
func (db *DB) DeleteWithChildren(id string) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin cascade delete of %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM entries WHERE parent_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete children of %s: %w", id, err)
	}
	children, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete children of %s: %w", id, err)
	}

	res, err = tx.Exec(`DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	root, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	if root == 0 {
		return 0, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cascade delete of %s: %w", id, err)
	}
	return int(children + root), nil
}

// MaxPosition returns the highest position among entries on a date, or -1
// if the day is empty.
func (db *DB) MaxPosition(date string) (int, error) {
	var max sql.NullInt64
	if err := db.conn.QueryRow(`SELECT MAX(position) FROM entries WHERE date = ?`, date).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max position for %s: %w", date, err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// ReorderDay rewrites positions for a day to 0, 1, 2, ... following the
// given id order. All-or-nothing: if any id does not exist or does not
// belong to the day, nothing changes and ErrConflict is returned.
func (db *DB) ReorderDay(date string, ids []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin reorder of %s: %w", date, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for position, id := range ids {
		res, err := tx.Exec(`
			UPDATE entries SET position = ?, updated_at = ? WHERE id = ? AND date = ?
		`, position, now, id, date)
		if err != nil {
			return fmt.Errorf("failed to reposition entry %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to reposition entry %s: %w", id, err)
		}
		if affected == 0 {
			return fmt.Errorf("reorder of %s rejected for id %s: %w", date, id, ErrConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reorder of %s: %w", date, err)
	}
	return nil
}

// Placement says where a moved entry lands within its new day.
type Placement string

const (
	PlaceTop    Placement = "top"
	PlaceBottom Placement = "bottom"
)

// MoveEntry moves an entry to a new date. Top placement gives it a position
// below the day's current minimum so it sorts first without renumbering the
// rest; bottom appends after the current maximum. Returns the updated entry,
// or ErrNotFound.
func (db *DB) MoveEntry(id, newDate string, placement Placement) (*domain.Entry, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin move of %s: %w", id, err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}

	var position int
	switch placement {
	case PlaceTop:
		// The moved entry itself is excluded so moving within the same day
		// still lands above the remaining siblings.
		var min sql.NullInt64
		err := tx.QueryRow(`
			SELECT MIN(position) FROM entries WHERE date = ? AND id <> ?
		`, newDate, id).Scan(&min)
		if err != nil {
			return nil, fmt.Errorf("failed position lookup for %s: %w", newDate, err)
		}
		if min.Valid {
			position = int(min.Int64) - 1
		}
	default:
		var max sql.NullInt64
		err := tx.QueryRow(`
			SELECT MAX(position) FROM entries WHERE date = ? AND id <> ?
		`, newDate, id).Scan(&max)
		if err != nil {
			return nil, fmt.Errorf("failed position lookup for %s: %w", newDate, err)
		}
		if max.Valid {
			position = int(max.Int64) + 1
		}
	}

	e.Date = newDate
	e.Position = position
	e.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE entries SET date = ?, position = ?, updated_at = ? WHERE id = ?
	`, e.Date, e.Position, e.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("failed to move entry %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit move of %s: %w", id, err)
	}
	return &e, nil
}

// CountEntries returns the total number of entries in the store.
func (db *DB) CountEntries() (int, error) {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}
