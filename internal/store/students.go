package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"smis/internal/student"
)

const columns = `id, name, registration_number, course, email, phone, photo_url, address, date_of_birth,
	gender, emergency_contact, notes, remote_id, is_synced, created_at, updated_at`

const insertSQL = `INSERT INTO students (` + columns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

// Students persists student records in the students table.
type Students struct {
	db *sql.DB
	// writeMu serialises writers; SQLite otherwise reports SQLITE_BUSY under WAL.
	writeMu sync.Mutex
	watch   *notifier
}

// NewStudents creates the table accessor.
func NewStudents(db *DB) *Students {
	return &Students{db: db.Client, watch: newNotifier()}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func args(r student.Record) []any {
	return []any{
		r.ID, r.Name, r.RegistrationNumber, r.Course, r.Email, r.Phone, r.PhotoURL, r.Address, r.DateOfBirth,
		r.Gender, r.EmergencyContact, r.Notes, r.RemoteID, r.IsSynced, r.CreatedAt, r.UpdatedAt,
	}
}

func scan(row scanner) (student.Record, error) {
	var r student.Record
	err := row.Scan(&r.ID, &r.Name, &r.RegistrationNumber, &r.Course, &r.Email, &r.Phone, &r.PhotoURL, &r.Address,
		&r.DateOfBirth, &r.Gender, &r.EmergencyContact, &r.Notes, &r.RemoteID, &r.IsSynced, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Students) query(ctx context.Context, q string, a ...any) ([]student.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []student.Record{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Students) queryOne(ctx context.Context, q string, a ...any) (*student.Record, error) {
	r, err := scan(s.db.QueryRowContext(ctx, q, a...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// List returns every record ordered by name.
func (s *Students) List(ctx context.Context) ([]student.Record, error) {
	return s.query(ctx, `SELECT `+columns+` FROM students ORDER BY name ASC, id ASC`)
}

// ListPage returns a window of the name-ordered list.
func (s *Students) ListPage(ctx context.Context, limit, offset int) ([]student.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.query(ctx, `SELECT `+columns+` FROM students ORDER BY name ASC, id ASC LIMIT $1 OFFSET $2`, limit, offset)
}

// ListUnsynced returns records that still need a push.
func (s *Students) ListUnsynced(ctx context.Context) ([]student.Record, error) {
	return s.query(ctx, `SELECT `+columns+` FROM students WHERE is_synced = $1 ORDER BY updated_at ASC`, false)
}

// Search is a SQL substring search over name, registration number, course and email.
// Matches on a name or registration number prefix sort first.
func (s *Students) Search(ctx context.Context, q string) ([]student.Record, error) {
	like := "%" + strings.ToLower(q) + "%"
	prefix := strings.ToLower(q) + "%"
	return s.query(ctx, `SELECT `+columns+` FROM students
		WHERE LOWER(name) LIKE $1 OR LOWER(registration_number) LIKE $1
		   OR LOWER(course) LIKE $1 OR LOWER(email) LIKE $1
		ORDER BY
			CASE
				WHEN LOWER(name) LIKE $2 THEN 1
				WHEN LOWER(registration_number) LIKE $2 THEN 2
				ELSE 3
			END,
			name ASC`, like, prefix)
}

// Get returns the record with the given id, or nil.
func (s *Students) Get(ctx context.Context, id string) (*student.Record, error) {
	return s.queryOne(ctx, `SELECT `+columns+` FROM students WHERE id = $1`, id)
}

// GetByRegistrationNumber returns the record with the given registration number, or nil.
func (s *Students) GetByRegistrationNumber(ctx context.Context, reg string) (*student.Record, error) {
	return s.queryOne(ctx, `SELECT `+columns+` FROM students WHERE registration_number = $1`, reg)
}

// GetByRemoteID returns the record pushed under remoteID, or nil.
func (s *Students) GetByRemoteID(ctx context.Context, remoteID string) (*student.Record, error) {
	if remoteID == "" {
		return nil, nil
	}
	return s.queryOne(ctx, `SELECT `+columns+` FROM students WHERE remote_id = $1 LIMIT 1`, remoteID)
}

// Count returns the number of stored records.
func (s *Students) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}

// CountSynced returns the number of records marked synced.
func (s *Students) CountSynced(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE is_synced = $1`, true).Scan(&n)
	return n, err
}

// Insert adds a new record. A clash on id or registration number returns ErrDuplicate.
func (s *Students) Insert(ctx context.Context, r student.Record) error {
	return s.write(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, insertSQL, args(r)...)
		return err
	})
}

// InsertBatch adds all records in one transaction.
func (s *Students) InsertBatch(ctx context.Context, recs []student.Record) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, r := range recs {
			if _, err := tx.ExecContext(ctx, insertSQL, args(r)...); err != nil {
				return fmt.Errorf("insert %s: %w", r.ID, translate(err))
			}
		}
		return nil
	})
}

// Update overwrites every mutable column of an existing record.
func (s *Students) Update(ctx context.Context, r student.Record) error {
	return s.write(ctx, func(ctx context.Context) error {
		return update(ctx, s.db, r)
	})
}

func update(ctx context.Context, ex execer, r student.Record) error {
	res, err := ex.ExecContext(ctx, `UPDATE students SET
			name = $1, registration_number = $2, course = $3, email = $4, phone = $5, photo_url = $6,
			address = $7, date_of_birth = $8, gender = $9, emergency_contact = $10, notes = $11,
			remote_id = $12, is_synced = $13, updated_at = $14
		WHERE id = $15`,
		r.Name, r.RegistrationNumber, r.Course, r.Email, r.Phone, r.PhotoURL,
		r.Address, r.DateOfBirth, r.Gender, r.EmergencyContact, r.Notes,
		r.RemoteID, r.IsSynced, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return nil
}

// MarkSynced flags the given records as synced. A row whose updatedAt no
// longer matches was edited after the push and is left pending. It returns how
// many rows were marked.
func (s *Students) MarkSynced(ctx context.Context, recs []student.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	marked := 0
	err := s.tx(ctx, func(tx *sql.Tx) error {
		for _, r := range recs {
			res, err := tx.ExecContext(ctx,
				`UPDATE students SET is_synced = $1, remote_id = $2 WHERE id = $3 AND updated_at = $4`,
				true, r.RemoteID, r.ID, r.UpdatedAt)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			marked += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

// Delete removes a record. Deleting a missing id is not an error.
func (s *Students) Delete(ctx context.Context, id string) error {
	return s.write(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
		return err
	})
}

// DeleteMany removes several records in one transaction.
func (s *Students) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceAll swaps the whole table for recs atomically. On error the previous
// contents are kept.
func (s *Students) ReplaceAll(ctx context.Context, recs []student.Record) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM students`); err != nil {
			return err
		}
		for _, r := range recs {
			if _, err := tx.ExecContext(ctx, insertSQL, args(r)...); err != nil {
				return fmt.Errorf("insert %s: %w", r.ID, translate(err))
			}
		}
		return nil
	})
}

func (s *Students) write(ctx context.Context, fn func(context.Context) error) error {
	s.writeMu.Lock()
	err := translate(fn(ctx))
	s.writeMu.Unlock()
	if err == nil {
		s.watch.changed()
	}
	return err
}

func (s *Students) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.write(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
