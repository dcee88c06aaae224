package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueDeletion schedules a remote event for deletion on the next sync run.
func (db *DB) EnqueueDeletion(userID, remoteID, calendarID string, kind EntityKind) error {
	return enqueueDeletion(db.conn, userID, remoteID, calendarID, kind)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func enqueueDeletion(ex execer, userID, remoteID, calendarID string, kind EntityKind) error {
	query := `INSERT INTO deletion_queue (id, user_id, remote_id, calendar_id, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := ex.Exec(query, uuid.New().String(), userID, remoteID, calendarID, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue deletion: %w", err)
	}
	return nil
}

// ListDeletionQueue returns the pending remote deletions for a user, oldest first.
func (db *DB) ListDeletionQueue(userID string) ([]*DeletionQueueEntry, error) {
	query := `SELECT id, user_id, remote_id, calendar_id, kind, created_at
		FROM deletion_queue WHERE user_id = ? ORDER BY created_at`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deletion queue: %w", err)
	}
	defer rows.Close()

	var entries []*DeletionQueueEntry
	for rows.Next() {
		e := &DeletionQueueEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.RemoteID, &e.CalendarID, &e.Kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deletion queue entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deletion queue: %w", err)
	}

	return entries, nil
}

// RemoveDeletionQueueEntry removes a processed deletion queue entry.
func (db *DB) RemoveDeletionQueueEntry(id string) error {
	result, err := db.conn.Exec(`DELETE FROM deletion_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove deletion queue entry: %w", err)
	}
	return requireAffected(result)
}

// ListImportExclusions returns the remote ids the user has deleted locally.
func (db *DB) ListImportExclusions(userID string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT remote_id FROM import_exclusions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query import exclusions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan import exclusion: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import exclusions: %w", err)
	}

	return ids, nil
}

// DeleteEntity deletes a local entity owned by userID. When the entity is
// linked to a remote event, an imported custom event leaves an import
// exclusion behind and anything else is queued for remote deletion. A class
// meeting also records its date as skipped. All writes happen in the same
// transaction as the delete.
func (db *DB) DeleteEntity(userID string, kind EntityKind, id string) error {
	table, err := kind.table()
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var remoteRef string
	var source EntitySource
	query := fmt.Sprintf(`SELECT remote_ref, source FROM %s WHERE id = ? AND user_id = ?`, table)
	err = tx.QueryRow(query, id, userID).Scan(&remoteRef, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load entity: %w", err)
	}

	if table == "custom_events" && source == SourceClass {
		if err := skipClassOccurrence(tx, userID, id); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND user_id = ?`, table), id, userID); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	if remoteRef != "" {
		if table == "custom_events" && source == SourceImport {
			_, err = tx.Exec(`INSERT INTO import_exclusions (user_id, remote_id, created_at) VALUES (?, ?, ?)
				ON CONFLICT(user_id, remote_id) DO NOTHING`, userID, remoteRef, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("failed to record import exclusion: %w", err)
			}
		} else {
			calendarID := "primary"
			err = tx.QueryRow(`SELECT export_calendar_id FROM sync_settings WHERE user_id = ?`, userID).Scan(&calendarID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to load export calendar: %w", err)
			}
			if err := enqueueDeletion(tx, userID, remoteRef, calendarID, kind); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// skipClassOccurrence records the course and start time of a class meeting
// so class export treats that date as already handled.
func skipClassOccurrence(tx *sql.Tx, userID, id string) error {
	var courseID sql.NullString
	var start sql.NullTime
	err := tx.QueryRow(`SELECT course_id, start_at FROM custom_events WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&courseID, &start)
	if err != nil {
		return fmt.Errorf("failed to load class occurrence: %w", err)
	}
	if !courseID.Valid || courseID.String == "" || !start.Valid {
		return nil
	}

	_, err = tx.Exec(`INSERT INTO skipped_classes (user_id, course_id, start_at, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, course_id, start_at) DO NOTHING`, userID, courseID.String, start.Time.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record skipped class: %w", err)
	}
	return nil
}
