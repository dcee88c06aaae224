package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateUser returns an existing user by email or creates a new one.
func (db *DB) GetOrCreateUser(email, name string) (*User, error) {
	user, err := db.GetUserByEmail(email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user = &User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Plan:      PlanFree,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	query := `INSERT INTO users (id, email, name, plan, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.conn.Exec(query, user.ID, user.Email, user.Name, user.Plan, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail returns a user by their email address.
func (db *DB) GetUserByEmail(email string) (*User, error) {
	query := `SELECT id, email, name, plan, created_at, updated_at FROM users WHERE email = ?`
	row := db.conn.QueryRow(query, email)

	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Plan, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID returns a user by their ID.
func (db *DB) GetUserByID(id string) (*User, error) {
	query := `SELECT id, email, name, plan, created_at, updated_at FROM users WHERE id = ?`
	row := db.conn.QueryRow(query, id)

	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Plan, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// SetUserPlan changes a user's subscription plan.
func (db *DB) SetUserPlan(userID string, plan Plan) error {
	query := `UPDATE users SET plan = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, plan, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user plan: %w", err)
	}
	return requireAffected(result)
}

// GetSyncSettings returns the sync settings for a user.
func (db *DB) GetSyncSettings(userID string) (*SyncSettings, error) {
	query := `SELECT user_id, connected, access_token, refresh_token, token_expiry,
		import_events, export_events, export_deadlines, export_exams, export_work, export_classes,
		import_calendar_id, export_calendar_id, last_synced_at, updated_at
		FROM sync_settings WHERE user_id = ?`

	s := &SyncSettings{}
	var tokenExpiry, lastSyncedAt sql.NullTime
	err := db.conn.QueryRow(query, userID).Scan(
		&s.UserID, &s.Connected, &s.AccessToken, &s.RefreshToken, &tokenExpiry,
		&s.ImportEvents, &s.ExportEvents, &s.ExportDeadlines, &s.ExportExams, &s.ExportWork, &s.ExportClasses,
		&s.ImportCalendarID, &s.ExportCalendarID, &lastSyncedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync settings: %w", err)
	}

	s.TokenExpiry = timePtr(tokenExpiry)
	s.LastSyncedAt = timePtr(lastSyncedAt)
	return s, nil
}

// UpsertSyncSettings creates or replaces the sync settings for a user.
// LastSyncedAt is owned by MarkSynced and is left untouched on update.
func (db *DB) UpsertSyncSettings(s *SyncSettings) error {
	s.UpdatedAt = time.Now().UTC()
	if s.ImportCalendarID == "" {
		s.ImportCalendarID = "primary"
	}
	if s.ExportCalendarID == "" {
		s.ExportCalendarID = "primary"
	}

	query := `INSERT INTO sync_settings (
		user_id, connected, access_token, refresh_token, token_expiry,
		import_events, export_events, export_deadlines, export_exams, export_work, export_classes,
		import_calendar_id, export_calendar_id, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		connected = excluded.connected,
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		token_expiry = excluded.token_expiry,
		import_events = excluded.import_events,
		export_events = excluded.export_events,
		export_deadlines = excluded.export_deadlines,
		export_exams = excluded.export_exams,
		export_work = excluded.export_work,
		export_classes = excluded.export_classes,
		import_calendar_id = excluded.import_calendar_id,
		export_calendar_id = excluded.export_calendar_id,
		updated_at = excluded.updated_at`

	_, err := db.conn.Exec(query,
		s.UserID, s.Connected, s.AccessToken, s.RefreshToken, nullableTime(s.TokenExpiry),
		s.ImportEvents, s.ExportEvents, s.ExportDeadlines, s.ExportExams, s.ExportWork, s.ExportClasses,
		s.ImportCalendarID, s.ExportCalendarID, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync settings: %w", err)
	}
	return nil
}

// UpdateSyncPreferences writes only the direction toggles and calendar IDs,
// creating a disconnected row when none exists. Connection state and token
// material are never touched.
func (db *DB) UpdateSyncPreferences(s *SyncSettings) error {
	s.UpdatedAt = time.Now().UTC()
	if s.ImportCalendarID == "" {
		s.ImportCalendarID = "primary"
	}
	if s.ExportCalendarID == "" {
		s.ExportCalendarID = "primary"
	}

	query := `INSERT INTO sync_settings (
		user_id, import_events, export_events, export_deadlines, export_exams, export_work, export_classes,
		import_calendar_id, export_calendar_id, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		import_events = excluded.import_events,
		export_events = excluded.export_events,
		export_deadlines = excluded.export_deadlines,
		export_exams = excluded.export_exams,
		export_work = excluded.export_work,
		export_classes = excluded.export_classes,
		import_calendar_id = excluded.import_calendar_id,
		export_calendar_id = excluded.export_calendar_id,
		updated_at = excluded.updated_at`

	_, err := db.conn.Exec(query,
		s.UserID, s.ImportEvents, s.ExportEvents, s.ExportDeadlines, s.ExportExams, s.ExportWork, s.ExportClasses,
		s.ImportCalendarID, s.ExportCalendarID, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync preferences: %w", err)
	}
	return nil
}

// UpdateSyncTokens stores refreshed (already encrypted) token material.
func (db *DB) UpdateSyncTokens(userID, accessToken, refreshToken string, expiry time.Time) error {
	query := `UPDATE sync_settings SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE user_id = ?`

	result, err := db.conn.Exec(query, accessToken, refreshToken, expiry.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update sync tokens: %w", err)
	}
	return requireAffected(result)
}

// MarkSynced records the completion time of a sync run.
func (db *DB) MarkSynced(userID string, at time.Time) error {
	query := `UPDATE sync_settings SET last_synced_at = ?, updated_at = ? WHERE user_id = ?`

	result, err := db.conn.Exec(query, at.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark synced: %w", err)
	}
	return requireAffected(result)
}

// ListConnectedUserIDs returns every user with a connected calendar.
func (db *DB) ListConnectedUserIDs() ([]string, error) {
	rows, err := db.conn.Query(`SELECT user_id FROM sync_settings WHERE connected = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connected users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connected users: %w", err)
	}

	return ids, nil
}

// CreateSyncLog creates a new sync log entry.
func (db *DB) CreateSyncLog(log *SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now().UTC()

	query := `INSERT INTO sync_logs (id, user_id, status, message, details, duration_ms,
		events_created, events_updated, events_deleted, error_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, log.ID, log.UserID, log.Status, log.Message, log.Details, log.Duration.Milliseconds(),
		log.EventsCreated, log.EventsUpdated, log.EventsDeleted, log.ErrorCount, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

// GetSyncLogs returns the most recent sync logs for a user.
func (db *DB) GetSyncLogs(userID string, limit int) ([]*SyncLog, error) {
	query := `SELECT id, user_id, status, message, details, duration_ms,
		events_created, events_updated, events_deleted, error_count, created_at
		FROM sync_logs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log := &SyncLog{}
		var durationMs int64
		var message, details sql.NullString
		err := rows.Scan(&log.ID, &log.UserID, &log.Status, &message, &details, &durationMs,
			&log.EventsCreated, &log.EventsUpdated, &log.EventsDeleted, &log.ErrorCount, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		log.Message = message.String
		log.Details = details.String
		log.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return logs, nil
}

// CleanOldSyncLogs deletes sync logs older than the given time.
func (db *DB) CleanOldSyncLogs(olderThan time.Time) (int64, error) {
	query := `DELETE FROM sync_logs WHERE created_at < ?`

	result, err := db.conn.Exec(query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean old sync logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
