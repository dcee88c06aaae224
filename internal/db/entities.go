package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCourse creates a new course.
func (db *DB) CreateCourse(c *Course) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	query := `INSERT INTO courses (id, user_id, code, name, location, meeting_days, meeting_start, meeting_end,
		term_start, term_end, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, c.ID, c.UserID, c.Code, c.Name, c.Location, c.MeetingDays,
		c.MeetingStart, c.MeetingEnd, nullableTime(c.TermStart), nullableTime(c.TermEnd), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

// ListCourses returns all courses for a user.
func (db *DB) ListCourses(userID string) ([]*Course, error) {
	query := `SELECT id, user_id, code, name, location, meeting_days, meeting_start, meeting_end,
		term_start, term_end, created_at FROM courses WHERE user_id = ? ORDER BY code`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var courses []*Course
	for rows.Next() {
		c := &Course{}
		var termStart, termEnd sql.NullTime
		err := rows.Scan(&c.ID, &c.UserID, &c.Code, &c.Name, &c.Location, &c.MeetingDays,
			&c.MeetingStart, &c.MeetingEnd, &termStart, &termEnd, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		c.TermStart = timePtr(termStart)
		c.TermEnd = timePtr(termEnd)
		courses = append(courses, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating courses: %w", err)
	}

	return courses, nil
}

// CreateCustomEvent creates a new custom event.
func (db *DB) CreateCustomEvent(e *CustomEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt

	query := `INSERT INTO custom_events (id, user_id, course_id, title, description, location,
		start_at, end_at, all_day, source, cancelled, remote_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, e.ID, e.UserID, nullableString(e.CourseID), e.Title, e.Description, e.Location,
		nullableTime(e.Start), nullableTime(e.End), e.AllDay, e.Source, e.Cancelled, e.RemoteRef,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create custom event: %w", err)
	}
	return nil
}

// ListCustomEvents returns all custom events for a user, ordered by start.
func (db *DB) ListCustomEvents(userID string) ([]*CustomEvent, error) {
	query := `SELECT e.id, e.user_id, COALESCE(e.course_id, ''), COALESCE(c.code, ''), e.title, e.description,
		e.location, e.start_at, e.end_at, e.all_day, e.source, e.cancelled, e.remote_ref, e.created_at, e.updated_at
		FROM custom_events e LEFT JOIN courses c ON c.id = e.course_id
		WHERE e.user_id = ? ORDER BY e.start_at, e.created_at`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom events: %w", err)
	}
	defer rows.Close()

	var events []*CustomEvent
	for rows.Next() {
		e := &CustomEvent{}
		var start, end sql.NullTime
		err := rows.Scan(&e.ID, &e.UserID, &e.CourseID, &e.CourseCode, &e.Title, &e.Description,
			&e.Location, &start, &end, &e.AllDay, &e.Source, &e.Cancelled, &e.RemoteRef, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom event: %w", err)
		}
		e.Start = timePtr(start)
		e.End = timePtr(end)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating custom events: %w", err)
	}

	return events, nil
}

// UpdateImportedEvent overwrites the remote-owned fields of a linked custom
// event. Title and description stay as the user last edited them.
func (db *DB) UpdateImportedEvent(userID, id string, start, end *time.Time, allDay bool, location string) error {
	query := `UPDATE custom_events SET start_at = ?, end_at = ?, all_day = ?, location = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`

	result, err := db.conn.Exec(query, nullableTime(start), nullableTime(end), allDay, location,
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update imported event: %w", err)
	}
	return requireAffected(result)
}

// ListClassExportDates returns the start times of class occurrences already
// exported for a course, plus the ones the user deleted locally.
func (db *DB) ListClassExportDates(userID, courseID string) ([]time.Time, error) {
	exported, err := db.queryTimes(`SELECT start_at FROM custom_events
		WHERE user_id = ? AND course_id = ? AND source = ? AND remote_ref != '' AND start_at IS NOT NULL`,
		userID, courseID, SourceClass)
	if err != nil {
		return nil, fmt.Errorf("failed to query class export dates: %w", err)
	}

	skipped, err := db.queryTimes(`SELECT start_at FROM skipped_classes WHERE user_id = ? AND course_id = ?`,
		userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped classes: %w", err)
	}

	return append(exported, skipped...), nil
}

func (db *DB) queryTimes(query string, args ...any) ([]time.Time, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t.UTC())
	}
	return times, rows.Err()
}

// CreateDeadline creates a new deadline.
func (db *DB) CreateDeadline(d *Deadline) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Source == "" {
		d.Source = SourceManual
	}
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt

	query := `INSERT INTO deadlines (id, user_id, course_id, title, notes, due_at, completed, source, remote_ref,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, d.ID, d.UserID, nullableString(d.CourseID), d.Title, d.Notes,
		nullableTime(d.DueAt), d.Completed, d.Source, d.RemoteRef, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create deadline: %w", err)
	}
	return nil
}

// ListDeadlines returns all deadlines for a user.
func (db *DB) ListDeadlines(userID string) ([]*Deadline, error) {
	query := `SELECT d.id, d.user_id, COALESCE(d.course_id, ''), COALESCE(c.code, ''), d.title, d.notes,
		d.due_at, d.completed, d.source, d.remote_ref, d.created_at, d.updated_at
		FROM deadlines d LEFT JOIN courses c ON c.id = d.course_id
		WHERE d.user_id = ? ORDER BY d.due_at, d.created_at`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deadlines: %w", err)
	}
	defer rows.Close()

	var deadlines []*Deadline
	for rows.Next() {
		d := &Deadline{}
		var due sql.NullTime
		err := rows.Scan(&d.ID, &d.UserID, &d.CourseID, &d.CourseCode, &d.Title, &d.Notes,
			&due, &d.Completed, &d.Source, &d.RemoteRef, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deadline: %w", err)
		}
		d.DueAt = timePtr(due)
		deadlines = append(deadlines, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deadlines: %w", err)
	}

	return deadlines, nil
}

// CreateExam creates a new exam.
func (db *DB) CreateExam(x *Exam) error {
	if x.ID == "" {
		x.ID = uuid.New().String()
	}
	if x.Source == "" {
		x.Source = SourceManual
	}
	x.CreatedAt = time.Now().UTC()
	x.UpdatedAt = x.CreatedAt

	query := `INSERT INTO exams (id, user_id, course_id, title, notes, location, starts_at, ends_at, cancelled,
		source, remote_ref, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, x.ID, x.UserID, nullableString(x.CourseID), x.Title, x.Notes, x.Location,
		nullableTime(x.StartsAt), nullableTime(x.EndsAt), x.Cancelled, x.Source, x.RemoteRef,
		x.CreatedAt, x.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create exam: %w", err)
	}
	return nil
}

// ListExams returns all exams for a user.
func (db *DB) ListExams(userID string) ([]*Exam, error) {
	query := `SELECT x.id, x.user_id, COALESCE(x.course_id, ''), COALESCE(c.code, ''), x.title, x.notes,
		x.location, x.starts_at, x.ends_at, x.cancelled, x.source, x.remote_ref, x.created_at, x.updated_at
		FROM exams x LEFT JOIN courses c ON c.id = x.course_id
		WHERE x.user_id = ? ORDER BY x.starts_at, x.created_at`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exams: %w", err)
	}
	defer rows.Close()

	var exams []*Exam
	for rows.Next() {
		x := &Exam{}
		var starts, ends sql.NullTime
		err := rows.Scan(&x.ID, &x.UserID, &x.CourseID, &x.CourseCode, &x.Title, &x.Notes,
			&x.Location, &starts, &ends, &x.Cancelled, &x.Source, &x.RemoteRef, &x.CreatedAt, &x.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exam: %w", err)
		}
		x.StartsAt = timePtr(starts)
		x.EndsAt = timePtr(ends)
		exams = append(exams, x)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exams: %w", err)
	}

	return exams, nil
}

// CreateWorkItem creates a new work item.
func (db *DB) CreateWorkItem(w *WorkItem) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Source == "" {
		w.Source = SourceManual
	}
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt

	query := `INSERT INTO work_items (id, user_id, course_id, title, notes, due_at, completed, source, remote_ref,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, w.ID, w.UserID, nullableString(w.CourseID), w.Title, w.Notes,
		nullableTime(w.DueAt), w.Completed, w.Source, w.RemoteRef, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

// ListWorkItems returns all work items for a user.
func (db *DB) ListWorkItems(userID string) ([]*WorkItem, error) {
	query := `SELECT w.id, w.user_id, COALESCE(w.course_id, ''), COALESCE(c.code, ''), w.title, w.notes,
		w.due_at, w.completed, w.source, w.remote_ref, w.created_at, w.updated_at
		FROM work_items w LEFT JOIN courses c ON c.id = w.course_id
		WHERE w.user_id = ? ORDER BY w.due_at, w.created_at`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		w := &WorkItem{}
		var due sql.NullTime
		err := rows.Scan(&w.ID, &w.UserID, &w.CourseID, &w.CourseCode, &w.Title, &w.Notes,
			&due, &w.Completed, &w.Source, &w.RemoteRef, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		w.DueAt = timePtr(due)
		items = append(items, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work items: %w", err)
	}

	return items, nil
}

// SetRemoteRef links (or, with an empty ref, unlinks) a local entity to a
// remote event.
func (db *DB) SetRemoteRef(kind EntityKind, id, ref string) error {
	table, err := kind.table()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET remote_ref = ?, updated_at = ? WHERE id = ?`, table)
	result, err := db.conn.Exec(query, ref, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set remote ref: %w", err)
	}
	return requireAffected(result)
}
