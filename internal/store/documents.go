package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campusevents/internal/model"
)

var ErrNoUser = errors.New("user id is empty")

// Documents is the per-user record: an ordered set of saved event ids and a
// merge-written preferences map.
type Documents struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocuments(db *sql.DB) *Documents {
	return &Documents{db: db, now: time.Now}
}

// SavedEventIDs returns the user's saved ids in the order they were added.
// A user with no record has none.
func (d *Documents) SavedEventIDs(ctx context.Context, uid string) ([]string, error) {
	if uid == "" {
		return nil, ErrNoUser
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT event_id FROM saved_events WHERE uid = ? ORDER BY position`, uid)
	if err != nil {
		return nil, fmt.Errorf("read saved events: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("read saved events: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddSavedEvent appends eventID unless it is already present (array union).
func (d *Documents) AddSavedEvent(ctx context.Context, uid, eventID string) error {
	if uid == "" {
		return ErrNoUser
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO saved_events (uid, event_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM saved_events WHERE uid = ?))
		ON CONFLICT (uid, event_id) DO NOTHING`, uid, eventID, uid)
	if err != nil {
		return fmt.Errorf("add saved event: %w", err)
	}
	return d.touch(ctx, uid)
}

// RemoveSavedEvent removes eventID if present (array remove).
func (d *Documents) RemoveSavedEvent(ctx context.Context, uid, eventID string) error {
	if uid == "" {
		return ErrNoUser
	}
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM saved_events WHERE uid = ? AND event_id = ?`, uid, eventID); err != nil {
		return fmt.Errorf("remove saved event: %w", err)
	}
	return d.touch(ctx, uid)
}

// Preferences returns the stored preferences; absent keys stay nil.
func (d *Documents) Preferences(ctx context.Context, uid string) (model.Preferences, error) {
	var prefs model.Preferences
	if uid == "" {
		return prefs, ErrNoUser
	}
	var raw string
	err := d.db.QueryRowContext(ctx,
		`SELECT preferences FROM user_docs WHERE uid = ?`, uid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("read preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return model.Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}

// MergePreferences applies the non-nil fields of patch over the stored
// preferences and returns the result.
func (d *Documents) MergePreferences(ctx context.Context, uid string, patch model.Preferences) (model.Preferences, error) {
	if uid == "" {
		return model.Preferences{}, ErrNoUser
	}
	if err := patch.Validate(); err != nil {
		return model.Preferences{}, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Preferences{}, err
	}
	defer tx.Rollback()

	var current model.Preferences
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT preferences FROM user_docs WHERE uid = ?`, uid).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return model.Preferences{}, fmt.Errorf("read preferences: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return model.Preferences{}, fmt.Errorf("decode preferences: %w", err)
		}
	}

	merged := current.Merge(patch)
	data, err := json.Marshal(merged)
	if err != nil {
		return model.Preferences{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_docs (uid, preferences, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`,
		uid, string(data), d.now().UTC()); err != nil {
		return model.Preferences{}, fmt.Errorf("write preferences: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Preferences{}, err
	}
	return merged, nil
}

// UpdatedAt reports when the user's record last changed. Zero when the user
// has no record.
func (d *Documents) UpdatedAt(ctx context.Context, uid string) (time.Time, error) {
	var at sql.NullTime
	err := d.db.QueryRowContext(ctx, `SELECT updated_at FROM user_docs WHERE uid = ?`, uid).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return at.Time, nil
}

func (d *Documents) touch(ctx context.Context, uid string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO user_docs (uid, updated_at) VALUES (?, ?)
		ON CONFLICT (uid) DO UPDATE SET updated_at = excluded.updated_at`, uid, d.now().UTC())
	if err != nil {
		return fmt.Errorf("touch user record: %w", err)
	}
	return nil
}

// Profile summarizes a user's record for the account screen.
type Profile struct {
	Preferences model.Preferences `json:"preferences"`
	SavedCount  int               `json:"savedCount"`
	UpdatedAt   time.Time         `json:"updatedAt,omitempty"`
}

func (d *Documents) Profile(ctx context.Context, uid string) (Profile, error) {
	var p Profile
	prefs, err := d.Preferences(ctx, uid)
	if err != nil {
		return p, err
	}
	p.Preferences = prefs
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM saved_events WHERE uid = ?`, uid).Scan(&p.SavedCount); err != nil {
		return p, fmt.Errorf("count saved events: %w", err)
	}
	p.UpdatedAt, err = d.UpdatedAt(ctx, uid)
	return p, err
}
