// Package account manages credentials, sessions and profile fields, and
// tells observers and subscribers whenever the signed-in user changes.
package account

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

// Options tunes validation and throttling.
type Options struct {
	MinPasswordLength int
	// MaxFailedAttempts failed sign-ins per email within Lockout trigger
	// CodeTooManyRequests until the window passes.
	MaxFailedAttempts int
	Lockout           time.Duration
	// ReauthWindow is how long a Reauthenticate call authorizes
	// UpdatePassword.
	ReauthWindow time.Duration
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
}

func (o *Options) setDefaults() {
	if o.MinPasswordLength <= 0 {
		o.MinPasswordLength = 6
	}
	if o.MaxFailedAttempts <= 0 {
		o.MaxFailedAttempts = 5
	}
	if o.Lockout <= 0 {
		o.Lockout = 15 * time.Minute
	}
	if o.ReauthWindow <= 0 {
		o.ReauthWindow = 5 * time.Minute
	}
	if o.HashCost == 0 {
		o.HashCost = bcrypt.DefaultCost
	}
}

type failures struct {
	count int
	first time.Time
}

// Store is the account service for this device. It holds at most one
// signed-in session at a time.
type Store struct {
	db   *sql.DB
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	current   *model.Session
	failed    map[string]*failures
	observers []*observer
	watchers  []*watcher
}

func New(db *sql.DB, opts Options) *Store {
	opts.setDefaults()
	return &Store{
		db:     db,
		opts:   opts,
		now:    time.Now,
		failed: make(map[string]*failures),
	}
}

// Current returns a copy of the signed-in session, or nil.
func (s *Store) Current() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.current)
}

// CreateAccount registers a new account and signs it in.
func (s *Store) CreateAccount(ctx context.Context, email, password, displayName string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < s.opts.MinPasswordLength {
		return nil, authErr(CodeWeakPassword, &PasswordTooShortError{Min: s.opts.MinPasswordLength})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.HashCost)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (uid, email, display_name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		uid, email, strings.TrimSpace(displayName), hash, s.now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, authErr(CodeEmailInUse, nil)
		}
		return nil, authErr(CodeNetwork, err)
	}

	appLog.Info("account created", "uid", uid)
	return s.startSession(ctx, uid, email, strings.TrimSpace(displayName))
}

// SignIn verifies credentials and makes the account the current session.
func (s *Store) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if s.throttled(email) {
		return nil, authErr(CodeTooManyRequests, nil)
	}

	var uid, name string
	var hash []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT uid, display_name, password_hash FROM accounts WHERE email = ?`, email).Scan(&uid, &name, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		s.recordFailure(email)
		return nil, authErr(CodeInvalidCredential, nil)
	}
	if err != nil {
		return nil, authErr(CodeNetwork, err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		s.recordFailure(email)
		return nil, authErr(CodeInvalidCredential, nil)
	}

	s.clearFailures(email)
	return s.startSession(ctx, uid, email, name)
}

// SignOut ends the current session. Signing out while signed out is a no-op.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, cur.Token); err != nil {
		return authErr(CodeNetwork, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device WHERE id = 1`); err != nil {
		return authErr(CodeNetwork, err)
	}

	s.setCurrent(nil)
	appLog.Info("signed out", "uid", cur.UID)
	return nil
}

// Reauthenticate confirms the current user's password, authorizing
// UpdatePassword for the reauth window.
func (s *Store) Reauthenticate(ctx context.Context, currentPassword string) error {
	cur := s.Current()
	if cur == nil {
		return authErr(CodeNoCurrentUser, nil)
	}

	var hash []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM accounts WHERE uid = ?`, cur.UID).Scan(&hash); err != nil {
		return authErr(CodeNetwork, err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(currentPassword)) != nil {
		return authErr(CodeInvalidCredential, nil)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET reauth_at = ? WHERE token = ?`, s.now().UTC(), cur.Token); err != nil {
		return authErr(CodeNetwork, err)
	}
	return nil
}

// UpdatePassword sets a new password. It requires a Reauthenticate within
// the reauth window.
func (s *Store) UpdatePassword(ctx context.Context, newPassword string) error {
	cur := s.Current()
	if cur == nil {
		return authErr(CodeNoCurrentUser, nil)
	}
	if len(newPassword) < s.opts.MinPasswordLength {
		return authErr(CodeWeakPassword, &PasswordTooShortError{Min: s.opts.MinPasswordLength})
	}

	var reauth sql.NullTime
	if err := s.db.QueryRowContext(ctx,
		`SELECT reauth_at FROM sessions WHERE token = ?`, cur.Token).Scan(&reauth); err != nil {
		return authErr(CodeNetwork, err)
	}
	if !reauth.Valid || s.now().Sub(reauth.Time) > s.opts.ReauthWindow {
		return authErr(CodeRequiresRecentLogin, nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.opts.HashCost)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ? WHERE uid = ?`, hash, cur.UID); err != nil {
		return authErr(CodeNetwork, err)
	}
	appLog.Info("password updated", "uid", cur.UID)
	return nil
}

// ChangePassword is Reauthenticate followed by UpdatePassword.
func (s *Store) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	if err := s.Reauthenticate(ctx, currentPassword); err != nil {
		return err
	}
	return s.UpdatePassword(ctx, newPassword)
}

// UpdateProfile changes the current user's display name. Subscribers are not
// notified; the user did not change.
func (s *Store) UpdateProfile(ctx context.Context, displayName string) (*model.Session, error) {
	cur := s.Current()
	if cur == nil {
		return nil, authErr(CodeNoCurrentUser, nil)
	}
	displayName = strings.TrimSpace(displayName)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET display_name = ? WHERE uid = ?`, displayName, cur.UID); err != nil {
		return nil, authErr(CodeNetwork, err)
	}

	s.mu.Lock()
	if s.current != nil && s.current.UID == cur.UID {
		s.current.DisplayName = displayName
	}
	updated := copySession(s.current)
	s.mu.Unlock()
	return updated, nil
}

// Reload re-reads the device session from the database, restoring a
// sign-in across restarts. Subscribers hear about it only when the signed-in
// user changed.
func (s *Store) Reload(ctx context.Context) (*model.Session, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT session_token FROM device WHERE id = 1`).Scan(&token)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, authErr(CodeNetwork, err)
	}

	var next *model.Session
	if token.Valid && token.String != "" {
		sess := &model.Session{Token: token.String}
		err := s.db.QueryRowContext(ctx, `
			SELECT a.uid, a.email, a.display_name, se.created_at
			FROM sessions se JOIN accounts a ON a.uid = se.uid
			WHERE se.token = ?`, token.String).Scan(&sess.UID, &sess.Email, &sess.DisplayName, &sess.SignedInAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, authErr(CodeNetwork, err)
		default:
			next = sess
		}
	}

	s.mu.Lock()
	changed := uidOf(s.current) != uidOf(next)
	if changed {
		s.mu.Unlock()
		s.setCurrent(next)
	} else {
		if next != nil {
			s.current = next
		}
		s.mu.Unlock()
	}
	return copySession(next), nil
}

func (s *Store) startSession(ctx context.Context, uid, email, name string) (*model.Session, error) {
	now := s.now().UTC()
	sess := &model.Session{
		UID:         uid,
		Email:       email,
		DisplayName: name,
		Token:       uuid.NewString(),
		SignedInAt:  now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, authErr(CodeNetwork, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE token IN (SELECT session_token FROM device WHERE id = 1)`); err != nil {
		return nil, authErr(CodeNetwork, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (token, uid, created_at) VALUES (?, ?, ?)`, sess.Token, uid, now); err != nil {
		return nil, authErr(CodeNetwork, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO device (id, session_token) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET session_token = excluded.session_token`, sess.Token); err != nil {
		return nil, authErr(CodeNetwork, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, authErr(CodeNetwork, err)
	}

	s.setCurrent(sess)
	appLog.Info("signed in", "uid", uid)
	return copySession(sess), nil
}

func (s *Store) throttled(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failed[email]
	if !ok {
		return false
	}
	if s.now().Sub(f.first) > s.opts.Lockout {
		delete(s.failed, email)
		return false
	}
	return f.count >= s.opts.MaxFailedAttempts
}

func (s *Store) recordFailure(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	f, ok := s.failed[email]
	if !ok || now.Sub(f.first) > s.opts.Lockout {
		f = &failures{first: now}
		s.failed[email] = f
	}
	f.count++
}

func (s *Store) clearFailures(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, email)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", authErr(CodeInvalidEmail, err)
	}
	_, domain, _ := strings.Cut(email, "@")
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", authErr(CodeInvalidEmail, nil)
	}
	return email, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func uidOf(s *model.Session) string {
	if s == nil {
		return ""
	}
	return s.UID
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
