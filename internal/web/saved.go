package web

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"campusevents/internal/account"
	"campusevents/internal/ics"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

func (s *Server) handleSaved(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dtos(s.deps.Saved.Saved()))
}

type toggleResponse struct {
	ID            string     `json:"id"`
	Saved         bool       `json:"saved"`
	ReminderID    string     `json:"reminderId,omitempty"`
	ReminderAt    *time.Time `json:"reminderAt,omitempty"`
	ReminderError string     `json:"reminderError,omitempty"`
	RemoteError   string     `json:"remoteError,omitempty"`
	Pending       bool       `json:"pending,omitempty"`
}

// handleToggle saves or unsaves one event. The list changes before the
// response; with ?wait=1 the response also reports the reminder and the
// remote write.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.deps.Catalog.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	out := s.deps.Saved.ToggleSave(ev)
	resp := toggleResponse{ID: ev.ID, Saved: out.Saved}

	if r.URL.Query().Get("wait") != "1" {
		resp.Pending = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	fx, err := out.Wait(ctx)
	if err != nil {
		resp.Pending = true
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.ReminderID = fx.ReminderID
	if !fx.ReminderAt.IsZero() {
		at := fx.ReminderAt
		resp.ReminderAt = &at
	}
	if fx.ReminderErr != nil {
		resp.ReminderError = fx.ReminderErr.Error()
	}
	if fx.RemoteErr != nil {
		resp.RemoteError = fx.RemoteErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// leadMinutes is the signed-in user's lead time, or the configured default.
func (s *Server) leadMinutes(ctx context.Context) int {
	def := s.cfg.Reminders.DefaultLeadMinutes
	if !model.ValidLeadTime(def) {
		def = model.DefaultLeadMinutes
	}
	sess := s.deps.Accounts.Current()
	if sess == nil {
		return def
	}
	prefs, err := s.deps.Documents.Preferences(ctx, sess.UID)
	if err != nil || prefs.NotificationTime == nil || !model.ValidLeadTime(*prefs.NotificationTime) {
		return def
	}
	return *prefs.NotificationTime
}

// handleSavedICS exports the saved list as an iCalendar file with a display
// alarm at the user's lead time.
func (s *Server) handleSavedICS(w http.ResponseWriter, r *http.Request) {
	body := ics.Export("Saved Events", s.deps.Saved.Saved(), s.leadMinutes(r.Context()), s.loc, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="saved-events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type preferencesResponse struct {
	NotificationTime int    `json:"notificationTime"`
	LocationEnabled  bool   `json:"locationEnabled"`
	Bio              string `json:"bio"`
	DisplayName      string `json:"displayName"`
	LeadTimes        []int  `json:"leadTimes"`
}

func preferencesView(p model.Preferences) preferencesResponse {
	resp := preferencesResponse{
		NotificationTime: p.LeadMinutes(),
		LocationEnabled:  p.Location(),
		LeadTimes:        model.LeadTimes,
	}
	if p.Bio != nil {
		resp.Bio = *p.Bio
	}
	if p.DisplayName != nil {
		resp.DisplayName = *p.DisplayName
	}
	return resp
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Accounts.Current()
	if sess == nil {
		writeAuthError(w, &account.AuthError{Code: account.CodeNoCurrentUser})
		return
	}
	prefs, err := s.deps.Documents.Preferences(r.Context(), sess.UID)
	if err != nil {
		// Defaults stand in for an unreadable document.
		appLog.Error("read preferences failed", err, "uid", sess.UID)
	}
	writeJSON(w, http.StatusOK, preferencesView(prefs))
}

// handleUpdatePreferences merge-writes the fields present in the body. A new
// lead time moves every pending reminder.
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch model.Preferences
	if !decodeJSON(w, r, &patch) {
		return
	}
	sess := s.deps.Accounts.Current()
	if sess == nil {
		writeAuthError(w, &account.AuthError{Code: account.CodeNoCurrentUser})
		return
	}

	merged, err := s.deps.Documents.MergePreferences(r.Context(), sess.UID, patch)
	if errors.Is(err, model.ErrInvalidLeadTime) {
		writeError(w, http.StatusBadRequest, "notificationTime must be one of 15, 30, 60, 120, 1440")
		return
	}
	if err != nil {
		appLog.Error("save preferences failed", err, "uid", sess.UID)
		writeError(w, http.StatusServiceUnavailable, "Failed to save preferences. Please try again.")
		return
	}

	if patch.NotificationTime != nil {
		s.deps.Saved.RescheduleAll()
	}
	writeJSON(w, http.StatusOK, preferencesView(merged))
}

func (s *Server) handleReminders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reminders.List())
}

func (s *Server) handleTestReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reminders.SendTest(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "Failed to send test notification.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Test notification sent."})
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" ||
		strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Please fill out all fields")
		return
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		writeError(w, http.StatusBadRequest, "Please enter a valid email address")
		return
	}

	appLog.Info("contact message received",
		"name", req.Name,
		"email", req.Email,
		"subject", req.Subject,
		"length", len(req.Message),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Thank you for contacting us. We'll get back to you within 24–48 hours.",
	})
}
