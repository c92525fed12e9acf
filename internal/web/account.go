package web

import (
	"net/http"
	"strings"

	"campusevents/internal/account"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/store"
)

type authErrorResponse struct {
	Error string       `json:"error"`
	Code  account.Code `json:"code,omitempty"`
}

// writeAuthError turns an account error into the alert text the user sees.
func writeAuthError(w http.ResponseWriter, err error) {
	code := account.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case account.CodeInvalidCredential, account.CodeNoCurrentUser:
		status = http.StatusUnauthorized
	case account.CodeRequiresRecentLogin:
		status = http.StatusForbidden
	case account.CodeEmailInUse:
		status = http.StatusConflict
	case account.CodeWeakPassword, account.CodeInvalidEmail:
		status = http.StatusBadRequest
	case account.CodeTooManyRequests:
		status = http.StatusTooManyRequests
	case account.CodeNetwork:
		status = http.StatusServiceUnavailable
	default:
		appLog.Error("account operation failed", err)
	}
	writeJSON(w, status, authErrorResponse{Error: account.UserMessage(err), Code: code})
}

type signUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	DisplayName     string `json:"displayName"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Please fill out all fields.")
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		writeError(w, http.StatusBadRequest, "Passwords do not match.")
		return
	}

	sess, err := s.deps.Accounts.CreateAccount(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Please fill out all fields.")
		return
	}

	sess, err := s.deps.Accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Accounts.SignOut(r.Context()); err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		writeError(w, http.StatusBadRequest, "Please fill out all fields.")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "New passwords do not match.")
		return
	}

	if err := s.deps.Accounts.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Your password has been updated."})
}

type meResponse struct {
	User    *model.Session `json:"user"`
	Profile store.Profile  `json:"profile"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Accounts.Current()
	if sess == nil {
		writeAuthError(w, &account.AuthError{Code: account.CodeNoCurrentUser})
		return
	}
	profile, err := s.deps.Documents.Profile(r.Context(), sess.UID)
	if err != nil {
		// The account screen still renders without the document.
		appLog.Error("read profile failed", err, "uid", sess.UID)
	}
	writeJSON(w, http.StatusOK, meResponse{User: sess, Profile: profile})
}

type profileRequest struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
}

// handleUpdateProfile saves the edit-profile form: the display name on the
// account and both fields in the user's preferences.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := s.deps.Accounts.Current()
	if sess == nil {
		writeAuthError(w, &account.AuthError{Code: account.CodeNoCurrentUser})
		return
	}

	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		req.DisplayName = &name
		updated, err := s.deps.Accounts.UpdateProfile(r.Context(), name)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		sess = updated
	}

	if _, err := s.deps.Documents.MergePreferences(r.Context(), sess.UID, model.Preferences{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	}); err != nil {
		appLog.Error("save profile failed", err, "uid", sess.UID)
		writeError(w, http.StatusServiceUnavailable, "Failed to save profile. Please try again.")
		return
	}

	profile, err := s.deps.Documents.Profile(r.Context(), sess.UID)
	if err != nil {
		appLog.Error("read profile failed", err, "uid", sess.UID)
	}
	writeJSON(w, http.StatusOK, meResponse{User: sess, Profile: profile})
}
