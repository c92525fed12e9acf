package account

import (
	"errors"
	"fmt"
)

// Code is a provider-style authentication error code.
type Code string

const (
	CodeInvalidCredential   Code = "auth/invalid-credential"
	CodeEmailInUse          Code = "auth/email-already-in-use"
	CodeWeakPassword        Code = "auth/weak-password"
	CodeInvalidEmail        Code = "auth/invalid-email"
	CodeTooManyRequests     Code = "auth/too-many-requests"
	CodeNetwork             Code = "auth/network-request-failed"
	CodeRequiresRecentLogin Code = "auth/requires-recent-login"
	CodeNoCurrentUser       Code = "auth/no-current-user"
)

// AuthError is returned by every account operation that fails.
type AuthError struct {
	Code Code
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// PasswordTooShortError is the cause of a CodeWeakPassword failure.
type PasswordTooShortError struct {
	Min int
}

func (e *PasswordTooShortError) Error() string {
	return fmt.Sprintf("password shorter than %d characters", e.Min)
}

func authErr(code Code, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

// CodeOf extracts the code of an AuthError anywhere in err's chain.
func CodeOf(err error) Code {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

const (
	genericMessage      = "Something went wrong. Please try again."
	shortPasswordFormat = "Password is too weak. Please use at least %d characters."
)

var messages = map[Code]string{
	CodeInvalidCredential:   "Incorrect email or password. Please try again.",
	CodeEmailInUse:          "This email is already registered. Please sign in instead.",
	CodeWeakPassword:        "Password is too weak. Please use a longer password.",
	CodeInvalidEmail:        "Invalid email address. Please check and try again.",
	CodeTooManyRequests:     "Too many failed attempts. Please try again later.",
	CodeNetwork:             "Network error. Please check your internet connection.",
	CodeRequiresRecentLogin: "Please confirm your current password and try again.",
	CodeNoCurrentUser:       "Please sign in first.",
}

// UserMessage is the alert text shown for err. Unknown failures get a
// generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var short *PasswordTooShortError
	if errors.As(err, &short) {
		return fmt.Sprintf(shortPasswordFormat, short.Min)
	}
	if msg, ok := messages[CodeOf(err)]; ok {
		return msg
	}
	return genericMessage
}
