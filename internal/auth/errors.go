package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/federation"
	"github.com/elskow/memorial-auth/internal/identity"
	"github.com/elskow/memorial-auth/internal/tokens"
)

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password too short")
	ErrBreachedPassword   = errors.New("password found in a known breach")
	ErrAlreadyRegistered  = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidState       = errors.New("invalid or expired sign-in state")
	ErrInvalidToken       = errors.New("invalid or expired link")
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrResourceNotFound   = errors.New("resource not found")
	ErrInvalidInvitation  = errors.New("invalid invitation request")
	ErrInvalidRequest     = errors.New("invalid request")
)

// LockedError is returned while an email or origin is locked out. It carries
// only the end of the lockout, never which counter tripped.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, locked until %s", e.Until.Format(time.RFC3339))
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: wrapped errors match the first entry they satisfy.
var errorMappings = []errorMapping{
	{ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{ErrInvalidEmail, http.StatusBadRequest, "invalid_email", ""},
	{ErrWeakPassword, http.StatusBadRequest, "weak_password", ""},
	{ErrBreachedPassword, http.StatusBadRequest, "breached_password", "This password has appeared in a data breach. Please choose another."},
	{ErrInvalidToken, http.StatusBadRequest, "invalid_token", ""},
	{ErrInvalidInvitation, http.StatusBadRequest, "invalid_invitation", ""},
	{tokens.ErrInvalidRole, http.StatusBadRequest, "invalid_role", "Invitations can grant the editor or viewer role."},
	{ErrAlreadyRegistered, http.StatusConflict, "already_registered", "An account with this email already exists."},
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", ""},
	{identity.ErrInvalidRefreshToken, http.StatusUnauthorized, "unauthorized", "Session expired, please sign in again."},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", ""},
	{ErrForbidden, http.StatusForbidden, "forbidden", ""},
	{ErrResourceNotFound, http.StatusNotFound, "not_found", ""},
	{federation.ErrUnknownProvider, http.StatusNotFound, "unknown_provider", "Unknown sign-in provider."},
	{tokens.ErrNotFound, http.StatusNotFound, "not_found", "This link is not valid."},
	{tokens.ErrExpired, http.StatusGone, "expired", "This link has expired."},
	{tokens.ErrAlreadyUsed, http.StatusGone, "already_used", "This link has already been used."},
	{ErrInvalidState, http.StatusBadRequest, "invalid_state", ""},
	{federation.ErrExchangeFailed, http.StatusBadGateway, "exchange_failed", "Sign-in with the provider failed."},
	{tokens.ErrEmailDelivery, http.StatusBadGateway, "email_delivery_failed", "We could not send the email. Please try again."},
	{identity.ErrReconciliation, http.StatusInternalServerError, "reconciliation_failed", "We could not complete sign-in. Please try again."},
}

// writeError maps err onto a stable status and code. Unrecognized errors are
// logged and reported as internal.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var locked *LockedError
	if errors.As(err, &locked) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":         "locked",
			"message":       "Too many failed attempts. Try again later.",
			"lockoutEndsAt": locked.Until.UTC().Format(time.RFC3339),
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status >= http.StatusInternalServerError {
				log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
			}
			message := m.message
			if message == "" {
				message = m.target.Error()
			}
			c.JSON(m.status, gin.H{"error": m.code, "message": message})
			return
		}
	}

	log.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal",
		"message": "Something went wrong. Please try again.",
	})
}

// redirectCode is the generic ?error= value used when a browser flow fails.
func redirectCode(err error) string {
	switch {
	case errors.Is(err, tokens.ErrExpired):
		return "expired_link"
	case errors.Is(err, tokens.ErrAlreadyUsed):
		return "used_link"
	case errors.Is(err, tokens.ErrNotFound):
		return "invalid_link"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, federation.ErrExchangeFailed), errors.Is(err, federation.ErrUnknownProvider):
		return "sso_failed"
	default:
		return "auth_failed"
	}
}
