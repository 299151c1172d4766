// Package auth is the HTTP authentication middleware. It verifies bearer
// tokens and resolves (or provisions) the caller's account.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formationai/marketplace/auth"
	"github.com/formationai/marketplace/models"
)

// ContextKey is the type for values the middleware stores on the request
// context.
type ContextKey string

const (
	// AccountKey is the context key for the resolved account.
	AccountKey ContextKey = "account"
	// SubjectKey is the context key for the token's subject id.
	SubjectKey ContextKey = "subject"
	// AuthHeaderName is the header carrying the bearer token.
	AuthHeaderName = "Authorization"
)

// Logger is the subset of log.Logger the middleware needs.
type Logger interface {
	Printf(format string, v ...any)
}

// Middleware authenticates requests and attaches the caller's account. An
// unknown subject with a valid token gets an account provisioned on first
// contact.
type Middleware struct {
	verifier *auth.Verifier
	accounts models.AccountRepository
	logger   Logger
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(verifier *auth.Verifier, accounts models.AccountRepository, logger Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		accounts: accounts,
		logger:   logger,
	}
}

// Authenticate rejects requests without a valid bearer token and stores the
// subject id and account on the context for downstream handlers.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "No token provided")
			return
		}

		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.logger.Printf("token verification failed for %s %s: %v", r.Method, r.URL.Path, err)
			unauthorized(w, "Invalid token")
			return
		}

		account := models.Account{
			ID:        uuid.New().String(),
			SubjectID: claims.Subject,
			Address:   claims.Address,
			Email:     claims.Email,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}

		if err := m.accounts.GetOrCreateBySubject(r.Context(), &account); err != nil {
			m.logger.Printf("failed to resolve account for subject %s: %v", claims.Subject, err)
			renderError(w, http.StatusInternalServerError, "Failed to resolve account")
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
		ctx = context.WithValue(ctx, AccountKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccount extracts the authenticated account from the context.
func GetAccount(ctx context.Context) (models.Account, error) {
	account, ok := ctx.Value(AccountKey).(models.Account)
	if !ok {
		return models.Account{}, errors.New("request not authenticated")
	}

	return account, nil
}

// GetSubject extracts the verified subject id from the context.
func GetSubject(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(SubjectKey).(string)
	if !ok || subject == "" {
		return "", errors.New("request not authenticated")
	}

	return subject, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(AuthHeaderName)
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func unauthorized(w http.ResponseWriter, message string) {
	renderError(w, http.StatusUnauthorized, message)
}

func renderError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIError{Error: message})
}
