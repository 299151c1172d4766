// Package config reads runtime settings from the system_config table with an
// environment override and a short-lived in-process cache. Operators can flip
// values (checkout URLs, topup price) without a redeploy.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Well-known configuration keys.
const (
	KeyTopupPriceID    = "billing.topup_price_id"
	KeyCheckoutSuccess = "billing.checkout_success_url"
	KeyCheckoutCancel  = "billing.checkout_cancel_url"
	KeyPortalReturnURL = "billing.portal_return_url"
	KeyRelayTargetURL  = "relay.target_url"
	KeyRelayEnabled    = "relay.enabled"
)

const cacheTTL = time.Minute

// Service resolves configuration values. Resolution order is environment
// variable, cache, database, caller default. The env var name is the key
// uppercased with dots replaced by underscores.
type Service struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// New creates a config service backed by db.
func New(db *sql.DB) *Service {
	return &Service{
		db:    db,
		cache: make(map[string]cacheEntry),
	}
}

// GetString returns the value for key, or defaultValue when unset.
func (s *Service) GetString(ctx context.Context, key, defaultValue string) (string, error) {
	value, ok, err := s.lookup(ctx, key)
	if err != nil {
		return "", err
	}

	if !ok {
		return defaultValue, nil
	}

	return value, nil
}

// GetBool returns the value for key as a bool. "true" and "1" are truthy.
func (s *Service) GetBool(ctx context.Context, key string, defaultValue bool) (bool, error) {
	value, ok, err := s.lookup(ctx, key)
	if err != nil {
		return false, err
	}

	if !ok {
		return defaultValue, nil
	}

	return strings.EqualFold(value, "true") || value == "1", nil
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool, error) {
	envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if v := os.Getenv(envKey); v != "" {
		return v, true, nil
	}

	if v, ok := s.cached(key); ok {
		return v, true, nil
	}

	const q = `SELECT value FROM system_config WHERE key = $1`

	var value string

	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("failed to read config %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(cacheTTL)}
	s.mu.Unlock()

	return value, true, nil
}

func (s *Service) cached(key string) (string, bool) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}

	return entry.value, true
}
