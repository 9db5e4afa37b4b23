package push

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrUnauthorized is returned when the tenant key is rejected.
var ErrUnauthorized = errors.New("invalid tenant key")

// TenantVerifier decides whether a tenant key may push pages.
type TenantVerifier interface {
	Verify(ctx context.Context, tenantKey string) (bool, error)
}

// StaticTenants accepts a fixed set of keys.
type StaticTenants struct {
	keys []string
}

// NewStaticTenants creates a verifier for keys. Blank keys are ignored.
func NewStaticTenants(keys []string) *StaticTenants {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	return &StaticTenants{keys: clean}
}

// Verify compares tenantKey against every configured key in constant time.
func (s *StaticTenants) Verify(_ context.Context, tenantKey string) (bool, error) {
	ok := false
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(tenantKey)) == 1 {
			ok = true
		}
	}
	return ok, nil
}
