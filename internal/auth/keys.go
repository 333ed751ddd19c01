package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/quill/printhold/internal/db"
)

const keyPrefix = "pq_"

// KeyService issues and validates API keys. Only the sha256 digest of a
// key is persisted; the raw secret is returned once at creation and is
// gone after that. Revocation is fail-closed: the lookup excludes revoked
// rows, so the very next validation after a revoke fails.
type KeyService struct {
	keys         *db.ApiKeyOperations
	limiter      *SlidingWindow
	defaultLimit int
}

func NewKeyService(keys *db.ApiKeyOperations, limiter *SlidingWindow, defaultLimit int) *KeyService {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &KeyService{keys: keys, limiter: limiter, defaultLimit: defaultLimit}
}

// Issue creates a key and returns the raw secret alongside the stored
// record. Scopes must be a subset of {read, write, admin}.
func (s *KeyService) Issue(ctx context.Context, name, owner string, scopes []string, rateLimit int) (string, *db.ApiKey, error) {
	if name == "" {
		return "", nil, fmt.Errorf("key name is required")
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeRead}
	}
	for _, sc := range scopes {
		if !ValidScope(sc) {
			return "", nil, fmt.Errorf("invalid scope %q", sc)
		}
	}
	if rateLimit <= 0 {
		rateLimit = s.defaultLimit
	}

	raw := keyPrefix + randomToken(32)
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode scopes: %w", err)
	}

	key := &db.ApiKey{
		KeyHash:    hashSecret(raw),
		KeyPrefix:  raw[:10],
		Name:       name,
		Owner:      owner,
		ScopesJSON: string(scopesJSON),
		RateLimit:  rateLimit,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// Validate authenticates a presented secret and enforces its rate limit,
// returning the principal it represents.
func (s *KeyService) Validate(ctx context.Context, rawKey string) (*Principal, error) {
	if !strings.HasPrefix(rawKey, keyPrefix) {
		return nil, ErrAuthenticationFailed
	}
	keyHash := hashSecret(rawKey)

	key, err := s.keys.GetActiveByHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	allowed, remaining := s.limiter.Allow(keyHash, key.RateLimit)
	if !allowed {
		return nil, ErrRateLimited
	}

	if err := s.keys.Touch(ctx, keyHash); err != nil {
		log.Printf("[auth] failed to touch key %s: %v", key.KeyPrefix, err)
	}

	var scopes []string
	if err := json.Unmarshal([]byte(key.ScopesJSON), &scopes); err != nil {
		return nil, fmt.Errorf("failed to decode key scopes: %w", err)
	}

	return &Principal{
		Kind:          KindAPIKey,
		Account:       key.Owner,
		Scopes:        scopes,
		RateRemaining: remaining,
	}, nil
}

func (s *KeyService) Revoke(ctx context.Context, id int64) error {
	return s.keys.Revoke(ctx, id)
}

func hashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
