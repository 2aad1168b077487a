// Package auth resolves bearer tokens to identities and decides whether an
// identity may open a given stream.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

var (
	// ErrUnauthenticated means no valid identity was presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the identity is valid but lacks access to the scope.
	ErrForbidden = errors.New("forbidden")
)

const (
	// TokenPrefix marks session tokens issued by this service.
	TokenPrefix   = "cft_"
	tokenRawBytes = 32
)

// Resolver maps an opaque token to an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*model.Identity, error)
}

// GenerateToken creates a new session token. It returns the plaintext (shown
// once) and the SHA-256 hash for storage.
func GenerateToken() (plaintext, hash string, err error) {
	raw := make([]byte, tokenRawBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return plaintext, HashToken(plaintext), nil
}

// HashToken returns the SHA-256 hex digest of a token string.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// StoreResolver looks up unexpired sessions by token hash.
type StoreResolver struct {
	Store store.Store
	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *StoreResolver) Resolve(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := r.Store.GetSession(ctx, HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if sess.Expired(now()) {
		return nil, ErrUnauthenticated
	}
	return sess.Identity(), nil
}

// IssueSession creates a session for userID and returns its plaintext token.
// A zero ttl never expires.
func IssueSession(ctx context.Context, s store.Store, userID string, role model.Role, ttl time.Duration) (string, *model.Session, error) {
	if userID == "" || !role.IsValid() {
		return "", nil, fmt.Errorf("invalid session identity %q/%q", userID, role)
	}
	token, hash, err := GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}
	now := time.Now().UTC()
	sess := &model.Session{TokenHash: hash, UserID: userID, Role: role, CreatedAt: now}
	if ttl > 0 {
		sess.ExpiresAt = now.Add(ttl)
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}
	return token, sess, nil
}

// StaticResolver accepts a single configured service token as an owner.
type StaticResolver struct {
	Token  string
	UserID string
}

func (r *StaticResolver) Resolve(_ context.Context, token string) (*model.Identity, error) {
	if r.Token == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(r.Token)) != 1 {
		return nil, ErrUnauthenticated
	}
	userID := r.UserID
	if userID == "" {
		userID = "service"
	}
	return &model.Identity{UserID: userID, Role: model.RoleOwner}, nil
}

// ChainResolver tries each resolver in order and returns the first identity.
// Errors other than ErrUnauthenticated stop the chain.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, token string) (*model.Identity, error) {
	for _, r := range c {
		id, err := r.Resolve(ctx, token)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
	}
	return nil, ErrUnauthenticated
}
