package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("invalid token")

// Principal is the caller behind a bearer token. Bridges (chat bots) may
// drive sessions; operators may also move money and abort sessions.
type Principal struct {
	Name     string
	Operator bool
}

type plainToken struct {
	token []byte
	who   Principal
}

type hashedToken struct {
	hash []byte
	who  Principal
}

// Verifier checks bearer tokens against configured plain tokens and bcrypt
// hashes. Tokens that matched a hash are remembered by digest so bcrypt
// runs once per token.
type Verifier struct {
	mu     sync.RWMutex
	plain  []plainToken
	hashed []hashedToken
	known  map[[sha256.Size]byte]Principal
}

func NewVerifier() *Verifier {
	return &Verifier{known: make(map[[sha256.Size]byte]Principal)}
}

func (v *Verifier) AddToken(token string, who Principal) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plain = append(v.plain, plainToken{token: []byte(token), who: who})
	return nil
}

func (v *Verifier) AddHash(hash string, who Principal) error {
	hash = strings.TrimSpace(hash)
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("token hash: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hashed = append(v.hashed, hashedToken{hash: []byte(hash), who: who})
	return nil
}

func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrUnauthorized
	}
	raw := []byte(token)
	digest := sha256.Sum256(raw)

	v.mu.RLock()
	for _, p := range v.plain {
		if subtle.ConstantTimeCompare(p.token, raw) == 1 {
			v.mu.RUnlock()
			return p.who, nil
		}
	}
	if who, ok := v.known[digest]; ok {
		v.mu.RUnlock()
		return who, nil
	}
	hashed := v.hashed
	v.mu.RUnlock()

	for _, h := range hashed {
		if err := ctx.Err(); err != nil {
			return Principal{}, err
		}
		if bcrypt.CompareHashAndPassword(h.hash, raw) == nil {
			v.mu.Lock()
			v.known[digest] = h.who
			v.mu.Unlock()
			return h.who, nil
		}
	}
	return Principal{}, ErrUnauthorized
}

// HashToken returns the bcrypt hash to put in ARENA_API_TOKEN_HASH.
func HashToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if len(token) < 16 {
		return "", fmt.Errorf("token must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
