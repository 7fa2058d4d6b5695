package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthService authenticates callers of the local HTTP surface against a fixed
// set of API keys. Only token hashes are held in memory.
type AuthService struct {
	keys map[string]domain.APIKey
}

func NewAuthService(keys ...domain.APIKey) *AuthService {
	m := make(map[string]domain.APIKey, len(keys))
	for _, k := range keys {
		m[k.TokenHash] = k
	}
	return &AuthService{keys: m}
}

// ParseAPIKeys reads "name:token" pairs. A bare token gets a generated name.
func ParseAPIKeys(raw []string) ([]domain.APIKey, error) {
	keys := make([]domain.APIKey, 0, len(raw))
	for i, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, token, ok := strings.Cut(entry, ":")
		if !ok {
			name, token = "key-"+strconv.Itoa(i+1), entry
		}
		if strings.TrimSpace(token) == "" {
			return nil, errors.New("api key token must not be empty")
		}
		keys = append(keys, domain.APIKey{Name: name, TokenHash: HashToken(strings.TrimSpace(token))})
	}
	return keys, nil
}

func (s *AuthService) Enabled() bool {
	return s != nil && len(s.keys) > 0
}

func (s *AuthService) Authenticate(_ context.Context, token string) (domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.APIKey{}, ErrUnauthorized
	}
	apiKey, ok := s.keys[HashToken(token)]
	if !ok {
		return domain.APIKey{}, ErrUnauthorized
	}
	return apiKey, nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
