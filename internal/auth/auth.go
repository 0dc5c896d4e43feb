package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no valid credential accompanies a
// request.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves bearer tokens to opaque user scope keys. The
// token table is static, loaded from configuration at startup.
type Authenticator struct {
	tokens map[string]string // token -> user scope
}

func New(tokens map[string]string) *Authenticator {
	table := make(map[string]string, len(tokens))
	for token, user := range tokens {
		table[token] = user
	}
	return &Authenticator{tokens: table}
}

// ParseTokenPairs parses "token:user,token:user" as used by the
// AUTH_TOKENS environment variable.
func ParseTokenPairs(s string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("malformed token pair %q, want token:user", pair)
		}
		if _, dup := tokens[token]; dup {
			return nil, fmt.Errorf("duplicate token in pair %q", pair)
		}
		tokens[token] = user
	}
	return tokens, nil
}

// UserForRequest extracts the bearer token and maps it to a user scope.
func (a *Authenticator) UserForRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrUnauthenticated
	}
	user, ok := a.tokens[token]
	if !ok {
		return "", ErrUnauthenticated
	}
	return user, nil
}
