// Package auth implements Ingress's and the DLQ admin endpoints' bearer
// token gate. Grounded on internal/api/auth.go's authorizer, with the
// tenant/role matrix removed: the spec's Non-goals exclude multi-tenant
// auth specifically, so Altify keeps one flat set of scopes per token
// ("read", "submit", "approve", "operator") rather than a tenant hierarchy.
package auth

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"strings"
)

type Principal struct {
	ID     string
	scopes map[string]struct{}
}

// HasScope reports whether the principal holds scope directly, or holds
// "operator" (which implies every scope).
func (p Principal) HasScope(scope string) bool {
	if _, ok := p.scopes["operator"]; ok {
		return true
	}
	_, ok := p.scopes[scope]
	return ok
}

// Authorizer gates requests by bearer token. With no tokens configured it
// runs open (every caller is the "anonymous" principal with no scopes
// required) — the same dev-mode default the teacher's authorizer uses.
type Authorizer struct {
	enabled bool
	tokens  map[string]Principal
}

func NewFromEnv() *Authorizer {
	raw := strings.TrimSpace(os.Getenv("ALTIFY_API_TOKENS"))
	if raw == "" {
		return &Authorizer{enabled: false, tokens: map[string]Principal{}}
	}
	tokens := make(map[string]Principal)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		token := strings.TrimSpace(parts[0])
		scopeRaw := strings.TrimSpace(parts[1])
		if token == "" || scopeRaw == "" {
			continue
		}
		scopes := map[string]struct{}{}
		for _, s := range strings.Split(scopeRaw, "|") {
			if s = strings.TrimSpace(s); s != "" {
				scopes[s] = struct{}{}
			}
		}
		if len(scopes) > 0 {
			tokens[token] = Principal{ID: tokenID(token), scopes: scopes}
		}
	}
	if len(tokens) == 0 {
		return &Authorizer{enabled: false, tokens: map[string]Principal{}}
	}
	return &Authorizer{enabled: true, tokens: tokens}
}

// Authorize checks the request's bearer token against requiredAny (OR
// semantics; no scopes required means "any authenticated caller").
func (a *Authorizer) Authorize(r *http.Request, requiredAny ...string) (Principal, int, string) {
	if !a.enabled {
		return Principal{ID: "anonymous", scopes: map[string]struct{}{}}, http.StatusOK, ""
	}
	token := bearerToken(r)
	if token == "" {
		return Principal{}, http.StatusUnauthorized, "missing bearer token"
	}
	p, ok := a.tokens[token]
	if !ok {
		return Principal{}, http.StatusUnauthorized, "invalid token"
	}
	if len(requiredAny) == 0 {
		return p, http.StatusOK, ""
	}
	for _, scope := range requiredAny {
		if p.HasScope(scope) {
			return p, http.StatusOK, ""
		}
	}
	return p, http.StatusForbidden, fmt.Sprintf("missing required scope (one of: %s)", strings.Join(requiredAny, ","))
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return strings.TrimSpace(r.Header.Get("X-Altify-Token"))
}

func tokenID(token string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return fmt.Sprintf("tok-%08x", h.Sum32())
}
