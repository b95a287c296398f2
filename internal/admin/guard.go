package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Decision is what C8 attaches to a connection for subsequent logging once
// the upgrade is allowed through.
type Decision struct {
	DomainID   string
	DomainName string
}

// GuardError carries the HTTP status C8 wants the caller to reject the
// upgrade with.
type GuardError struct {
	Status  int
	Message string
}

func (e *GuardError) Error() string { return e.Message }

// Guard is C8: the origin and key check run before every WebSocket upgrade.
type Guard struct {
	repo    *Repository
	devMode bool
}

func NewGuard(repo *Repository, devMode bool) *Guard {
	return &Guard{repo: repo, devMode: devMode}
}

// Check reads the API key from the request, looks it up, and validates the
// Origin header against the domain record. It returns a *GuardError whose
// Status is the exact code spec.md §4.8 requires.
func (g *Guard) Check(ctx context.Context, r *http.Request) (Decision, error) {
	key := r.URL.Query().Get("api_key")
	if key == "" {
		key = r.Header.Get("x-app-key")
	}
	if key == "" {
		return Decision{}, &GuardError{Status: http.StatusUnauthorized, Message: "missing api key"}
	}

	domain, err := g.repo.FindByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Decision{}, &GuardError{Status: http.StatusUnauthorized, Message: "unknown or inactive key"}
	}
	if err != nil {
		return Decision{}, &GuardError{Status: http.StatusServiceUnavailable, Message: "admin store unavailable"}
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		if !g.devMode {
			return Decision{}, &GuardError{Status: http.StatusForbidden, Message: "missing origin"}
		}
	} else if host := originHost(origin); !domainMatches(domain.DomainName, host) {
		return Decision{}, &GuardError{Status: http.StatusForbidden, Message: "origin does not match domain"}
	}

	return Decision{DomainID: domain.ID, DomainName: domain.DomainName}, nil
}

// originHost extracts the host component of an Origin header value, with
// any port stripped, per spec.md's "port ignored" rule.
func originHost(origin string) string {
	host := strings.TrimPrefix(strings.ToLower(origin), "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// domainMatches reports whether originHost satisfies a domain record's
// domain_name: "*" disables the check entirely, a "*.example.com" prefix
// matches example.com and any of its subdomains, otherwise an exact,
// case-insensitive match is required. Ported from original_source's
// handlers/ws.rs domain_matches.
func domainMatches(allowed, host string) bool {
	allowed = strings.ToLower(strings.TrimSpace(allowed))
	if allowed == "*" {
		return true
	}
	if strings.HasPrefix(allowed, "*") {
		suffix := strings.TrimPrefix(strings.TrimPrefix(allowed, "*"), ".")
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return allowed == host
}
