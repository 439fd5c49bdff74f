// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy holds the normalized allow-list derived from configuration.
// A "*" entry in the configured origins allows every origin.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *zap.Logger
}

func newOriginPolicy(origins []string, log *zap.Logger) *originPolicy {
	p := &originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p *originPolicy) isAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}
	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

func (p *originPolicy) check(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}
	p.log.Warn("blocked WebSocket connection from disallowed origin",
		zap.String("origin", r.Header.Get("Origin")))
	return false
}
