package domain

import (
	"net/url"
	"strings"
	"time"
)

// ShortLinkBase is the public prefix of every short link.
const ShortLinkBase = "https://tinyurl.com/"

// Resource represents one managed short link.
//
// It is owned by the manager. Monitors never touch it: they only write the
// shared state entry, which the manager pulls back on synchronization.
type Resource struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is the session-local identifier, monotonic and never reused.
	ID int

	// Alias is the short identifier returned by the remote service.
	// Example: aB3x9
	Alias string

	// ShortLink is the public URL built from Alias.
	// Example: https://tinyurl.com/aB3x9
	ShortLink string

	// ─────────────────────────────
	// Redirect target
	// (rewritten by update or by monitor observations)
	// ─────────────────────────────

	// TargetURL is where the short link currently points.
	TargetURL string

	// Domain is the host of TargetURL.
	Domain string

	// ─────────────────────────────
	// Observation
	// (copied from the shared state on synchronization)
	// ─────────────────────────────

	Status    Status
	CheckedAt time.Time
}

// NewResource builds a resource from a freshly created alias.
func NewResource(id int, alias, targetURL string) *Resource {
	target := NormalizeURL(targetURL)
	return &Resource{
		ID:        id,
		Alias:     alias,
		ShortLink: ShortLink(alias),
		TargetURL: target,
		Domain:    HostOf(target),
		Status:    StatusUnknown,
	}
}

// Retarget points the resource at a new URL. The previous observation no
// longer applies.
func (r *Resource) Retarget(targetURL string) {
	r.TargetURL = NormalizeURL(targetURL)
	r.Domain = HostOf(r.TargetURL)
	r.Status = StatusUnknown
	r.CheckedAt = time.Time{}
}

// ShortLink returns the public URL for alias.
func ShortLink(alias string) string {
	return ShortLinkBase + alias
}

// NormalizeURL prefixes https:// when raw carries no scheme.
// The remote service sometimes answers with a bare host, so both user input
// and remote payloads go through here.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// HostOf returns the host (port stripped) of raw, or "" if it cannot be parsed.
func HostOf(raw string) string {
	u, err := url.Parse(NormalizeURL(raw))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
