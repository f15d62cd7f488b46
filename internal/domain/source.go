package domain

import (
	"fmt"
	"net/url"
)

// Source is an immutable document source configuration entry.
type Source struct {
	Key          string
	URL          string
	Type         DocumentType
	Title        string
	Language     string
	ChunkSize    int
	ChunkOverlap int
}

// AllowList is the SSRF guard derived from the configured sources at
// process start. Only HTTPS URLs whose host appears in the configured
// source set pass validation.
type AllowList struct {
	hosts map[string]struct{}
}

// NewAllowList derives the fetchable host set from the configured sources.
// Sources with unparseable URLs are rejected here rather than at fetch time.
func NewAllowList(sources []Source) (*AllowList, error) {
	hosts := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		u, err := url.Parse(src.URL)
		if err != nil {
			return nil, fmt.Errorf("source %s: parse url: %w", src.Key, err)
		}
		if u.Scheme != "https" {
			return nil, fmt.Errorf("source %s: scheme %q: %w", src.Key, u.Scheme, ErrURLNotAllowed)
		}
		if u.Hostname() == "" {
			return nil, fmt.Errorf("source %s: empty host: %w", src.Key, ErrURLNotAllowed)
		}
		hosts[u.Hostname()] = struct{}{}
	}
	return &AllowList{hosts: hosts}, nil
}

// Validate rejects URLs outside the derived host set or not using HTTPS.
// Called before any network dial.
func (a *AllowList) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse %q: %w", rawURL, ErrURLNotAllowed)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not https: %w", u.Scheme, ErrURLNotAllowed)
	}
	if _, ok := a.hosts[u.Hostname()]; !ok {
		return fmt.Errorf("host %q is not in the source allow-list: %w", u.Hostname(), ErrURLNotAllowed)
	}
	return nil
}
