package crawler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Source limits.
const (
	DefaultMaxDepth = 2
	DefaultMaxPages = 50
	MaxDepthLimit   = 10
	MaxPagesLimit   = 1000
	DefaultVersion  = "v1"
)

var sourceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ErrInvalidSource marks a source configuration rejected before any network call.
var ErrInvalidSource = errors.New("invalid source config")

// ApplyDefaults fills optional fields that were left empty.
func (s *SourceConfig) ApplyDefaults() {
	if s.Type == "" {
		s.Type = SourceOfficial
	}
	if s.Lang == "" {
		s.Lang = LangJA
	}
	if s.Version == "" {
		s.Version = DefaultVersion
	}
	if s.Title == "" {
		s.Title = s.ID
	}
}

// Validate checks the source against the crawl limits.
func (s SourceConfig) Validate() error {
	var errs []string
	if !sourceIDPattern.MatchString(s.ID) {
		errs = append(errs, fmt.Sprintf("id %q must be a lowercase slug", s.ID))
	}
	switch s.Type {
	case SourceOfficial, SourceOrganization, SourceEducation:
	default:
		errs = append(errs, fmt.Sprintf("type %q is not supported", s.Type))
	}
	switch s.Lang {
	case LangJA, LangEN, LangZH:
	default:
		errs = append(errs, fmt.Sprintf("lang %q is not supported", s.Lang))
	}
	if strings.TrimSpace(s.Version) == "" {
		errs = append(errs, "version is required")
	}
	if len(s.Seeds) == 0 {
		errs = append(errs, "at least one seed is required")
	}
	for _, seed := range s.Seeds {
		if !IsHTTP(seed) {
			errs = append(errs, fmt.Sprintf("seed %q must be an absolute http(s) url", seed))
		}
	}
	if s.MaxDepth < 0 || s.MaxDepth > MaxDepthLimit {
		errs = append(errs, fmt.Sprintf("maxDepth must be within 0..%d", MaxDepthLimit))
	}
	if s.MaxPages < 1 || s.MaxPages > MaxPagesLimit {
		errs = append(errs, fmt.Sprintf("maxPages must be within 1..%d", MaxPagesLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidSource, s.ID, strings.Join(errs, "; "))
	}
	return nil
}
