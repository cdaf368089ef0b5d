package conflict

import (
	"path/filepath"

	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
)

// Rule pairs a glob pattern (matched against an item's path relative to
// the sync root) with the resolution to auto-apply when it matches.
type Rule struct {
	Pattern    string
	Resolution domain.Resolution
}

// Policy is the ordered rule list plus a fallback, per spec.md §4.H /
// §9: "first matching rule wins; unmatched paths fall back to the
// configured default, which may itself be Manual."
type Policy struct {
	Rules   []Rule
	Default domain.Resolution
}

// NewPolicy compiles rules, dropping any with an invalid glob pattern.
// An invalid pattern is a configuration mistake, not a fatal error: it is
// logged and skipped, per spec.md §9.
func NewPolicy(rules []Rule, def domain.Resolution) *Policy {
	log := lnxlog.NewLogContext("conflict").WithMethod("NewPolicy").Logger()
	valid := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if _, err := filepath.Match(r.Pattern, "probe"); err != nil {
			log.Warn().Str("pattern", r.Pattern).Err(err).Msg("dropping invalid conflict policy pattern")
			continue
		}
		valid = append(valid, r)
	}
	return &Policy{Rules: valid, Default: def}
}

// Resolve returns the resolution that applies to relativePath: the first
// matching rule, or the policy default.
func (p *Policy) Resolve(relativePath string) domain.Resolution {
	base := filepath.Base(relativePath)
	for _, r := range p.Rules {
		if ok, _ := filepath.Match(r.Pattern, relativePath); ok {
			return r.Resolution
		}
		if ok, _ := filepath.Match(r.Pattern, base); ok {
			return r.Resolution
		}
	}
	return p.Default
}

// ShouldAutoResolve reports the resolution to auto-apply for
// relativePath, or (_, false) when the policy says Manual, mirroring
// original_source's should_auto_resolve: Manual always means "stop and
// ask", never an auto-applied resolution.
func (p *Policy) ShouldAutoResolve(relativePath string) (domain.Resolution, bool) {
	res := p.Resolve(relativePath)
	if res == domain.ResolutionManual {
		return domain.ResolutionManual, false
	}
	return res, true
}
