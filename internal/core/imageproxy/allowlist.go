package imageproxy

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrEmptyAllowList is returned when no allow rules are configured.
var ErrEmptyAllowList = errors.New("allow list must contain at least one entry")

// RuleKind distinguishes the two forms an allow rule can take.
type RuleKind int

const (
	// RulePrefix matches by literal string prefix against the normalized URL.
	RulePrefix RuleKind = iota
	// RuleDomain matches the parsed hostname case-insensitively, regardless of scheme.
	RuleDomain
)

func (k RuleKind) String() string {
	switch k {
	case RulePrefix:
		return "prefix"
	case RuleDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// AllowRule is a single allow list entry.
type AllowRule struct {
	Kind  RuleKind
	Value string
}

// PrefixRule builds a URL-prefix rule. Protocol-relative prefixes are treated as https.
func PrefixRule(prefix string) AllowRule {
	if strings.HasPrefix(prefix, "//") {
		prefix = "https:" + prefix
	}
	return AllowRule{Kind: RulePrefix, Value: prefix}
}

// DomainRule builds a bare-domain rule.
func DomainRule(domain string) AllowRule {
	return AllowRule{Kind: RuleDomain, Value: strings.ToLower(domain)}
}

var explicitSchemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// ParseAllowRule classifies a raw entry: anything with an explicit scheme or a
// leading "//" is a URL prefix, everything else is a bare domain.
func ParseAllowRule(entry string) AllowRule {
	entry = strings.TrimSpace(entry)
	if explicitSchemeRe.MatchString(entry) || strings.HasPrefix(entry, "//") {
		return PrefixRule(entry)
	}
	return DomainRule(entry)
}

// ParseAllowList splits a comma-separated list into rules, skipping blank entries.
func ParseAllowList(raw string) ([]AllowRule, error) {
	var rules []AllowRule
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		rules = append(rules, ParseAllowRule(part))
	}
	if len(rules) == 0 {
		return nil, ErrEmptyAllowList
	}
	return rules, nil
}

// Matches reports whether the rule admits the URL. normalized must be the
// string form of u after normalization.
func (r AllowRule) Matches(u *url.URL, normalized string) bool {
	switch r.Kind {
	case RulePrefix:
		return r.Value != "" && strings.HasPrefix(normalized, r.Value)
	case RuleDomain:
		return r.Value != "" && strings.EqualFold(u.Hostname(), r.Value)
	default:
		return false
	}
}

// Allowed reports whether any rule admits the URL.
func Allowed(rules []AllowRule, u *url.URL) bool {
	normalized := u.String()
	for _, rule := range rules {
		if rule.Matches(u, normalized) {
			return true
		}
	}
	return false
}
