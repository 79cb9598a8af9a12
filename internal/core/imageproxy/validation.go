package imageproxy

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// OriginRequest holds the raw, unvalidated inputs of a single proxy call.
// Width and Height are the raw query values; they are parsed during validation.
type OriginRequest struct {
	RawURL  string
	Width   string
	Height  string
	Referer string
}

// NormalizedTarget is the canonical form of an origin request. Width and
// Height are zero when unset.
type NormalizedTarget struct {
	URL     *url.URL
	Width   int
	Height  int
	Referer string
}

// Origin returns the scheme and host of the target, e.g. "https://cdn.example.com".
func (t NormalizedTarget) Origin() string {
	return t.URL.Scheme + "://" + t.URL.Host
}

var (
	imageExtensions = map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".webp": true,
		".gif":  true,
	}
	imageURLRe     = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp|gif)(\?|$)`)
	imageSegmentRe = regexp.MustCompile(`(?i)/(resize|thumbnail|image|images)/`)
)

// Validator turns raw requests into normalized targets, enforcing the allow list.
type Validator struct {
	rules []AllowRule
}

// NewValidator creates a Validator for the given allow rules.
func NewValidator(rules []AllowRule) (*Validator, error) {
	if len(rules) == 0 {
		return nil, ErrEmptyAllowList
	}
	return &Validator{rules: rules}, nil
}

// Validate normalizes the origin URL, checks it against the allow list,
// resolves dimensions and rejects URLs that do not look like images.
// Every error returned wraps one of ErrMissingURL, ErrInvalidURL,
// ErrUnsupportedScheme, ErrURLNotAllowed or ErrNotImage.
func (v *Validator) Validate(req OriginRequest) (NormalizedTarget, error) {
	u, err := NormalizeURL(req.RawURL)
	if err != nil {
		return NormalizedTarget{}, err
	}

	if !Allowed(v.rules, u) {
		return NormalizedTarget{}, fmt.Errorf("%w: %s", ErrURLNotAllowed, u.String())
	}

	originQuery := u.Query()
	width := parseDimension(req.Width)
	if width == 0 {
		width = parseDimension(originQuery.Get("w"))
	}
	height := parseDimension(req.Height)
	if height == 0 {
		height = parseDimension(originQuery.Get("h"))
	}

	if !IsImageLike(u) {
		return NormalizedTarget{}, fmt.Errorf("%w: %s", ErrNotImage, u.String())
	}

	return NormalizedTarget{
		URL:     u,
		Width:   width,
		Height:  height,
		Referer: resolveReferer(req.Referer, u),
	}, nil
}

// NormalizeURL gives schemeless and protocol-relative inputs an explicit
// https scheme, parses the result and lower-cases scheme and host.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingURL
	}

	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case explicitSchemeRe.MatchString(raw):
		scheme := strings.ToLower(raw[:strings.Index(raw, ":")])
		if scheme != "http" && scheme != "https" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
		}
	default:
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	// Userinfo would let "https://allowed.example@other.host/" pass a prefix rule.
	if u.User != nil {
		return nil, fmt.Errorf("%w: userinfo not allowed", ErrInvalidURL)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// IsImageLike accepts known raster extensions on the path, an image
// extension anywhere in the URL followed by a query or the end, or a
// resize/thumbnail/image/images path segment.
func IsImageLike(u *url.URL) bool {
	if imageExtensions[strings.ToLower(path.Ext(u.Path))] {
		return true
	}
	if imageURLRe.MatchString(u.String()) {
		return true
	}
	return imageSegmentRe.MatchString(u.Path)
}

// parseDimension returns the value as a positive integer, or 0 when unset or invalid.
func parseDimension(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// resolveReferer uses the client-supplied referer when it is an absolute URL
// and falls back to the origin's own scheme and host.
func resolveReferer(raw string, origin *url.URL) string {
	if raw = strings.TrimSpace(raw); raw != "" {
		if ref, err := url.Parse(raw); err == nil && ref.Scheme != "" && ref.Host != "" {
			return ref.String()
		}
	}
	return origin.Scheme + "://" + origin.Host
}
