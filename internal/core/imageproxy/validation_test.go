package imageproxy

import (
	"errors"
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{
			name: "absolute https url unchanged",
			raw:  "https://cdn.example.com/a.jpg",
			want: "https://cdn.example.com/a.jpg",
		},
		{
			name: "protocol-relative gets https",
			raw:  "//cdn.example.com/a.jpg",
			want: "https://cdn.example.com/a.jpg",
		},
		{
			name: "schemeless gets https",
			raw:  "cdn.example.com/a.jpg?v=2",
			want: "https://cdn.example.com/a.jpg?v=2",
		},
		{
			name: "http is kept",
			raw:  "http://cdn.example.com/a.jpg",
			want: "http://cdn.example.com/a.jpg",
		},
		{
			name: "scheme and host are lower-cased, path is not",
			raw:  "HTTPS://CDN.Example.COM/Photos/A.jpg",
			want: "https://cdn.example.com/Photos/A.jpg",
		},
		{
			name: "empty path becomes root",
			raw:  "https://cdn.example.com",
			want: "https://cdn.example.com/",
		},
		{
			name: "fragment is dropped",
			raw:  "https://cdn.example.com/a.jpg#top",
			want: "https://cdn.example.com/a.jpg",
		},
		{
			name: "surrounding whitespace is trimmed",
			raw:  "  https://cdn.example.com/a.jpg ",
			want: "https://cdn.example.com/a.jpg",
		},
		{
			name:    "empty input",
			raw:     "",
			wantErr: ErrMissingURL,
		},
		{
			name:    "whitespace only",
			raw:     "   ",
			wantErr: ErrMissingURL,
		},
		{
			name:    "ftp scheme",
			raw:     "ftp://cdn.example.com/a.jpg",
			wantErr: ErrUnsupportedScheme,
		},
		{
			name:    "file scheme",
			raw:     "file:///etc/passwd",
			wantErr: ErrUnsupportedScheme,
		},
		{
			name:    "missing host",
			raw:     "https:///a.jpg",
			wantErr: ErrInvalidURL,
		},
		{
			name:    "unparseable host",
			raw:     "javascript:alert(1)",
			wantErr: ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NormalizeURL(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeURL(%q) unexpected error: %v", tt.raw, err)
			}
			if got.String() != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.raw, got.String(), tt.want)
			}
		})
	}
}

func TestIsImageLike(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://cdn.example.com/a.jpg", true},
		{"https://cdn.example.com/a.JPEG", true},
		{"https://cdn.example.com/a.png?v=1", true},
		{"https://cdn.example.com/a.webp", true},
		{"https://cdn.example.com/anim.gif", true},
		{"https://cdn.example.com/resize/abc123", true},
		{"https://cdn.example.com/Thumbnail/abc123", true},
		{"https://cdn.example.com/images/abc123", true},
		{"https://cdn.example.com/page.html", false},
		{"https://cdn.example.com/a.jpg.html", false},
		{"https://cdn.example.com/imagesabc/def", false},
		{"https://cdn.example.com/", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := IsImageLike(mustParse(t, tt.raw)); got != tt.want {
				t.Errorf("IsImageLike(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	rules, err := ParseAllowList("cdn.example.com, https://static.example.org/public/")
	if err != nil {
		t.Fatalf("ParseAllowList: %v", err)
	}
	v, err := NewValidator(rules)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	tests := []struct {
		name        string
		req         OriginRequest
		wantURL     string
		wantWidth   int
		wantHeight  int
		wantReferer string
		wantErr     error
	}{
		{
			name:        "domain rule, no dimensions",
			req:         OriginRequest{RawURL: "cdn.example.com/a.jpg"},
			wantURL:     "https://cdn.example.com/a.jpg",
			wantReferer: "https://cdn.example.com",
		},
		{
			name:        "request dimensions",
			req:         OriginRequest{RawURL: "https://cdn.example.com/a.jpg", Width: "300", Height: "200"},
			wantURL:     "https://cdn.example.com/a.jpg",
			wantWidth:   300,
			wantHeight:  200,
			wantReferer: "https://cdn.example.com",
		},
		{
			name:        "request dimensions win over origin query",
			req:         OriginRequest{RawURL: "https://cdn.example.com/a.jpg?w=100&h=50", Width: "300"},
			wantURL:     "https://cdn.example.com/a.jpg?w=100&h=50",
			wantWidth:   300,
			wantHeight:  50,
			wantReferer: "https://cdn.example.com",
		},
		{
			name:        "invalid request dimension falls back to origin query",
			req:         OriginRequest{RawURL: "https://cdn.example.com/a.jpg?w=100", Width: "abc", Height: "-5"},
			wantURL:     "https://cdn.example.com/a.jpg?w=100",
			wantWidth:   100,
			wantReferer: "https://cdn.example.com",
		},
		{
			name:        "absolute client referer is forwarded",
			req:         OriginRequest{RawURL: "https://cdn.example.com/a.jpg", Referer: "https://shop.example.net/item/1"},
			wantURL:     "https://cdn.example.com/a.jpg",
			wantReferer: "https://shop.example.net/item/1",
		},
		{
			name:        "relative client referer is replaced by origin",
			req:         OriginRequest{RawURL: "https://cdn.example.com/a.jpg", Referer: "/item/1"},
			wantURL:     "https://cdn.example.com/a.jpg",
			wantReferer: "https://cdn.example.com",
		},
		{
			name:        "prefix rule",
			req:         OriginRequest{RawURL: "https://static.example.org/public/logo.png"},
			wantURL:     "https://static.example.org/public/logo.png",
			wantReferer: "https://static.example.org",
		},
		{
			name:    "prefix rule is scheme sensitive",
			req:     OriginRequest{RawURL: "http://static.example.org/public/logo.png"},
			wantErr: ErrURLNotAllowed,
		},
		{
			name:    "host not allowed",
			req:     OriginRequest{RawURL: "https://evil.example.com/a.jpg"},
			wantErr: ErrURLNotAllowed,
		},
		{
			name:    "allowed host but not an image",
			req:     OriginRequest{RawURL: "https://cdn.example.com/index.html"},
			wantErr: ErrNotImage,
		},
		{
			name:    "missing url",
			req:     OriginRequest{},
			wantErr: ErrMissingURL,
		},
		{
			name:    "unsupported scheme",
			req:     OriginRequest{RawURL: "gopher://cdn.example.com/a.jpg"},
			wantErr: ErrUnsupportedScheme,
		},
		{
			name:    "userinfo cannot smuggle another host past a prefix rule",
			req:     OriginRequest{RawURL: "https://static.example.org@evil.test/public/logo.png"},
			wantErr: ErrInvalidURL,
		},
		{
			name:    "userinfo on an allowed host is rejected",
			req:     OriginRequest{RawURL: "https://user:pw@cdn.example.com/a.jpg"},
			wantErr: ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if got.URL.String() != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.URL.String(), tt.wantURL)
			}
			if got.Width != tt.wantWidth || got.Height != tt.wantHeight {
				t.Errorf("dimensions = %dx%d, want %dx%d", got.Width, got.Height, tt.wantWidth, tt.wantHeight)
			}
			if got.Referer != tt.wantReferer {
				t.Errorf("Referer = %q, want %q", got.Referer, tt.wantReferer)
			}
		})
	}
}

func TestNewValidator_EmptyRules(t *testing.T) {
	if _, err := NewValidator(nil); !errors.Is(err, ErrEmptyAllowList) {
		t.Errorf("NewValidator(nil) error = %v, want %v", err, ErrEmptyAllowList)
	}
}

func TestNormalizedTarget_Origin(t *testing.T) {
	target := NormalizedTarget{URL: mustParse(t, "https://cdn.example.com:8443/a/b.jpg?x=1")}
	if got := target.Origin(); got != "https://cdn.example.com:8443" {
		t.Errorf("Origin() = %q", got)
	}
}
