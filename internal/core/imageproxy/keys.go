package imageproxy

import "strconv"

// LockKeyPrefix namespaces lock keys. Cache keys are absolute http(s) URLs,
// so no cache key can ever start with this prefix.
const LockKeyPrefix = "__lock__:"

// CacheKey re-serializes the target URL with the resolved w and h forced into
// its query string. Query parameters are emitted in sorted order, so the key
// does not depend on parameter order or on where a dimension came from.
func CacheKey(t NormalizedTarget) string {
	u := *t.URL
	q := u.Query()
	q.Set("w", formatDimension(t.Width))
	q.Set("h", formatDimension(t.Height))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// LockKey derives the lock key guarding production of the given cache key.
func LockKey(cacheKey string) string {
	return LockKeyPrefix + cacheKey
}

func formatDimension(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
