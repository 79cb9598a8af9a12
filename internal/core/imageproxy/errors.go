package imageproxy

import "errors"

var (
	// ErrMissingURL is returned when the request carries no origin URL.
	ErrMissingURL = errors.New("missing required parameter: url")

	// ErrInvalidURL is returned when the origin URL cannot be parsed or has no host.
	ErrInvalidURL = errors.New("invalid url")

	// ErrUnsupportedScheme is returned when the origin URL uses a scheme other than http or https.
	ErrUnsupportedScheme = errors.New("only http/https urls are allowed")

	// ErrURLNotAllowed is returned when no allow rule matches the origin URL.
	ErrURLNotAllowed = errors.New("url not allowed")

	// ErrNotImage is returned when the origin URL does not look like an image.
	ErrNotImage = errors.New("not an image url")

	// ErrOriginTooLarge is returned when the origin declares or streams more bytes than the configured cap.
	ErrOriginTooLarge = errors.New("origin image too large")

	// ErrOutputTooLarge is returned when the transcoded image exceeds the output cap.
	ErrOutputTooLarge = errors.New("optimized image too large")

	// ErrPixelLimitExceeded is returned when the source image has more pixels than the decoder allows.
	ErrPixelLimitExceeded = errors.New("source image exceeds pixel limit")

	// ErrOriginFetchFailed is returned when the origin is unreachable or answers with a non-success status.
	ErrOriginFetchFailed = errors.New("failed to fetch image from origin")

	// ErrOriginTimeout is returned when the origin does not deliver the full image within the fetch timeout.
	ErrOriginTimeout = errors.New("origin fetch timeout")

	// ErrLockWaitTimeout is returned when another worker holds the lock for longer than the wait timeout.
	ErrLockWaitTimeout = errors.New("image processing in progress, please retry")

	// ErrStoreUnavailable is returned by store implementations on transport failure.
	// It is never surfaced to clients; callers switch to degraded mode instead.
	ErrStoreUnavailable = errors.New("cache store unavailable")

	// ErrUnsupportedFormat is returned when the origin body cannot be decoded as an image.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrProcessingFailed is returned when resizing or encoding fails.
	ErrProcessingFailed = errors.New("image processing failed")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)
