package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Browser-like request headers. Some origins refuse requests that do not look
// like they come from a browser.
const (
	originUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
	originAccept         = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
	originAcceptLanguage = "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"
)

// Fetcher opens a bounded stream to the origin image.
type Fetcher interface {
	// Fetch issues the origin request. The caller must Close the returned body.
	Fetch(ctx context.Context, target NormalizedTarget) (*OriginBody, error)
}

// OriginBody is an origin response body behind a byte cap and a deadline.
type OriginBody struct {
	reader      *BoundedReader
	closer      io.Closer
	ctx         context.Context
	cancel      context.CancelFunc
	ContentType string
}

// NewOriginBody wraps rc with a byte cap. ctx is the context the stream is
// read under; it may be nil when no deadline applies.
func NewOriginBody(ctx context.Context, cancel context.CancelFunc, rc io.ReadCloser, maxBytes int64) *OriginBody {
	return &OriginBody{
		reader: NewBoundedReader(rc, maxBytes),
		closer: rc,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *OriginBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err != nil && err != io.EOF && b.timedOut() {
		return n, fmt.Errorf("%w: %v", ErrOriginTimeout, err)
	}
	return n, err
}

// Close aborts the stream and releases the fetch deadline.
func (b *OriginBody) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.closer.Close()
}

// BytesRead returns how much of the body has been consumed.
func (b *OriginBody) BytesRead() int64 {
	return b.reader.Count()
}

// Classify attributes a downstream failure to the stream when the stream was
// the cause. Decoders do not always propagate reader errors unchanged, so the
// stream's own state is the source of truth.
func (b *OriginBody) Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case b.reader.Exceeded():
		if errors.Is(err, ErrOriginTooLarge) {
			return err
		}
		return b.reader.err()
	case b.timedOut():
		if errors.Is(err, ErrOriginTimeout) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrOriginTimeout, err)
	default:
		return err
	}
}

func (b *OriginBody) timedOut() bool {
	return b.ctx != nil && errors.Is(b.ctx.Err(), context.DeadlineExceeded)
}

// HTTPFetcher fetches origin images over HTTP. The timeout covers the whole
// exchange, from dialing to the last body byte, and is driven by a timer
// rather than by the client connection.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client uses a dedicated client
// with its own transport.
func NewHTTPFetcher(client *http.Client, timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPFetcher{
		client:   client,
		timeout:  timeout,
		maxBytes: maxBytes,
	}
}

// Fetch retrieves the origin image.
// Returns:
//   - ErrOriginTooLarge if the declared Content-Length exceeds the cap (body untouched)
//   - ErrOriginTimeout if the origin does not answer within the timeout
//   - ErrOriginFetchFailed for transport errors and non-2xx statuses
func (f *HTTPFetcher) Fetch(ctx context.Context, target NormalizedTarget) (*OriginBody, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target.URL.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrOriginFetchFailed, err)
	}
	req.Header.Set("User-Agent", originUserAgent)
	req.Header.Set("Accept", originAccept)
	req.Header.Set("Accept-Language", originAcceptLanguage)
	req.Header.Set("Referer", target.Referer)

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) || isTimeoutError(err) {
			return nil, fmt.Errorf("%w: after %v", ErrOriginTimeout, f.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrOriginFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d content-type %q",
			ErrOriginFetchFailed, resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	if resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: content length %d exceeds maximum %d bytes",
			ErrOriginTooLarge, resp.ContentLength, f.maxBytes)
	}

	body := NewOriginBody(fetchCtx, cancel, resp.Body, f.maxBytes)
	body.ContentType = resp.Header.Get("Content-Type")
	return body, nil
}

// isTimeoutError checks if the error is a timeout-related error.
func isTimeoutError(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
