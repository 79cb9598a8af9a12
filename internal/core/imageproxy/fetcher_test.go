package imageproxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func targetFor(t *testing.T, rawURL, referer string) NormalizedTarget {
	t.Helper()
	return NormalizedTarget{URL: mustParse(t, rawURL), Referer: referer}
}

func TestHTTPFetcher_Fetch_Success(t *testing.T) {
	expectedData := []byte("test image data")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img/a.jpg" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("v") != "2" {
			t.Errorf("origin query not forwarded: %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Referer"); got != "https://shop.example.net/" {
			t.Errorf("unexpected referer: %q", got)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "Mozilla/5.0") {
			t.Errorf("unexpected user agent: %q", ua)
		}
		if accept := r.Header.Get("Accept"); !strings.Contains(accept, "image/webp") {
			t.Errorf("unexpected accept: %q", accept)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		w.Write(expectedData)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(nil, 5*time.Second, 1024)
	body, err := fetcher.Fetch(context.Background(), targetFor(t, server.URL+"/img/a.jpg?v=2", "https://shop.example.net/"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != string(expectedData) {
		t.Errorf("expected data %q, got %q", expectedData, data)
	}
	if body.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", body.ContentType)
	}
	if body.BytesRead() != int64(len(expectedData)) {
		t.Errorf("BytesRead() = %d, want %d", body.BytesRead(), len(expectedData))
	}
}

func TestHTTPFetcher_Fetch_NonSuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			fetcher := NewHTTPFetcher(nil, 5*time.Second, 1024)
			_, err := fetcher.Fetch(context.Background(), targetFor(t, server.URL+"/a.jpg", ""))
			if !errors.Is(err, ErrOriginFetchFailed) {
				t.Errorf("expected ErrOriginFetchFailed, got: %v", err)
			}
		})
	}
}

func TestHTTPFetcher_Fetch_HeaderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(nil, 50*time.Millisecond, 1024)
	_, err := fetcher.Fetch(context.Background(), targetFor(t, server.URL+"/a.jpg", ""))
	if !errors.Is(err, ErrOriginTimeout) {
		t.Errorf("expected ErrOriginTimeout, got: %v", err)
	}
}

func TestHTTPFetcher_Fetch_BodyTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(nil, 100*time.Millisecond, 1024)
	body, err := fetcher.Fetch(context.Background(), targetFor(t, server.URL+"/a.jpg", ""))
	if err != nil {
		t.Fatalf("headers should arrive in time, got: %v", err)
	}
	defer body.Close()

	_, err = io.ReadAll(body)
	if !errors.Is(err, ErrOriginTimeout) {
		t.Errorf("expected ErrOriginTimeout while streaming, got: %v", err)
	}
}

func TestHTTPFetcher_Fetch_IgnoresClientCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := NewHTTPFetcher(nil, 5*time.Second, 1024)
	body, err := fetcher.Fetch(ctx, targetFor(t, server.URL+"/a.jpg", ""))
	if err != nil {
		t.Fatalf("fetch must not depend on the caller's cancellation, got: %v", err)
	}
	defer body.Close()

	if data, err := io.ReadAll(body); err != nil || string(data) != "data" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}
}

func TestHTTPFetcher_Fetch_NetworkError(t *testing.T) {
	fetcher := NewHTTPFetcher(nil, 5*time.Second, 1024)

	// Use an invalid URL that will cause a network error
	_, err := fetcher.Fetch(context.Background(), targetFor(t, "http://localhost:99999/a.jpg", ""))
	if !errors.Is(err, ErrOriginFetchFailed) {
		t.Errorf("expected ErrOriginFetchFailed, got: %v", err)
	}
}

func TestHTTPFetcher_Fetch_TooLarge_ContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(nil, 5*time.Second, 1024)
	_, err := fetcher.Fetch(context.Background(), targetFor(t, server.URL+"/a.jpg", ""))
	if !errors.Is(err, ErrOriginTooLarge) {
		t.Errorf("expected ErrOriginTooLarge, got: %v", err)
	}
}

func TestHTTPFetcher_Fetch_TooLarge_StreamingBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		w.Write(make([]byte, 64*1024))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(nil, 5*time.Second, 1024)
	body, err := fetcher.Fetch(context.Background(), targetFor(t, server.URL+"/a.jpg", ""))
	if err != nil {
		t.Fatalf("no declared length, fetch should succeed: %v", err)
	}
	defer body.Close()

	_, err = io.ReadAll(body)
	if !errors.Is(err, ErrOriginTooLarge) {
		t.Errorf("expected ErrOriginTooLarge, got: %v", err)
	}
	if body.BytesRead() > 1025 {
		t.Errorf("read %d bytes past a 1024 byte cap", body.BytesRead())
	}
}

func TestHTTPFetcher_Fetch_SizeAtLimit(t *testing.T) {
	testData := make([]byte, 1024)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(testData)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(nil, 5*time.Second, 1024)
	body, err := fetcher.Fetch(context.Background(), targetFor(t, server.URL+"/a.jpg", ""))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(data) != len(testData) {
		t.Errorf("expected %d bytes, got %d", len(testData), len(data))
	}
}

func TestOriginBody_Classify(t *testing.T) {
	decodeErr := errors.New("unexpected EOF in decoder")

	t.Run("overrun wins over decoder error", func(t *testing.T) {
		body := NewOriginBody(nil, nil, io.NopCloser(strings.NewReader(strings.Repeat("x", 20))), 10)
		io.ReadAll(body)
		if err := body.Classify(decodeErr); !errors.Is(err, ErrOriginTooLarge) {
			t.Errorf("Classify() = %v, want ErrOriginTooLarge", err)
		}
	})

	t.Run("expired deadline wins over decoder error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()
		body := NewOriginBody(ctx, cancel, io.NopCloser(strings.NewReader("")), 10)
		if err := body.Classify(decodeErr); !errors.Is(err, ErrOriginTimeout) {
			t.Errorf("Classify() = %v, want ErrOriginTimeout", err)
		}
	})

	t.Run("healthy stream keeps the decoder error", func(t *testing.T) {
		body := NewOriginBody(context.Background(), nil, io.NopCloser(strings.NewReader("abc")), 10)
		if err := body.Classify(decodeErr); err != decodeErr {
			t.Errorf("Classify() = %v, want %v", err, decodeErr)
		}
		if body.Classify(nil) != nil {
			t.Error("Classify(nil) should be nil")
		}
	})
}
