// Package imageproxy provides HTTP handlers for the image proxy service.
// It serves origin images transcoded to WebP, along with health endpoints.
package imageproxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"Imgate/internal/core/imageproxy"
)

const (
	// cacheableControl lets shared caches keep the image for a year and browsers for a day.
	cacheableControl = "s-maxage=31536000, max-age=86400"
	noStoreControl   = "no-store"

	readinessTimeout = 2 * time.Second
)

// Service defines the interface for the image proxy service.
// This interface is implemented by the imageproxy package's service layer.
type Service interface {
	GetImage(ctx context.Context, req imageproxy.OriginRequest) (imageproxy.Result, error)
}

// Pinger reports whether the shared store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles HTTP requests for the image proxy.
type Handler struct {
	service Service
	store   Pinger
	logger  *slog.Logger
}

// NewHandler creates a new image proxy handler. store may be nil when the
// proxy runs without a shared store; readiness then always fails.
func NewHandler(service Service, store Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		store:   store,
		logger:  logger,
	}
}

// HandleImage handles GET /?u=<origin>&w=<width>&h=<height>&ref=<referer>
// It returns the origin image resized and transcoded to WebP. The X-Cache
// header tells which path produced the response.
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := imageproxy.OriginRequest{
		RawURL:  q.Get("u"),
		Width:   q.Get("w"),
		Height:  q.Get("h"),
		Referer: q.Get("ref"),
	}

	result, err := h.service.GetImage(r.Context(), req)
	if err != nil {
		if result.Status != "" {
			w.Header().Set("X-Cache", string(result.Status))
		}
		h.handleServiceError(w, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", imageproxy.OutputContentType)
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	if result.Cacheable {
		header.Set("Cache-Control", cacheableControl)
	} else {
		header.Set("Cache-Control", noStoreControl)
	}
	header.Set("X-Cache", string(result.Status))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		h.logger.Warn("[IMAGE-PROXY] failed to write image response",
			"url", req.RawURL,
			"error", err,
		)
	}
}

// HandleHealth handles GET /health. It reports process liveness only.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeTextResponse(w, h.logger, http.StatusOK, "OK")
}

// HandleReady handles GET /health/ready. It fails while the shared store is
// unreachable, even though image requests are still served in degraded mode.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeTextResponse(w, h.logger, http.StatusServiceUnavailable, "store not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("[IMAGE-PROXY] readiness check failed", "error", err)
		writeTextResponse(w, h.logger, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeTextResponse(w, h.logger, http.StatusOK, "OK")
}

// handleServiceError converts service errors to appropriate HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	w.Header().Set("Cache-Control", noStoreControl)

	switch {
	case errors.Is(err, imageproxy.ErrMissingURL):
		h.writeError(w, http.StatusBadRequest, "Missing required parameter: url")
	case errors.Is(err, imageproxy.ErrInvalidURL):
		h.writeError(w, http.StatusBadRequest, "Invalid url")
	case errors.Is(err, imageproxy.ErrUnsupportedScheme):
		h.writeError(w, http.StatusBadRequest, "Only http/https urls are allowed")
	case errors.Is(err, imageproxy.ErrURLNotAllowed):
		h.writeError(w, http.StatusBadRequest, "URL not allowed")
	case errors.Is(err, imageproxy.ErrNotImage):
		h.writeError(w, http.StatusBadRequest, "Not an image url")
	case errors.Is(err, imageproxy.ErrOriginTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, "Origin image too large")
	case errors.Is(err, imageproxy.ErrPixelLimitExceeded):
		h.writeError(w, http.StatusRequestEntityTooLarge, "Origin image dimensions too large")
	case errors.Is(err, imageproxy.ErrOutputTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, "Optimized image too large")
	case errors.Is(err, imageproxy.ErrOriginTimeout):
		h.writeError(w, http.StatusGatewayTimeout, "Origin fetch timeout")
	case errors.Is(err, imageproxy.ErrLockWaitTimeout):
		h.writeError(w, http.StatusGatewayTimeout, "Image processing in progress, please retry")
	case errors.Is(err, imageproxy.ErrOriginFetchFailed):
		h.writeError(w, http.StatusBadGateway, "Failed to fetch image from origin")
	case errors.Is(err, imageproxy.ErrUnsupportedFormat):
		h.writeError(w, http.StatusBadGateway, "Origin did not return a supported image")
	case errors.Is(err, imageproxy.ErrProcessingFailed):
		h.writeError(w, http.StatusInternalServerError, "Image processing failed")
	default:
		h.logger.Error("[IMAGE-PROXY] unhandled service error",
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeTextResponse(w, h.logger, status, message)
}

// writeTextResponse writes a plain text response.
// For the image proxy, we use simple text responses rather than JSON
// since the expected response is binary image data.
func writeTextResponse(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(message)); err != nil {
		logger.Warn("[IMAGE-PROXY] failed to write error response",
			"status", status,
			"message", message,
			"error", err,
		)
	}
}
