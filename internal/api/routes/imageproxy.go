package routes

import (
	"github.com/go-chi/chi/v5"

	imageproxyhandlers "Imgate/internal/api/handlers/imageproxy"
)

// RegisterImageProxyRoutes registers image proxy endpoints on the router.
//
// Routes:
//   - GET /?u=<url>&w=<width>&h=<height>&ref=<referer>: transcoded WebP image
//   - GET /health: liveness, never touches the store
//   - GET /health/ready: readiness, pings the store
func RegisterImageProxyRoutes(r chi.Router, handler *imageproxyhandlers.Handler) {
	r.Get("/", handler.HandleImage)
	r.Get("/health", handler.HandleHealth)
	r.Get("/health/ready", handler.HandleReady)
}
