// Package api exposes lookups over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/pinpoint-geo/pinpoint/geodb"
)

const requestTimeout = 60 * time.Second

// Opts carries optional access controls. Empty values disable the
// corresponding check.
type Opts struct {
	// AllowedHosts restricts which Host headers are served. An entry
	// starting with "*" matches any subdomain of its remainder.
	AllowedHosts []string

	// APIKey, when set, is demanded on every endpoint except the
	// health check.
	APIKey string
}

// MakeServer assembles the HTTP router.
func MakeServer(locator *geodb.Locator, opts Opts) *chi.Mux {
	router := chi.NewRouter()
	h := httpHandler{locator: locator}

	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(requestTimeout))
	router.Use(middleware.Recoverer)
	router.Use(middleware.RealIP)
	router.Use(middleware.SetHeader("Content-Type", "application/json"))

	if len(opts.AllowedHosts) > 0 {
		router.Use(allowedHostsMiddleware(opts.AllowedHosts))
	}

	router.Get("/health", h.handleHealth)

	router.Group(func(router chi.Router) {
		if opts.APIKey != "" {
			router.Use(apiKeyMiddleware(opts.APIKey))
		}

		router.Get("/{ip}", h.handleGetIP)
		router.Post("/", h.handlePost)
	})

	return router
}

func MakeHTTPServer(listen string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         listen,
		Handler:      handler,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}
}
