package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/careflow-scheduling/internal/actions"
	httpmiddleware "github.com/wolfman30/careflow-scheduling/internal/http/middleware"
	"github.com/wolfman30/careflow-scheduling/internal/http/respond"
	"github.com/wolfman30/careflow-scheduling/internal/protocols"
	"github.com/wolfman30/careflow-scheduling/internal/scheduling"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ProtocolsHandler    *protocols.Handler
	ReservationsHandler *scheduling.Handler
	Actions             *actions.Dispatcher
	MetricsHandler      http.Handler
	// Ready reports backing store health for /health. Optional.
	Ready              func(ctx context.Context) error
	AuthSecret         string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.ActorFromHeader)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", health(cfg.Ready))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Staff API. A configured secret requires a bearer token whose subject
	// replaces the X-Actor-ID header.
	r.Group(func(api chi.Router) {
		if cfg.AuthSecret != "" {
			api.Use(httpmiddleware.StaffJWT(cfg.AuthSecret))
		}
		if cfg.ProtocolsHandler != nil {
			api.Route("/protocols", cfg.ProtocolsHandler.Routes)
		}
		if cfg.ReservationsHandler != nil {
			api.Route("/reservations", cfg.ReservationsHandler.Routes)
		}
		if cfg.Actions != nil {
			api.Method(http.MethodPost, "/scheduling/{action}", cfg.Actions)
		}
	})

	return r
}

func health(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
