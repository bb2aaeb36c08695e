package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/clients"
	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/identity"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/metrics"
	"github.com/berthcare/berthcare/pkg/notify"
	"github.com/berthcare/berthcare/pkg/objectstore"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/token"
	"github.com/berthcare/berthcare/pkg/visits"
)

// maxBodyBytes caps JSON request bodies. File uploads bypass the API via
// presigned URLs, so 10 MiB covers the largest documentation payload.
const maxBodyBytes = 10 << 20

// Server is the HTTP surface: the public /v1 API and the internal listener
// carrying /metrics and /health.
type Server struct {
	cfg       *config.Config
	db        *storage.DB
	cache     *cache.Cache
	blacklist *cache.Blacklist
	limiter   *cache.RateLimiter
	tokens    *token.Service
	validate  *validator.Validate

	identity *identity.Service
	clients  *clients.Service
	visits   *visits.Service
	alerts   *notify.Service
	zones    *storage.ZoneStore
	objects  *objectstore.Store

	public   *http.Server
	internal *http.Server
}

// Deps bundles everything the server needs.
type Deps struct {
	Config    *config.Config
	DB        *storage.DB
	Cache     *cache.Cache
	Blacklist *cache.Blacklist
	Limiter   *cache.RateLimiter
	Tokens    *token.Service
	Identity  *identity.Service
	Clients   *clients.Service
	Visits    *visits.Service
	Alerts    *notify.Service
	Zones     *storage.ZoneStore
	Objects   *objectstore.Store
}

// NewServer builds the HTTP server and its routers.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		db:        d.DB,
		cache:     d.Cache,
		blacklist: d.Blacklist,
		limiter:   d.Limiter,
		tokens:    d.Tokens,
		validate:  validator.New(),
		identity:  d.Identity,
		clients:   d.Clients,
		visits:    d.Visits,
		alerts:    d.Alerts,
		zones:     d.Zones,
		objects:   d.Objects,
	}

	s.public = &http.Server{
		Addr:              d.Config.HTTPAddr,
		Handler:           s.publicRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.internal = &http.Server{
		Addr:              d.Config.InternalAddr,
		Handler:           s.internalRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) publicRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverPanic)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(bodyLimit(maxBodyBytes))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimit(cache.PolicyLogin)).Post("/login", s.handleLogin)
			r.With(s.rateLimit(cache.PolicyAuth)).Post("/refresh", s.handleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				// Registration needs an admin bearer; the service enforces
				// the role.
				r.With(s.rateLimit(cache.PolicyRegister)).Post("/register", s.handleRegister)
				r.With(s.rateLimit(cache.PolicyAuth)).Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
			})
		})

		// Twilio posts callbacks here; they authenticate by signature, not JWT.
		r.Route("/webhooks/twilio", func(r chi.Router) {
			r.Post("/voice", s.handleVoiceWebhook)
			r.Post("/sms", s.handleSMSWebhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/zones", s.handleListZones)

			r.Route("/clients", func(r chi.Router) {
				r.Post("/", s.handleCreateClient)
				r.Get("/", s.handleListClients)
				r.Get("/{clientID}", s.handleGetClient)
				r.Patch("/{clientID}", s.handleUpdateClient)
				r.Get("/{clientID}/care-plan", s.handleGetCarePlan)
				r.Put("/{clientID}/care-plan", s.handlePutCarePlan)
			})

			r.Post("/care-plans", s.handleCreateCarePlan)

			r.Route("/visits", func(r chi.Router) {
				r.Post("/", s.handleCheckIn)
				r.Get("/", s.handleListVisits)
				r.Get("/{visitID}", s.handleGetVisit)
				r.Patch("/{visitID}", s.handleUpdateVisit)
				r.Patch("/{visitID}/documentation", s.handleUpdateDocumentation)
				r.Post("/{visitID}/check-out", s.handleCheckOut)
				r.Patch("/{visitID}/status", s.handleTransition)
				r.Post("/{visitID}/photos/upload-url", s.handlePhotoUploadURLs)
				r.Post("/{visitID}/photos/upload-urls", s.handlePhotoUploadURLs)
				r.Post("/{visitID}/photos", s.handleAttachPhoto)
				r.Post("/{visitID}/signature/upload-url", s.handleSignatureUploadURL)
				r.Post("/{visitID}/signature", s.handleAttachSignature)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Post("/", s.handleRaiseAlert)
				r.Get("/{alertID}", s.handleGetAlert)
			})

			r.Post("/documents/upload-url", s.handleDocumentUploadURL)
		})
	})

	return r
}

func (s *Server) internalRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Start runs both listeners until ctx is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		log.Logger.Info().
			Str("component", "api").
			Str("addr", s.public.Addr).
			Msg("Public API listening")
		if err := s.public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		log.Logger.Info().
			Str("component", "api").
			Str("addr", s.internal.Addr).
			Msg("Internal listener started")
		if err := s.internal.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting connections and drains in-flight requests within
// the configured grace period.
func (s *Server) Shutdown() error {
	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	log.Logger.Info().
		Str("component", "api").
		Dur("grace", grace).
		Msg("Shutting down HTTP servers")

	if err := s.public.Shutdown(ctx); err != nil {
		return err
	}
	return s.internal.Shutdown(ctx)
}

// handleHealth reports liveness of the two backing stores. Either failing
// degrades the service to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBConnectTimeout)
	defer cancel()

	status := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true

	if err := s.db.PingContext(ctx); err != nil {
		status["postgres"] = "unreachable"
		healthy = false
	}
	if err := s.cache.Ping(ctx); err != nil {
		status["redis"] = "unreachable"
		healthy = false
	}

	if !healthy {
		respondError(w, r, errs.New(errs.CodeUnavailable, "service degraded").WithDetails(status))
		return
	}
	respond(w, http.StatusOK, map[string]any{"status": "ok", "services": status})
}
