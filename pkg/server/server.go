// Package server assembles the docflow HTTP API from the domain packages.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/access"
	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/db"
	"github.com/archivum/docflow/pkg/detect"
	"github.com/archivum/docflow/pkg/httputil"
	"github.com/archivum/docflow/pkg/jobs"
	"github.com/archivum/docflow/pkg/metrics"
	"github.com/archivum/docflow/pkg/workflow"
)

// APIPrefix is the mount point of the versioned API.
const APIPrefix = "/api/v1"

// Server holds the handlers mounted by Routes.
type Server struct {
	DB        *gorm.DB
	Auth      *authz.AuthConfig
	Metrics   *metrics.Metrics
	Workflow  *workflow.Handlers
	Access    *access.Handlers
	Detect    *detect.Handlers
	Audit     *audit.Store
	Runs      *jobs.RunStore
	Scheduler *jobs.Scheduler
	Logger    *slog.Logger
}

// Overrides returns the configured override roles as a set.
func (s *Server) Overrides() mapset.Set[authz.Role] {
	if s.Auth == nil || len(s.Auth.OverrideRoles) == 0 {
		return authz.DefaultOverrideRoles()
	}
	return mapset.NewSet(s.Auth.OverrideRoles...)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) extractor() (authz.ActorExtractor, error) {
	cfg := s.Auth
	if cfg == nil {
		cfg = authz.DefaultAuthConfig()
	}
	switch cfg.Mode {
	case authz.AuthModeHeader, "":
		return authz.HeaderActorExtractor, nil
	case authz.AuthModeJWT:
		jwtCfg := cfg.JWT
		if jwtCfg.Logger == nil {
			jwtCfg.Logger = s.logger()
		}
		return authz.NewJWTActorExtractor(jwtCfg)
	default:
		return nil, fmt.Errorf("unknown auth mode %q (expected header or jwt)", cfg.Mode)
	}
}

// Routes builds the root router. Nil handler groups are skipped.
func (s *Server) Routes() (chi.Router, error) {
	extractor, err := s.extractor()
	if err != nil {
		return nil, err
	}
	overrides := s.Overrides()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", authz.HeaderUserID, authz.HeaderUserRole, authz.HeaderUserEmail, authz.HeaderCompany, authz.HeaderDepartment},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.Metrics.Instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", s.ready)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(authz.ActorMiddleware(extractor))
		r.Use(authz.RequireActor)

		if s.Workflow != nil {
			workflow.RegisterRoutes(r, s.Workflow)
		}
		if s.Access != nil {
			access.RegisterRoutes(r, s.Access)
		}
		if s.Detect != nil {
			if s.Detect.Overrides == nil {
				s.Detect.Overrides = overrides
			}
			detect.RegisterRoutes(r, s.Detect)
		}
		if s.Runs != nil {
			jobs.RegisterRoutes(r, s.Runs, s.Scheduler, overrides)
		}
		if s.Audit != nil {
			r.With(adminOnly(overrides)).Mount("/audit", audit.Router(s.Audit))
		}
	})

	return r, nil
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.DB == nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no database"})
		return
	}
	if err := db.Ping(ctx, s.DB); err != nil {
		s.logger().Warn("readiness check failed", "error", err)
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func adminOnly(overrides mapset.Set[authz.Role]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, _ := authz.ActorFromContext(r.Context())
			if !authz.IsOverride(a.Role, overrides) {
				httputil.WriteError(w, r, apperr.Unauthorized("administrator role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
