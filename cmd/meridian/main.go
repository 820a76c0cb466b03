package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/meridianerp/meridian/pkg/audit"
	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/config"
	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/middleware"
	"github.com/meridianerp/meridian/pkg/migrate"
	"github.com/meridianerp/meridian/pkg/observability"
	"github.com/meridianerp/meridian/pkg/orgs"
	"github.com/meridianerp/meridian/pkg/permcache"
	"github.com/meridianerp/meridian/pkg/products"
	"github.com/meridianerp/meridian/pkg/rbac"
	"github.com/meridianerp/meridian/pkg/scope"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := migrate.Run(ctx, db, logger); err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	cache, err := permcache.New(cfg.Redis, cfg.Cache, logger, metrics)
	if err != nil {
		return err
	}
	defer cache.Close()

	// Stores and the invalidation wiring. Membership changes invalidate
	// cached permissions synchronously; role and field-permission changes
	// fan out to current holders.
	authStore := auth.NewStore(db)
	orgStore := orgs.NewStore(db)
	members := membership.NewStore(db)
	rbacStore := rbac.NewStore(db)
	auditStore := audit.NewStore(db)

	invalidator := rbac.NewInvalidator(cache, members, logger)
	members.SetHooks(invalidator)
	members.SetAudit(auditStore, logger)
	rbacStore.SetInvalidator(invalidator)
	rbacStore.SetAudit(auditStore, logger)

	if err := migrate.SeedPermissions(ctx, rbacStore); err != nil {
		return err
	}

	resolver := rbac.NewContextResolver(members, orgStore, cache)
	authorizer := rbac.NewAuthorizer(members, rbacStore, cache, logger, metrics)
	enforcer := scope.NewEnforcer(resolver, authorizer)
	fields := scope.NewFieldFilter(authorizer)

	router := buildRouter(db, logger, metrics, authStore, orgStore, members, rbacStore, auditStore, authorizer, enforcer, fields)

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter(db, cache, metrics),
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		deleted, err := members.CleanupExpiredInvitations(context.Background())
		if err != nil {
			logger.WithError(err).Error("Invitation cleanup failed")
			return
		}
		if deleted > 0 {
			logger.WithField("deleted", deleted).Info("Expired invitations cleaned up")
		}
	}); err != nil {
		return err
	}
	scheduler.Start()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", appServer.Addr).Info("API server listening")
		if err := appServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		<-scheduler.Stop().Done()
		appServer.Shutdown(shutdownCtx)
		healthServer.Shutdown(shutdownCtx)
		return nil
	})

	return group.Wait()
}

func buildRouter(
	db *sql.DB,
	logger *observability.Logger,
	metrics *observability.Metrics,
	authStore *auth.Store,
	orgStore *orgs.Store,
	members *membership.Store,
	rbacStore *rbac.Store,
	auditStore *audit.Store,
	authorizer *rbac.Authorizer,
	enforcer *scope.Enforcer,
	fields *scope.FieldFilter,
) *mux.Router {
	router := mux.NewRouter()

	requests := middleware.NewRequestMiddleware(logger, metrics)
	authn := middleware.NewAuthMiddleware(authStore)
	perms := rbac.NewPermissionMiddleware(authorizer)

	router.Use(requests.Handle)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authn.Authenticate)
	api.Use(middleware.OrgHint)

	// Resource routes rely on the scoping layer for tenant isolation, so
	// they carry no organization in the path.
	productHandlers := products.NewHandlers(products.NewStore(db), enforcer, fields, logger)
	productHandlers.RegisterRoutes(api)

	rbacHandlers := rbac.NewHandlers(rbacStore, authorizer, logger)
	rbacHandlers.RegisterCheckRoute(api)

	memberHandlers := membership.NewHandlers(members, logger)
	memberHandlers.RegisterRoutes(api, perms.RequirePermission)
	memberHandlers.RegisterInvitationAccept(api)

	// Role, permission, and organization administration is platform-level.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(perms.RequireSuperuser)
	rbacHandlers.RegisterRoutes(admin)
	orgs.NewHandlers(orgStore, logger).RegisterRoutes(admin)
	audit.NewHandlers(auditStore, logger).RegisterRoutes(admin)

	return router
}

func healthRouter(db *sql.DB, cache *permcache.Cache, metrics *observability.Metrics) *mux.Router {
	router := mux.NewRouter()
	checker := observability.NewHealthChecker(db, cache.Client())
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return router
}
