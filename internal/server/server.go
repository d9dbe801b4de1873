package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/budgetbell/internal/archive"
	"github.com/dukerupert/budgetbell/internal/auth"
	"github.com/dukerupert/budgetbell/internal/config"
	"github.com/dukerupert/budgetbell/internal/detector"
	"github.com/dukerupert/budgetbell/internal/email"
	"github.com/dukerupert/budgetbell/internal/handler"
	"github.com/dukerupert/budgetbell/internal/metrics"
	"github.com/dukerupert/budgetbell/internal/middleware"
	"github.com/dukerupert/budgetbell/internal/notify"
	"github.com/dukerupert/budgetbell/internal/push"
	"github.com/dukerupert/budgetbell/internal/scheduler"
	"github.com/dukerupert/budgetbell/internal/store"
	ws "github.com/dukerupert/budgetbell/internal/websocket"
)

type Server struct {
	db             *sql.DB
	cfg            *config.Config
	registry       *prometheus.Registry
	hub            *ws.Hub
	resolver       *auth.Resolver
	rateLimiter    *middleware.RateLimiter
	locker         scheduler.Locker
	runner         *scheduler.Runner
	archiver       *archive.Archiver
	pushService    *push.Service
	notificationH  *handler.NotificationHandler
	schedulerH     *handler.SchedulerHandler
	recurringRuleH *handler.RecurringRuleHandler
	budgetH        *handler.BudgetHandler
	logger         *slog.Logger
}

// New wires stores, transports, detectors and handlers. reg receives the
// application metrics and is served on /metrics.
func New(db *sql.DB, cfg *config.Config, reg *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	hub := ws.NewHub(logger.With("component", "websocket"))
	m := metrics.New(reg)

	userStore := store.NewUserStore(db)
	budgetStore := store.NewBudgetStore(db)
	queueStore := store.NewQueueStore(db)
	subscriptionStore := store.NewSubscriptionStore(db)
	preferenceStore := store.NewPreferenceStore(db)
	notificationStore := store.NewNotificationStore(db)
	ruleStore := store.NewRecurringRuleStore(db)

	pushService := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
		TTL:             cfg.Push.TTL,
	})
	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From, cfg.Server.BaseURL)

	enqueuer := notify.NewEnqueuer(preferenceStore, queueStore, logger)
	enqueuer.SetMaxAttempts(cfg.Queue.MaxAttempts)

	dispatcher := push.NewDispatcher(push.Stores{
		Queue:         queueStore,
		Subscriptions: subscriptionStore,
		Notifications: notificationStore,
		Preferences:   preferenceStore,
		Users:         userStore,
	}, pushService, logger,
		push.WithMailer(emailClient),
		push.WithBroadcaster(hub),
		push.WithMetrics(m),
		push.WithBatchSize(cfg.Queue.BatchSize),
		push.WithLease(cfg.Queue.Lease),
	)

	recurring := detector.NewRecurringDetector(ruleStore, notificationStore, userStore, hub, m, logger,
		detector.MonthlyMode(cfg.Recurring.MonthlyMode))
	digest := detector.NewDigestGenerator(budgetStore, queueStore, userStore, enqueuer, logger)
	budgets := detector.NewBudgetDetector(budgetStore, notificationStore, queueStore, userStore, enqueuer, m, logger)

	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if cfg.Redis.URL != "" {
		rl, err := scheduler.NewRedisLocker(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis locker: %w", err)
		}
		locker = rl
	}

	runner := scheduler.NewRunner(dispatcher, recurring, digest, locker, scheduler.DrainConfig{
		Threshold: cfg.Drain.Threshold,
		MaxRounds: cfg.Drain.MaxRounds,
		Budget:    cfg.Drain.Budget,
	}, logger)

	archiver := archive.NewArchiver(archive.Config{
		S3: archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		},
		Prefix:     cfg.Archive.Prefix,
		Passphrase: cfg.Archive.Passphrase,
	}, queueStore, logger)

	httpLogger := logger.With("component", "http")

	return &Server{
		db:             db,
		cfg:            cfg,
		registry:       reg,
		hub:            hub,
		resolver:       auth.NewResolver(cfg.Auth.JWTSecret, userStore, cfg.Auth.CronSecretHash),
		rateLimiter:    middleware.NewRateLimiter(),
		locker:         locker,
		runner:         runner,
		archiver:       archiver,
		pushService:    pushService,
		notificationH:  handler.NewNotificationHandler(subscriptionStore, preferenceStore, notificationStore, enqueuer, pushService.VAPIDPublicKey(), hub, httpLogger),
		schedulerH:     handler.NewSchedulerHandler(runner, httpLogger),
		recurringRuleH: handler.NewRecurringRuleHandler(ruleStore, detector.NewRuleService(ruleStore, userStore), budgetStore, httpLogger),
		budgetH:        handler.NewBudgetHandler(budgetStore, budgets, httpLogger),
		logger:         logger,
	}, nil
}

func (s *Server) Runner() *scheduler.Runner {
	return s.runner
}

func (s *Server) Archiver() *archive.Archiver {
	return s.archiver
}

func (s *Server) Resolver() *auth.Resolver {
	return s.resolver
}

func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Close releases the scheduler lock backend.
func (s *Server) Close() error {
	if rl, ok := s.locker.(*scheduler.RedisLocker); ok {
		return rl.Close()
	}
	return nil
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /notifications/vapid-key", s.notificationH.GetVAPIDKey)

	// Scheduler triggers
	service := middleware.RequireService(s.resolver)
	mux.Handle("POST /notifications/processor", service(http.HandlerFunc(s.schedulerH.Process)))
	mux.Handle("POST /notifications/recurring", service(http.HandlerFunc(s.schedulerH.Recurring)))
	mux.Handle("POST /notifications/digest", service(http.HandlerFunc(s.schedulerH.Digest)))

	// User routes
	user := middleware.RequireUser(s.resolver)
	limited := func(h http.HandlerFunc) http.Handler {
		return user(middleware.RateLimit(s.rateLimiter, middleware.ByCaller, 20, time.Minute)(h))
	}
	mux.Handle("POST /notifications/subscribe", limited(s.notificationH.Subscribe))
	mux.Handle("DELETE /notifications/subscribe", limited(s.notificationH.Unsubscribe))
	mux.Handle("POST /notifications/test", limited(s.notificationH.Test))
	mux.Handle("GET /notifications/preferences", user(http.HandlerFunc(s.notificationH.GetPreferences)))
	mux.Handle("PUT /notifications/preferences", user(http.HandlerFunc(s.notificationH.UpdatePreferences)))
	mux.Handle("GET /notifications", user(http.HandlerFunc(s.notificationH.List)))
	mux.Handle("POST /notifications/{id}/read", user(http.HandlerFunc(s.notificationH.MarkRead)))

	mux.Handle("GET /recurring-rules", user(http.HandlerFunc(s.recurringRuleH.List)))
	mux.Handle("POST /recurring-rules", user(http.HandlerFunc(s.recurringRuleH.Create)))
	mux.Handle("DELETE /recurring-rules/{id}", user(http.HandlerFunc(s.recurringRuleH.Delete)))

	mux.Handle("POST /budget-folders", user(http.HandlerFunc(s.budgetH.CreateFolder)))
	mux.Handle("POST /transactions", user(http.HandlerFunc(s.budgetH.CreateTransaction)))

	mux.Handle("GET /ws", middleware.QueryToken(user(ws.HandleWebSocket(s.hub, s.cfg.Server.AllowedOrigins, s.logger.With("component", "websocket")))))

	return middleware.RequestID(middleware.RequestLogger(s.logger.With("component", "http"))(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{
		"status":            "ok",
		"push_configured":   s.pushService.Configured(),
		"archive_enabled":   s.archiver.Enabled(),
		"websocket_clients": s.hub.ClientCount(),
	}
	code := http.StatusOK
	if err := s.db.PingContext(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if rl, ok := s.locker.(*scheduler.RedisLocker); ok {
		if err := rl.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
