package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/analytics"
	"github.com/cs350892/market-server/internal/audit"
	"github.com/cs350892/market-server/internal/auth"
	"github.com/cs350892/market-server/internal/catalog"
	"github.com/cs350892/market-server/internal/checkout"
	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/config"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/health"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/order"
	"github.com/cs350892/market-server/internal/payment"
	"github.com/cs350892/market-server/internal/pricing"
	"github.com/cs350892/market-server/internal/queue"
	"github.com/cs350892/market-server/internal/ratelimit"
	"github.com/cs350892/market-server/internal/repo"
	"github.com/cs350892/market-server/internal/resilience"
	"github.com/cs350892/market-server/internal/security"
	"github.com/cs350892/market-server/internal/support"
)

type deps struct {
	cfg       *config.Config
	log       zerolog.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	tasks     *asynq.Client
	inspector *asynq.Inspector
	registry  *prometheus.Registry
	http      *obs.HTTPMetrics
}

func newRouter(d deps) (http.Handler, error) {
	cfg, logger := d.cfg, d.log
	store := repo.NewStore(d.pool)
	mailer := common.LogEmailSender{Logger: logger.With().Str("mod", "mail").Logger(), From: cfg.NotifyEmailFrom}

	bus := &events.Bus{
		Store:     store.Queries,
		Notifiers: []events.Notifier{queue.NewEventNotifier(d.tasks, events.NotifyTopics(), logger)},
	}

	authSvc, err := auth.NewService(auth.Config{
		Queries:         store.Queries,
		Mailer:          mailer,
		Logger:          logger,
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		ResetTokenTTL:   cfg.PasswordResetTTL,
		PublicBaseURL:   cfg.PublicBaseURL,
	})
	if err != nil {
		return nil, err
	}
	authHandler := &auth.Handler{
		Service:           authSvc,
		RefreshCookieName: cfg.RefreshCookieName,
		CookieDomain:      cfg.CookieDomain,
		CookieSecure:      cfg.CookieSecure,
		CookieSameSite:    cfg.CookieSameSite,
	}
	authMW := auth.Middleware{Service: authSvc}

	fallback := pricing.ParseFallback(string(cfg.PricingTierFallback))
	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Queries:           store.Queries,
		Cache:             catalog.NewCache(d.redis, cfg.CatalogCacheTTL),
		Logger:            logger,
		DefaultLimit:      cfg.CatalogDefaultLimit,
		MaxLimit:          cfg.CatalogMaxLimit,
		DefaultTaxPercent: decimal.NewFromFloat(cfg.PricingDefaultTaxPercent),
		LowStockThreshold: cfg.LowStockThreshold,
		TierFallback:      fallback,
	})
	if err != nil {
		return nil, err
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogSvc})

	offerSvc := &offer.Service{Q: store.Queries}
	pricer := &pricing.Assembler{
		Products: catalogSvc,
		Offers:   offerSvc,
		Fallback: fallback,
		MaxLines: cfg.PricingMaxLines,
	}
	offerHandler := &offer.Handler{Svc: offerSvc, Pricer: pricer}

	checkoutHandler := &checkout.Handler{Svc: checkout.NewService(store, pricer, offerSvc, bus, catalogSvc, logger)}
	orderSvc := order.NewService(store, offerSvc, bus, catalogSvc, logger)
	orderHandler := &order.Handler{Svc: orderSvc}
	orderAdmin := &order.AdminHandler{Svc: orderSvc}

	phonePe := payment.PhonePe{
		MerchantID: cfg.PhonePeMerchantID,
		SaltKey:    cfg.PhonePeSaltKey,
		SaltIndex:  saltIndex(cfg.PhonePeSaltIndex),
		BaseURL:    cfg.PhonePeBaseURL,
		HTTP: resilience.NewHTTPClient(resilience.Options{
			Target:       "phonepe",
			Timeout:      cfg.OutboundTimeout,
			MaxAttempts:  cfg.RetryMaxAttempts,
			BaseBackoff:  cfg.RetryBase,
			MinRequests:  cfg.CircuitMinRequests,
			FailureRatio: cfg.CircuitFailureRatio,
			OpenFor:      cfg.CircuitOpenFor,
		}),
	}
	paymentSvc := payment.NewService(store, phonePe, offerSvc, bus, catalogSvc, logger)
	paymentSvc.IntentTTL = cfg.PaymentIntentTTL
	paymentSvc.CallbackURL = cfg.PaymentCallbackBaseURL + "/api/v1/webhooks/payment/" + phonePe.Name()
	paymentSvc.RedirectURL = cfg.PaymentRedirectURL
	paymentHandler := &payment.Handler{Svc: paymentSvc}
	webhook := payment.Webhook{
		Svc:       paymentSvc,
		Providers: map[string]payment.Provider{phonePe.Name(): phonePe},
		Replay:    d.redis,
		ReplayTTL: cfg.WebhookReplayTTL,
		Log:       logger,
	}

	supportHandler := &support.Handler{Svc: support.NewService(store, bus, logger)}
	analyticsHandler := &analytics.Handler{Svc: &analytics.Service{
		Q:                 store.Queries,
		R:                 d.redis,
		TTL:               cfg.AnalyticsCacheTTL,
		DefaultRange:      cfg.AnalyticsDefaultRangeDays,
		LowStockThreshold: cfg.LowStockThreshold,
		Log:               logger,
	}}
	auditHandler := audit.Handler{Store: store.Queries, Log: logger}
	auditRecorder := audit.Recorder{Service: &audit.Service{Store: store.Queries, Enabled: true}, Log: logger}
	queueAdmin := &queue.AdminHandler{Inspector: d.inspector, PageSize: 50, Logger: logger}

	authLimit := ratelimit.Handler{
		Limiter: ratelimit.SlidingWindow{Client: d.redis, Prefix: "rl", Window: cfg.RateLimitAuthWindow, Max: cfg.RateLimitAuthMax},
		Key:     ratelimit.ByIP("auth"),
		Log:     logger,
	}
	quoteLimiter, err := ratelimit.NewFixedWindow(d.redis, "rl:quote", cfg.RateLimitQuoteWindow, cfg.RateLimitQuoteMax)
	if err != nil {
		return nil, err
	}
	quoteLimit := ratelimit.Handler{Limiter: quoteLimiter, Key: ratelimit.ByUserOrIP("quote"), Log: logger}
	idem := common.Idem{R: d.redis, TTL: cfg.IdempotencyTTL}

	healthHandler := health.Handler{
		Probes: map[string]health.Probe{
			"postgres": health.Postgres(d.pool),
			"redis":    health.Redis(d.redis),
		},
		Timeout: 500 * time.Millisecond,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.ObsEnableTracing {
		r.Use(obs.Tracing("/health/live", "/health/ready", "/metrics"))
	}
	if cfg.ObsEnablePrometheus {
		r.Use(obs.HTTPObs{Metrics: d.http}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, SkipPaths: []string{"/health", "/metrics"}}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnable, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(authMW.Authenticate)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	if cfg.ObsEnablePrometheus {
		r.Handle("/metrics", obs.Handler(d.registry))
	}
	if cfg.ObsEnablePprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.AppEnv))
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/auth", func(a chi.Router) {
			a.With(authLimit.Middleware).Post("/register", authHandler.Register)
			a.With(authLimit.Middleware).Post("/login", authHandler.Login)
			a.Post("/refresh", authHandler.Refresh)
			a.Post("/logout", authHandler.Logout)
			a.With(authMW.RequireAuth).Get("/me", authHandler.Me)
			a.With(authLimit.Middleware).Post("/password/forgot", authHandler.ForgotPassword)
			a.With(authLimit.Middleware).Post("/password/reset", authHandler.ResetPassword)
		})

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{idOrSlug}", catalogHandler.ProductDetail)
		v.Get("/products/{idOrSlug}/price", catalogHandler.Price)

		v.With(quoteLimit.Middleware).Post("/offers/validate", offerHandler.Validate)
		v.Post("/webhooks/payment/{provider}", webhook.Handle)

		v.Group(func(p chi.Router) {
			p.Use(authMW.RequireAuth)
			p.With(quoteLimit.Middleware).Post("/checkout/quote", checkoutHandler.Quote)

			p.With(idem.Middleware).Post("/orders", checkoutHandler.Place)
			p.Get("/orders", orderHandler.List)
			p.Get("/orders/{orderId}", orderHandler.Get)
			p.Post("/orders/{orderId}/cancel", orderHandler.Cancel)

			p.With(idem.Middleware).Post("/payments/intent", paymentHandler.Intent)
			p.Get("/payments/{orderId}/status", paymentHandler.Status)

			p.Get("/support/tickets", supportHandler.ListMine)
			p.Post("/support/tickets", supportHandler.Open)
			p.Get("/support/tickets/{ticketId}", supportHandler.GetMine)
			p.Post("/support/tickets/{ticketId}/messages", supportHandler.ReplyMine)
		})

		v.Route("/admin", func(ad chi.Router) {
			ad.Use(authMW.RequireAuth)
			ad.Use(auth.RequireRole("admin"))
			ad.Use(auditRecorder.Middleware)

			ad.Get("/offers", offerHandler.List)
			ad.Post("/offers", offerHandler.Create)
			ad.Get("/offers/{code}", offerHandler.Get)
			ad.Put("/offers/{code}", offerHandler.Update)
			ad.Patch("/offers/{code}/status", offerHandler.SetStatus)
			ad.Delete("/offers/{code}", offerHandler.Delete)

			ad.Get("/products/low-stock", catalogHandler.LowStock)
			ad.Post("/products", catalogHandler.Create)
			ad.Get("/products/{idOrSlug}", catalogHandler.AdminGet)
			ad.Put("/products/{idOrSlug}", catalogHandler.Update)
			ad.Delete("/products/{idOrSlug}", catalogHandler.Deactivate)
			ad.Post("/products/{idOrSlug}/stock", catalogHandler.AdjustStock)

			ad.Get("/orders", orderAdmin.List)
			ad.Get("/orders/{id}", orderAdmin.Get)
			ad.Patch("/orders/{id}/status", orderAdmin.PatchStatus)

			ad.Get("/support/tickets", supportHandler.AdminList)
			ad.Get("/support/tickets/{id}", supportHandler.AdminGet)
			ad.Post("/support/tickets/{id}/messages", supportHandler.AdminReply)
			ad.Post("/support/tickets/{id}/close", supportHandler.AdminClose)

			ad.Get("/analytics/overview", analyticsHandler.Overview)
			ad.Get("/analytics/sales", analyticsHandler.Sales)
			ad.Get("/analytics/top-products", analyticsHandler.TopProducts)

			ad.Get("/audit-logs", auditHandler.List)

			ad.Get("/queues", queueAdmin.Stats)
			ad.Get("/queues/{queue}/archived", queueAdmin.ListArchived)
			ad.Post("/queues/{queue}/archived/{taskId}/retry", queueAdmin.Retry)
			ad.Delete("/queues/{queue}/archived/{taskId}", queueAdmin.Discard)
		})
	})

	return r, nil
}
