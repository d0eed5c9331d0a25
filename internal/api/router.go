// Package api wires together all HTTP routes for the Cadogy backend.
//
// Route grouping:
//   - The route guard is installed on the engine, so it sees every request including those
//     that match no route. It classifies the path (public page, public API, session API,
//     API-key API, session page) and authenticates accordingly before any handler runs.
//   - /api/auth, /api/public and /api/webhooks are public; auth endpoints get a stricter
//     rate limit.
//   - /api/user, /api/dashboard and /api/admin require a session; /api/admin additionally
//     requires the admin role.
//   - Every other /api path requires an API key (per-user or static service key).
//
// Background work (token cleanup, key expiry warnings, the in-process email consumer) is
// constructed here but only started by BackgroundServices.Start, so tests can build the
// full router without side effects.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/cadogy/cadogy-backend/internal/api/account"
	"github.com/cadogy/cadogy-backend/internal/api/admin"
	"github.com/cadogy/cadogy-backend/internal/api/dashboard"
	"github.com/cadogy/cadogy-backend/internal/api/public"
	v1 "github.com/cadogy/cadogy-backend/internal/api/v1"
	"github.com/cadogy/cadogy-backend/internal/api/webhooks"
	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/audit"
	"github.com/cadogy/cadogy-backend/internal/auth"
	"github.com/cadogy/cadogy-backend/internal/auth/oidc"
	"github.com/cadogy/cadogy-backend/internal/cms"
	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/crypto"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/email"
	"github.com/cadogy/cadogy-backend/internal/jobs"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/payment"
	"github.com/cadogy/cadogy-backend/internal/safego"
	"github.com/cadogy/cadogy-backend/internal/services"
	"github.com/cadogy/cadogy-backend/internal/storage"

	// Import storage backends to register them
	_ "github.com/cadogy/cadogy-backend/internal/storage/azure"
	_ "github.com/cadogy/cadogy-backend/internal/storage/gcs"
	_ "github.com/cadogy/cadogy-backend/internal/storage/local"
	_ "github.com/cadogy/cadogy-backend/internal/storage/s3"
)

const siteName = "Cadogy"

// keyCipherSalt stretches a passphrase ENCRYPTION_KEY; raw 32-byte keys ignore it
var keyCipherSalt = []byte("cadogy/api-key-cipher/v1")

// BackgroundServices holds the background jobs and resources that must be stopped during
// graceful shutdown. The caller (cmd/server) calls Start once the router is built and
// Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	tokenCleanup   *jobs.VerificationTokenCleanup
	expiryNotifier *jobs.APIKeyExpiryNotifier
	emailConsumer  *email.Consumer
	emailProducer  *email.Producer
	auditShipper   audit.Shipper
	rateLimiters   []middleware.Limiter
	cancel         context.CancelFunc
}

// Start launches the periodic jobs and, when configured, the in-process email consumer
func (bg *BackgroundServices) Start(ctx context.Context) {
	ctx, bg.cancel = context.WithCancel(ctx)
	safego.Go("verification-token-cleanup", func() { bg.tokenCleanup.Start(ctx) })
	safego.Go("api-key-expiry-notifier", func() { bg.expiryNotifier.Start(ctx) })
	if bg.emailConsumer != nil {
		safego.Go("email-consumer", func() {
			if err := bg.emailConsumer.Run(ctx); err != nil {
				slog.Error("email consumer exited", "error", err)
			}
		})
	}
}

// Shutdown stops all background goroutines and flushes the outbound queues. It should be
// called after the HTTP server has been shut down so that in-flight requests finish first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.cancel != nil {
		bg.cancel()
	}
	bg.tokenCleanup.Stop()
	bg.expiryNotifier.Stop()
	if bg.emailConsumer != nil {
		if err := bg.emailConsumer.Close(); err != nil {
			slog.Warn("failed to close email consumer", "error", err)
		}
	}
	if bg.emailProducer != nil {
		if err := bg.emailProducer.Close(); err != nil {
			slog.Warn("failed to close email producer", "error", err)
		}
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. db is the process-wide pool opened by
// the caller; rdb may be nil, in which case rate limits and the CMS cache stay in-process.
func NewRouter(cfg *config.Config, db *sql.DB, rdb redis.UniversalClient, version string) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		return nil, nil, errors.New("ENCRYPTION_KEY environment variable must be set")
	}
	keyCipher, err := crypto.ParseKeyCipher(encryptionKey, keyCipherSalt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize key cipher: %w", err)
	}

	// Repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	verificationRepo := repositories.NewVerificationTokenRepository(db)
	ledgerRepo := repositories.NewTokenRepository(db)
	ticketRepo := repositories.NewTicketRepository(db)
	usageRepo := repositories.NewUsageRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	settingsRepo := repositories.NewSettingsRepository(sqlxDB)

	// Email
	templates, err := email.NewTemplates(siteName, cfg.Server.GetPublicURL())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load email templates: %w", err)
	}
	var sender email.Sender = email.LogSender{}
	if cfg.Email.Enabled {
		sender = email.NewSMTPSender(cfg.Email.SMTP)
	}
	var (
		producer *email.Producer
		consumer *email.Consumer
	)
	if cfg.Email.Queue.Enabled {
		producer = email.NewProducer(cfg.Email.Queue)
		if cfg.Email.Queue.ConsumeInProcess {
			consumer = email.NewConsumer(cfg.Email.Queue, sender)
		}
	}
	dispatcher := email.NewDispatcher(sender, producer)

	// Payments
	var (
		processor payment.Processor
		pricing   *payment.Pricing
	)
	if cfg.Payment.Enabled() {
		pricing, err = payment.NewPricing(cfg.Payment)
		if err != nil {
			return nil, nil, err
		}
		processor = payment.NewStripeProcessor(cfg.Payment.StripeSecretKey, cfg.Payment.StripeWebhookSecret)
	}

	// CMS
	var content public.Content
	if cfg.CMS.WordPressURL != "" {
		var cache cms.Cache
		if rdb != nil {
			cache = cms.NewRedisCache(rdb, "cms")
		}
		content = cms.NewService(cms.NewWordPressClient(cfg.CMS.WordPressURL, cfg.CMS.Timeout), cache, cfg.CMS.CacheTTL)
	}

	// Services
	issuer := auth.NewSessionIssuer(cfg.Auth.JWTSecret, cfg.Auth.Session.TTL)
	authService := services.NewAuthService(userRepo, verificationRepo, dispatcher, templates, cfg.Auth.BcryptCost)
	keyService := services.NewAPIKeyService(apiKeyRepo, keyCipher, cfg.Auth.APIKeys.Prefix, cfg.Auth.APIKeys.MaxPerUser, cfg.Auth.APIKeys.Static)
	billing := services.NewBillingService(ledgerRepo, processor, pricing, cfg.Server.GetPublicURL())

	var identityProvider account.IdentityProvider
	if cfg.Auth.OIDC.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		provider, err := oidc.NewProvider(ctx, &cfg.Auth.OIDC)
		cancel()
		if err != nil {
			// external login answers 503 until the next restart
			slog.Error("failed to initialize OIDC provider", "issuer", cfg.Auth.OIDC.IssuerURL, "error", err)
		} else {
			identityProvider = provider
			slog.Info("OIDC provider initialized", "issuer", cfg.Auth.OIDC.IssuerURL)
		}
	}

	// Audit
	auditShipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, nil, err
	}
	auditRecorder := audit.NewRecorder(auditRepo, auditShipper)

	// Middleware
	sessions := middleware.NewSessions(issuer, cfg.Auth.Session.CookieName, userRepo)
	guard := middleware.NewGuard(sessions, keyService, usageRepo, apiKeyRepo)

	generalLimiter := middleware.NewLimiter(middleware.GeneralRateLimitConfig(cfg.Security.RateLimiting), rdb)
	authLimiter := middleware.NewLimiter(middleware.AuthRateLimitConfig(cfg.Security.RateLimiting), rdb)
	uploadLimiter := middleware.NewLimiter(middleware.UploadRateLimitConfig(), rdb)
	rateLimit := func(l middleware.Limiter) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(l)
	}
	auditMiddleware := func(c *gin.Context) { c.Next() }
	if cfg.Audit.Enabled {
		auditMiddleware = middleware.AuditMiddleware(auditRecorder, cfg.Audit.LogFailedRequests)
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	hsts := cfg.Security.TLS.Enabled || cfg.Server.IsProduction()
	router.Use(middleware.SecurityHeadersMiddleware(
		middleware.SiteSecurityHeadersConfig(hsts),
		middleware.APISecurityHeadersConfig(hsts),
	))
	router.Use(guard.Middleware())

	// Probes
	router.GET("/healthz", healthCheckHandler(db))
	router.GET("/readyz", readinessHandler(db, rdb))
	router.GET("/version", versionHandler(version))

	if cfg.Storage.DefaultBackend == "local" {
		router.GET("/uploads/*filepath", uploadsHandler(storageBackend))
	}
	router.NoRoute(frontendHandler(cfg.Server.StaticDir))

	// Handlers
	authHandlers := account.NewAuthHandlers(authService, issuer, account.CookieSettings{
		Name:   cfg.Auth.Session.CookieName,
		Secure: cfg.Server.IsProduction() || cfg.Security.TLS.Enabled,
	})
	oidcHandlers := account.NewOIDCHandlers(authHandlers, identityProvider)
	profileHandlers := account.NewProfileHandlers(userRepo, authService, storageBackend, int64(cfg.Storage.MaxUploadMB)<<20)

	keyHandlers := dashboard.NewAPIKeyHandlers(keyService)
	ticketHandlers := dashboard.NewTicketHandlers(ticketRepo)
	tokenHandlers := dashboard.NewTokenHandlers(billing)
	usageHandlers := dashboard.NewUsageHandlers(usageRepo)

	adminUsers := admin.NewUserHandlers(db, billing)
	adminTickets := admin.NewTicketHandlers(db, dispatcher, templates)
	adminLedger := admin.NewLedgerHandlers(db, keyService)
	adminSettings := admin.NewSettingsHandlers(sqlxDB)
	adminAudit := admin.NewAuditHandlers(db)

	contentHandlers := public.NewContentHandlers(content, settingsRepo)
	contactHandlers := public.NewContactHandlers(dispatcher, templates, cfg.Email.ContactInbox)

	apiHandlers := v1.NewHandlers(userRepo, billing, version)
	stripeWebhook := webhooks.NewStripeWebhookHandler(billing)

	api := router.Group("/api")

	// Public authentication endpoints (guard attaches an existing session when present)
	authGroup := api.Group("/auth")
	authGroup.Use(rateLimit(authLimiter))
	{
		authGroup.POST("/register", authHandlers.RegisterHandler())
		authGroup.POST("/login", authHandlers.LoginHandler())
		authGroup.POST("/logout", authHandlers.LogoutHandler())
		authGroup.GET("/session", authHandlers.SessionHandler())
		authGroup.GET("/verify-email", authHandlers.VerifyEmailHandler())
		authGroup.POST("/resend-verification", authHandlers.ResendVerificationHandler())
		authGroup.POST("/forgot-password", authHandlers.ForgotPasswordHandler())
		authGroup.POST("/reset-password", authHandlers.ResetPasswordHandler())
		authGroup.GET("/oidc/login", oidcHandlers.LoginHandler())
		authGroup.GET("/oidc/callback", oidcHandlers.CallbackHandler())
	}

	publicGroup := api.Group("/public")
	publicGroup.Use(rateLimit(generalLimiter))
	{
		publicGroup.GET("/articles", contentHandlers.ListArticlesHandler())
		publicGroup.GET("/articles/:slug", contentHandlers.GetArticleHandler())
		publicGroup.GET("/categories", contentHandlers.ListCategoriesHandler())
		publicGroup.GET("/tags", contentHandlers.ListTagsHandler())
		publicGroup.GET("/settings", contentHandlers.SettingsHandler())
		publicGroup.POST("/contact", rateLimit(authLimiter), contactHandlers.SubmitHandler())
	}

	// Webhooks authenticate by signature; no rate limit so the processor's retries land
	api.POST("/webhooks/stripe", stripeWebhook.HandleWebhook)

	// Session-protected endpoints
	userGroup := api.Group("/user")
	userGroup.Use(rateLimit(generalLimiter), auditMiddleware)
	{
		userGroup.GET("/profile", profileHandlers.GetProfileHandler())
		userGroup.PATCH("/profile", profileHandlers.UpdateProfileHandler())
		userGroup.POST("/change-password", rateLimit(authLimiter), profileHandlers.ChangePasswordHandler())
		userGroup.POST("/avatar", rateLimit(uploadLimiter), profileHandlers.UploadAvatarHandler())
	}

	dash := api.Group("/dashboard")
	dash.Use(rateLimit(generalLimiter), auditMiddleware)
	{
		dash.GET("/api-keys", keyHandlers.ListHandler())
		dash.POST("/api-keys", keyHandlers.CreateHandler())
		dash.PATCH("/api-keys/:id", keyHandlers.UpdateHandler())
		dash.DELETE("/api-keys/:id", keyHandlers.DeleteHandler())
		dash.GET("/api-keys/:id/reveal", keyHandlers.RevealHandler())

		dash.GET("/usage", usageHandlers.SummaryHandler())

		dash.GET("/tickets", ticketHandlers.ListHandler())
		dash.POST("/tickets", ticketHandlers.CreateHandler())
		dash.GET("/tickets/:id", ticketHandlers.GetHandler())
		dash.POST("/tickets/:id/messages", ticketHandlers.AddMessageHandler())
		dash.POST("/tickets/:id/close", ticketHandlers.CloseHandler())

		dash.GET("/tokens", tokenHandlers.BalanceHandler())
		dash.GET("/tokens/quote", tokenHandlers.QuoteHandler())
		dash.POST("/tokens/checkout", tokenHandlers.CheckoutHandler())
		dash.GET("/tokens/verify", tokenHandlers.VerifyHandler())
	}

	adminGroup := api.Group("/admin")
	adminGroup.Use(middleware.RequireAdmin(), rateLimit(generalLimiter), auditMiddleware)
	{
		adminGroup.GET("/users", adminUsers.ListUsersHandler())
		adminGroup.GET("/users/:id", adminUsers.GetUserHandler())
		adminGroup.PATCH("/users/:id/role", adminUsers.SetRoleHandler())
		adminGroup.PATCH("/users/:id/verify", adminUsers.SetVerifiedHandler())
		adminGroup.DELETE("/users/:id", adminUsers.DeleteUserHandler())
		adminGroup.POST("/users/:id/tokens", adminUsers.AdjustTokensHandler())

		adminGroup.GET("/tickets", adminTickets.ListTicketsHandler())
		adminGroup.GET("/tickets/:id", adminTickets.GetTicketHandler())
		adminGroup.POST("/tickets/:id/reply", adminTickets.ReplyHandler())
		adminGroup.PATCH("/tickets/:id/status", adminTickets.SetStatusHandler())

		adminGroup.GET("/token-transactions", adminLedger.ListTransactionsHandler())
		adminGroup.PATCH("/api-keys/:id", adminLedger.SetKeyActiveHandler())

		adminGroup.GET("/settings", adminSettings.ListSettingsHandler())
		adminGroup.PUT("/settings/:key", adminSettings.PutSettingHandler())
		adminGroup.GET("/stats", adminSettings.StatsHandler())

		adminGroup.GET("/audit-logs", adminAudit.ListAuditLogsHandler())
		adminGroup.GET("/audit-logs/:id", adminAudit.GetAuditLogHandler())
	}

	// API-key-protected programmatic API
	v1Group := api.Group("/v1")
	v1Group.Use(rateLimit(generalLimiter))
	{
		v1Group.GET("/status", apiHandlers.StatusHandler())
		v1Group.GET("/account", apiHandlers.AccountHandler())
		v1Group.POST("/tokens/consume", apiHandlers.ConsumeHandler())
	}

	bg := &BackgroundServices{
		tokenCleanup:   jobs.NewVerificationTokenCleanup(verificationRepo, cfg.Jobs.TokenCleanupInterval),
		expiryNotifier: jobs.NewAPIKeyExpiryNotifier(apiKeyRepo, dispatcher, templates, cfg.Email, cfg.Jobs),
		emailConsumer:  consumer,
		emailProducer:  producer,
		auditShipper:   auditShipper,
		rateLimiters:   []middleware.Limiter{generalLimiter, authLimiter, uploadLimiter},
	}
	return router, bg, nil
}

// @Summary      Liveness check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /healthz [get]
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /readyz [get]
func readinessHandler(db *sql.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}

// uploadsHandler serves files from the local storage backend at /uploads/<key>. Cloud
// backends hand out their own URLs and never reach this route.
func uploadsHandler(store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(path.Clean(c.Param("filepath")), "/")
		if key == "" || key == "." {
			apperr.Respond(c, apperr.ErrNotFound)
			return
		}
		rc, err := store.Open(c.Request.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			apperr.Respond(c, apperr.ErrNotFound)
			return
		}
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		defer rc.Close()

		contentType := mime.TypeByExtension(path.Ext(key))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Cache-Control", "public, max-age=86400")
		c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
	}
}

// frontendHandler answers requests that match no route. /api paths get a JSON 404;
// everything else is served from the built frontend in dir, falling back to index.html
// so client-side routes resolve. The guard has already run for these requests.
func frontendHandler(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if dir == "" || p == "/api" || strings.HasPrefix(p, "/api/") {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "route not found"))
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "route not found"))
			return
		}
		full := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+p)))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			c.File(full)
			return
		}
		c.File(filepath.Join(dir, "index.html"))
	}
}

// LoggerMiddleware logs one structured record per request
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqPath := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		// health probes are polled every few seconds
		if reqPath == "/healthz" || reqPath == "/readyz" {
			return
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", reqPath),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		// api_key is accepted as a query parameter and must never be logged
		if query != "" && !strings.Contains(query, "api_key=") {
			attrs = append(attrs, slog.String("query", query))
		}
		if userID := c.GetString(middleware.UserIDKey); userID != "" {
			attrs = append(attrs, slog.String("user_id", userID))
		}
		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// CORSMiddleware handles CORS. Credentials are allowed so the browser sends the session
// cookie, which means the wildcard origin is echoed back rather than sent as "*".
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		if origin != "" {
			for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-API-Key, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
