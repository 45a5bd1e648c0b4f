package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ecomed/libs/mailer"
	"ecomed/libs/reportflow"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	maxUploadBytes             = reportflow.MaxPhotoBytes
	multipartOverheadBytes     = 1 << 20
	reportRateLimitRequests    = 8
	reportRateLimitWindow      = 5 * time.Minute
	loginRateLimitRequests     = 10
	loginRateLimitWindow       = 15 * time.Minute
	rateLimiterIdleTTL         = 30 * time.Minute
	rateLimiterCleanupInterval = time.Minute
	adminCookieName            = "ecomed_admin_session"
	adminSessionDuration       = 8 * time.Hour
	reportListCacheTTL         = 30 * time.Second
	notifyTimeout              = 15 * time.Second
	photoMediaPathPrefix       = "/media/reports/"
	photoCacheMaxAgeSeconds    = 365 * 24 * 60 * 60
	devCORSOriginLocalhost     = "http://localhost:3000"
	devCORSOriginLoopback      = "http://127.0.0.1:3000"
	trustedProxyLoopbackIPv4   = "127.0.0.1"
	trustedProxyLoopbackIPv6   = "::1"
)

var allowedImageTypes = func() map[string]struct{} {
	types := make(map[string]struct{})
	for _, contentType := range reportflow.PhotoTypes() {
		types[contentType] = struct{}{}
	}
	return types
}()

type Config struct {
	Addr                   string
	Env                    string
	DatabaseURL            string
	DataRoot               string
	PublicBaseURL          string
	AppSigningSecret       string
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	MapboxAccessToken      string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ResendAPIKey           string
	MailerFromAddresses    map[string]string
	ReportNotifyEmail      string
}

type App struct {
	cfg *Config
	db  *sql.DB
	log *slog.Logger

	mailer  *mailer.Mailer
	cache   reportListCache
	photos  *diskPhotoStore
	limiter *ipRateLimiter
	metrics *apiMetrics
	now     func() time.Time

	adminTemplates *adminTemplateRenderer

	// test hooks; nil means the Postgres or disk implementation
	adminAuthenticateAdmin func(ctx context.Context, email, password string) error
	reportsList            func(ctx context.Context) ([]reportflow.Report, error)
	reportsInsert          func(ctx context.Context, report reportflow.NewReport) (reportflow.Report, error)
	photosUpload           func(ctx context.Context, name, contentType string, data []byte) (string, error)
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		panic(err)
	}

	var mailProvider mailer.Provider
	if cfg.ResendAPIKey != "" {
		mailProvider = mailer.NewResendProvider(cfg.ResendAPIKey)
	} else {
		mailProvider = mailer.NewLogProvider(logger)
	}
	logger.Info("mailer initialized", "provider", mailProvider.Name())

	app := &App{
		cfg:            cfg,
		db:             db,
		log:            logger,
		mailer:         mailer.New(mailProvider, cfg.MailerFromAddresses[mailProvider.Name()]),
		photos:         newDiskPhotoStore(cfg.DataRoot, cfg.PublicBaseURL),
		limiter:        newIPRateLimiter(),
		metrics:        newAPIMetrics(),
		now:            time.Now,
		adminTemplates: newAdminTemplateRenderer(cfg.Env),
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, report list cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			app.cache = newRedisReportCache(client, reportListCacheTTL)
			logger.Info("report list cache enabled", "addr", cfg.RedisAddr)
		}
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	app.limiter.startCleanup(cleanupCtx, rateLimiterCleanupInterval, rateLimiterIdleTTL)

	app.adminAuthenticateAdmin = app.authenticateAdminCredentials
	app.reportsList = app.storeListReports
	app.reportsInsert = app.storeInsertReport
	app.photosUpload = app.photos.UploadPhoto

	logger.Info("runtime configuration", "env", cfg.Env, "addr", cfg.Addr, "data_root", cfg.DataRoot)

	if err := app.runMigrations(ctx); err != nil {
		panic(err)
	}

	if len(os.Args) > 1 && os.Args[1] == "export-reports" {
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: api export-reports <csv|pdf> <path>")
			os.Exit(2)
		}
		if err := app.exportReportsToFile(ctx, os.Args[2], os.Args[3]); err != nil {
			logger.Error("export failed", "format", os.Args[2], "err", err)
			os.Exit(1)
		}
		logger.Info("export written", "format", os.Args[2], "path", os.Args[3])
		return
	}

	if err := app.bootstrapAdmin(ctx); err != nil {
		panic(err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataRoot, "uploads", "reports"), 0o755); err != nil {
		panic(err)
	}

	r := gin.New()
	if err := r.SetTrustedProxies([]string{trustedProxyLoopbackIPv4, trustedProxyLoopbackIPv6}); err != nil {
		panic(err)
	}
	r.Use(gin.Recovery())
	r.Use(app.loggingMiddleware())
	r.Use(app.metrics.middleware())
	r.Use(cors.New(app.corsConfig()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.metrics.registry, promhttp.HandlerOpts{})))

	app.registerPublicRoutes(r)
	app.registerAdminRoutes(r)

	app.log.Info("starting gin API", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		panic(err)
	}
}

func loadConfig() (*Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		host := valueFromEnvKeys("PGHOST", "POSTGRES_HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		port := valueFromEnvKeys("PGPORT", "POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		dbname := valueFromEnvKeys("PGDATABASE", "POSTGRES_DB")
		user := valueFromEnvKeys("PGUSER", "POSTGRES_USER")
		password := valueFromEnvKeys("PGPASSWORD", "POSTGRES_PASSWORD")
		sslmode := valueFromEnvKeys("PGSSLMODE", "POSTGRES_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}
		if dbname != "" && user != "" {
			databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
		}
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or PG*/POSTGRES_* variables must be configured")
	}

	secret := strings.TrimSpace(os.Getenv("APP_SIGNING_SECRET"))
	if len(secret) < 16 {
		return nil, fmt.Errorf("APP_SIGNING_SECRET must be at least 16 characters")
	}

	publicBase := strings.TrimRight(valueOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		Addr:                   valueOrDefault("GIN_ADDR", ":8080"),
		Env:                    valueOrDefault("APP_ENV", "development"),
		DatabaseURL:            databaseURL,
		DataRoot:               valueOrDefault("DATA_ROOT", "/var/lib/ecomed"),
		PublicBaseURL:          publicBase,
		AppSigningSecret:       secret,
		BootstrapAdminEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
		BootstrapAdminPassword: strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")),
		MapboxAccessToken:      strings.TrimSpace(os.Getenv("MAPBOX_ACCESS_TOKEN")),
		RedisAddr:              strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		ResendAPIKey:           strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		MailerFromAddresses: map[string]string{
			"resend": valueOrDefault("MAILER_FROM_ADDRESS_RESEND", "reportes@ecomed.co"),
			"log":    valueOrDefault("MAILER_FROM_ADDRESS_LOG", "reportes@ecomed.local"),
		},
		ReportNotifyEmail: strings.TrimSpace(os.Getenv("REPORT_NOTIFY_EMAIL")),
	}

	if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
		parsed, err := strconv.Atoi(rawDB)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("REDIS_DB must be a non-negative integer")
		}
		cfg.RedisDB = parsed
	}

	if (cfg.BootstrapAdminEmail == "") != (cfg.BootstrapAdminPassword == "") {
		return nil, fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	if cfg.BootstrapAdminPassword != "" && len(cfg.BootstrapAdminPassword) < 8 {
		return nil, fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func valueFromEnvKeys(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func (a *App) runMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	if _, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var exists bool
		if err := a.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, file).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		content, err := migrationFiles.ReadFile("migrations/" + file)
		if err != nil {
			return err
		}

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		a.log.Info("applied migration", "file", file)
	}

	return nil
}

func (a *App) bootstrapAdmin(ctx context.Context) error {
	email := strings.ToLower(a.cfg.BootstrapAdminEmail)
	password := a.cfg.BootstrapAdminPassword
	if email == "" || password == "" {
		a.log.Info("bootstrap admin not configured")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO admins (email, password_hash, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (email)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			is_active = TRUE,
			updated_at = NOW()
	`, email, string(hash))
	if err != nil {
		return err
	}

	a.log.Info("bootstrap admin ensured", "email", email)
	return nil
}

func (a *App) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		)
	}
}

func (a *App) corsConfig() cors.Config {
	return cors.Config{
		AllowOriginFunc:  a.isAllowedCORSOrigin,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func (a *App) isAllowedCORSOrigin(origin string) bool {
	if origin == "" || a.cfg == nil {
		return false
	}
	if a.cfg.PublicBaseURL != "" && origin == a.cfg.PublicBaseURL {
		return true
	}
	if !strings.EqualFold(a.cfg.Env, "development") {
		return false
	}
	return origin == devCORSOriginLocalhost || origin == devCORSOriginLoopback
}

func (a *App) isProduction() bool {
	return strings.EqualFold(a.cfg.Env, "production")
}

func (a *App) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func writeAPIError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Code, "message": apiErr.Message})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
