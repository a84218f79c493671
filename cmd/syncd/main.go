package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jirasync/internal/browser"
	"jirasync/internal/config"
	"jirasync/internal/db"
	"jirasync/internal/diff"
	"jirasync/internal/handler"
	"jirasync/internal/logger"
	"jirasync/internal/notify"
	gormrepository "jirasync/internal/repository/gorm"
	"jirasync/internal/scraper"
	"jirasync/internal/session"
	"jirasync/internal/syncer"
)

func main() {
	cfgPath := os.Getenv("JIRASYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("JIRASYNC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pages := &browser.ChromeFactory{
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
		Logger:    logger,
	}
	defer pages.Close()

	loginFlow := &session.BrowserFlow{
		Pages:         pages,
		Logger:        logger,
		Username:      cfg.Site.Username,
		Password:      cfg.Site.Password,
		SessionCookie: cfg.Site.SessionCookie,
		Timeout:       cfg.Site.LoginTimeout,
	}
	sessions := &session.Provider{
		Flow:   loginFlow,
		Logger: logger,
		TTL:    cfg.Site.SessionTTL,
	}
	extractor := &scraper.Extractor{
		Pages:        pages,
		Logger:       logger,
		ReadyTimeout: cfg.Sync.ReadyTimeout,
		ReadyPolls:   cfg.Sync.ReadyPolls,
		CallTimeout:  cfg.Sync.ExtractTimeout,
	}

	notifier := initNotifier(cfg.Notify, logger)

	orchestrator := &syncer.Orchestrator{
		Repo:      store,
		Sessions:  sessions,
		Extract:   extractor,
		Detector:  diff.NewDetector(cfg.Sync.TrackDescription),
		Notifier:  notifier,
		ConfStore: config.NewStore(cfgPath),
		Logger:    logger,
		LoginURL:  cfg.Site.LoginURL,
		BaseCtx:   ctx,
	}
	defer orchestrator.Shutdown()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	syncHandler := &handler.SyncHandler{Orchestrator: orchestrator}
	syncHandler.Register(engine)
	tasksHandler := &handler.TasksHandler{Repo: store}
	tasksHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Repo: store}
	settingsHandler.Register(engine)

	if cfg.Site.ParentListURL != "" && cfg.Site.SubListURL != "" {
		if err := orchestrator.Start(ctx, cfg.Site.ParentListURL, cfg.Site.SubListURL, cfg.Sync.IntervalMinutes); err != nil {
			logger.Warn("sync not started from config", zap.Error(err))
		}
	} else {
		logger.Info("list urls not configured, waiting for /api/v1/sync/start")
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func initNotifier(cfg config.NotifyConfig, logger *zap.Logger) notify.Notifier {
	logSink := &notify.Log{Logger: logger}
	base := strings.TrimSpace(cfg.WebhookURL)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if base == "" || apiKey == "" {
		return logSink
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	webhook := &notify.Webhook{
		BaseURL: base,
		APIKey:  apiKey,
		Source:  cfg.Agent,
		HTTP:    &http.Client{Timeout: timeout},
	}
	loginCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := webhook.Login(loginCtx); err != nil {
		logger.Warn("webhook login failed (falling back to log notifications)", zap.Error(err))
		return logSink
	}
	logger.Info("webhook notifications enabled")
	return &notify.Multi{Sinks: []notify.Notifier{logSink, webhook}}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
