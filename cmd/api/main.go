package main

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"onboarding/api/db"
	"onboarding/api/internal/app"
	"onboarding/api/internal/config"
	"onboarding/api/internal/credentials"
	"onboarding/api/internal/email"
	"onboarding/api/internal/export"
	"onboarding/api/internal/lock"
	"onboarding/api/internal/search"
	"onboarding/api/internal/store"
	"onboarding/api/internal/uploads"
)

// formStore is what the service and the background jobs need from storage.
type formStore interface {
	InsertForm(context.Context, store.FormRecord, store.VersionSnapshot) error
	GetForm(context.Context, string) (store.FormRecord, error)
	AppendVersion(context.Context, string, int, store.FormRecord, store.VersionSnapshot) error
	ListVersions(context.Context, string) ([]store.VersionSnapshot, error)
	GetVersion(context.Context, string, int) (store.VersionSnapshot, error)
	ListForms(context.Context, store.ListFilter) ([]store.FormSummary, int, error)
	SummariesByTokens(context.Context, []string) ([]store.FormSummary, error)
	AllForms(context.Context) ([]store.FormSummary, error)
	Stats(context.Context, time.Time) (store.Stats, error)
	DeleteForm(context.Context, string) error
	PurgeExpired(context.Context) ([]string, error)
	Ping(context.Context) error
}

func main() {
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var dataStore formStore
	if cfg.DatabaseURL == "memory" {
		log.Printf("Using in-memory storage, forms are lost on restart")
		dataStore = store.NewMemoryStore()
	} else {
		conn, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer conn.Close()

		if err := migrate(ctx, conn, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		var sealer credentials.Sealer
		if s := credentials.NewAEADSealer(cfg.CredentialsKey); s != nil {
			sealer = s
		}
		dataStore = store.NewPostgresStore(conn, sealer)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	var searchService *search.Service
	if meiliClient != nil {
		searchService = search.NewService(meiliClient, dataStore)
	} else {
		searchService = search.NewService(nil, dataStore)
	}

	opts := []app.Option{app.WithSearch(searchService)}

	// Redis is optional; without it concurrent updates rely on the version check alone
	if strings.TrimSpace(cfg.RedisURL) != "" {
		locker, err := lock.NewRedisLocker(cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer locker.Close()
		log.Printf("Using Redis for per-form update locks")
		opts = append(opts, app.WithLocker(locker))
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		storage, err := uploads.NewMinioStorage(ctx, uploads.MinioConfig{
			Endpoint:        cfg.MinioEndpoint,
			AccessKeyID:     cfg.MinioAccessKey,
			SecretAccessKey: cfg.MinioSecretKey,
			UseSSL:          cfg.MinioUseSSL,
			BucketName:      cfg.MinioBucket,
			PublicURL:       cfg.MinioPublicURL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		opts = append(opts, app.WithUploads(uploads.NewService(storage, cfg.UploadMaxBytes)))
	} else {
		log.Printf("MINIO_ENDPOINT not set, image uploads are disabled")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		opts = append(opts, app.WithNotifier(mailer))
	} else {
		log.Printf("SMTP not configured, submission emails are disabled")
	}

	opts = append(opts, app.WithExporter(export.NewService(export.ChromeRenderer{})))

	service := app.New(cfg, dataStore, opts...)

	store.StartExpirySweeper(ctx, dataStore, cfg.SweepInterval, func(tokens []string) {
		searchService.DeleteForms(tokens...)
	})
	go searchService.ReindexFromStore(ctx)

	if cfg.AdminAPIKey == "" {
		log.Printf("ADMIN_API_KEY not set, admin routes are disabled")
	}
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.AdminAPIKey)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Onboarding API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	service.Wait()
}

// migrate applies the embedded migrations, or the ones under dir when set.
func migrate(ctx context.Context, conn *sql.DB, dir string) error {
	var fsys fs.FS = db.Migrations
	root := "migrations"
	if strings.TrimSpace(dir) != "" {
		fsys = os.DirFS(dir)
		root = "."
	}
	return store.ApplyMigrations(ctx, conn, fsys, root)
}
