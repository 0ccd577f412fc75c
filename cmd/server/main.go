package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"memberportal/internal/api"
	"memberportal/internal/auth"
	"memberportal/internal/config"
	"memberportal/internal/db"
	"memberportal/internal/directory"
	"memberportal/internal/files"
	"memberportal/internal/notify"
	"memberportal/internal/repo"
	"memberportal/internal/service"
	"memberportal/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqdb.Close()
	if err := db.ApplyMigrationFile(sqdb, "migrations/001_init.sql"); err != nil {
		log.Fatalf("migration: %v", err)
	}

	st := store.New(sqdb)
	ctx := context.Background()

	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		hash, err := auth.NewHasher(cfg.PasswordHashTimeCost).Hash(cfg.BootstrapAdminPassword)
		if err != nil {
			log.Fatalf("bootstrap admin hash: %v", err)
		}
		if err := st.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, hash); err != nil {
			log.Fatalf("bootstrap admin create: %v", err)
		}
	}
	admins, err := st.CountAdmins(ctx)
	if err != nil {
		log.Fatalf("count admins: %v", err)
	}
	if admins == 0 {
		log.Printf("no admin account exists; set BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD to create one")
	}
	if err := st.CleanupRateEventsBefore(ctx, time.Now().UTC().Add(-24*time.Hour)); err != nil {
		log.Printf("rate event cleanup failed err=%v", err)
	}

	var remote *repo.RemoteSource
	if cfg.UpstreamBaseURL != "" {
		remote = repo.NewRemoteSource(cfg.UpstreamBaseURL, cfg.UpstreamTimeout())
	}
	repository := repo.NewRepository(remote, repo.NewLocalSource(st), st)
	if cfg.DemoMode || remote == nil {
		if err := repository.ForceLocal(ctx); err != nil {
			log.Fatalf("init local data: %v", err)
		}
	} else if err := repository.Init(ctx); err != nil {
		log.Fatalf("init repository: %v", err)
	}

	provisioner, err := directory.NewProvisioner(cfg)
	if err != nil {
		log.Fatalf("directory provisioner: %v", err)
	}

	var sender notify.Sender
	switch cfg.EmailSender {
	case "relay":
		sender = notify.NewRelaySender(cfg)
	case "smtp":
		sender = notify.NewSMTPSender(cfg)
	default:
		sender = notify.LogSender{}
	}

	storage, err := files.NewStorage(cfg.CertStoragePath, cfg.MaxCertUploadBytes)
	if err != nil {
		log.Fatalf("certificate storage: %v", err)
	}
	secret := cfg.DownloadTokenSecret
	if secret == "" {
		secret = randomSecret()
		log.Printf("DOWNLOAD_TOKEN_SECRET not set, using an ephemeral secret; download links will not survive a restart")
	}
	tokens := files.NewTokenIssuer(secret, cfg.DownloadTokenTTL)

	svc := service.New(cfg, st, repository, provisioner, sender, storage, tokens)
	r := api.NewRouter(cfg, svc)

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	log.Printf("listening on %s fallback_active=%v", cfg.ListenAddr, repository.FallbackActive())
	if err := hsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
