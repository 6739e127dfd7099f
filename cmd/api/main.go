package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"orgdir.io/internal/audit"
	"orgdir.io/internal/auth"
	"orgdir.io/internal/httpapi"
	"orgdir.io/internal/janitor"
	"orgdir.io/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	dsn := os.Getenv("ORGDIR_PG_DSN")
	if dsn == "" {
		logger.Fatal("ORGDIR_PG_DSN is required")
	}
	secret := os.Getenv("ORGDIR_AUTH_SECRET")
	addr := os.Getenv("ORGDIR_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Token verification fails closed: no secret means no server.
	codec, err := auth.NewTokenCodec(secret)
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}
	csrf, err := auth.NewCSRFGuard(secret)
	if err != nil {
		logger.Fatal("csrf guard", zap.Error(err))
	}

	store := auth.NewPGStore(db)
	auditLog := audit.NewLog(db)
	refresh := auth.NewRefreshTokenManager(store.RefreshTokens())
	svc, err := auth.NewService(store.Users(), codec, refresh, auditLog)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}
	authz := auth.NewAuthorizer(store.Users(), store.Organizations(), store.Memberships(), auditLog)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Deps{
		Auth:  svc,
		Authz: authz,
		CSRF:  csrf,
		Audit: auditLog,
	})

	jctx, jcancel := context.WithCancel(context.Background())
	go janitor.New(refresh, auditLog).Run(jctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting orgdir-auth", zap.String("version", version), zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	jcancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	logger.Info("stopped")
}
