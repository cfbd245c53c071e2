package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"tillgate.dev/internal/authz"
	"tillgate.dev/internal/httpapi"
	"tillgate.dev/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db    *sql.DB
		store authz.Store
	)
	if dsn := os.Getenv("TILLGATE_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = authz.NewPGStore(db)
	} else {
		log.Println("TILLGATE_PG_DSN not set; running with in-memory store (dev mode)")
		store = authz.NewMemStore(nil)
	}

	opts := []authz.ServiceOption{
		authz.WithIssuer("tillgate"),
		authz.WithTokenSecret(os.Getenv("TILLGATE_TOKEN_SECRET")),
	}
	svc, err := authz.NewService(store, opts...)
	if err != nil {
		log.Fatalf("init authz service: %v", err)
	}

	janitor := authz.NewJanitor(svc)
	if err := janitor.Start(); err != nil {
		log.Fatalf("start janitor: %v", err)
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("TILLGATE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tillgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	janitor.Stop()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
