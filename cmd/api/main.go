package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"geogate.org/internal/apitoken"
	"geogate.org/internal/authkey"
	"geogate.org/internal/catalog"
	"geogate.org/internal/directory"
	"geogate.org/internal/grants"
	"geogate.org/internal/httpapi"
	"geogate.org/internal/obs"
	"geogate.org/internal/resolver"
)

var version = "0.3.0"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GEOGATE_COMMIT"))

	dsn := os.Getenv("GEOGATE_PG_DSN")
	if dsn == "" {
		log.Fatal("GEOGATE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	gsURL := os.Getenv("GEOGATE_GEOSERVER_URL")
	if gsURL == "" {
		log.Fatal("GEOGATE_GEOSERVER_URL is required")
	}
	defaultRoles := splitList(os.Getenv("GEOGATE_DEFAULT_ROLES"))

	catalogOpts := []catalog.CatalogOption{}
	if raw := os.Getenv("GEOGATE_CATALOG_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("GEOGATE_CATALOG_TTL: %v", err)
		}
		catalogOpts = append(catalogOpts, catalog.WithTTL(ttl))
	}
	cat := catalog.New(
		catalog.NewClient(gsURL, os.Getenv("GEOGATE_GEOSERVER_USERNAME"), os.Getenv("GEOGATE_GEOSERVER_PASSWORD")),
		defaultRoles,
		catalogOpts...,
	)

	dir := directory.NewPGDirectory(db)

	gsvc, err := grants.NewService(grants.NewPGStore(db), dir, cat)
	if err != nil {
		log.Fatalf("grants: %v", err)
	}
	ksvc, err := authkey.NewService(authkey.NewPGStore(db), dir)
	if err != nil {
		log.Fatalf("authkey: %v", err)
	}

	// без секрета длинные токены хоста не принимаются, остаются только authkey
	var tokens resolver.TokenValidator
	if secret := os.Getenv("GEOGATE_TOKEN_SECRET"); secret != "" {
		v, err := apitoken.NewValidator(secret, dir)
		if err != nil {
			log.Fatalf("apitoken: %v", err)
		}
		tokens = v
	}

	res, err := resolver.New(gsvc, ksvc, tokens, dir, defaultRoles)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	selfService, _ := strconv.ParseBool(os.Getenv("GEOGATE_SELF_SERVICE"))

	api := httpapi.New(httpapi.Config{
		Ready:    httpapi.ReadyProbe{DB: db},
		Version:  version,
		Grants:   gsvc,
		Authkeys: ksvc,
		Resolver: res,
		Policy:   resolver.NewPolicy(selfService),
		Roles:    cat,
	})

	// цепочка middleware поверх API
	handler := httpapi.SecurityHeaders(
		httpapi.CORS(
			httpapi.Logging(
				httpapi.MaxBodyBytes(
					httpapi.RateLimit(api.Handler(), 50, 25),
					1<<20,
				),
			),
		),
	)

	addr := os.Getenv("GEOGATE_LISTEN")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting geogate-api %s on %s", version, srv.Addr)

	// graceful shutdown
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
	_ = db.Close()
	log.Println("Stopped")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
