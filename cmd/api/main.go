package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"certhub.org/internal/audit"
	"certhub.org/internal/certs"
	"certhub.org/internal/httpapi"
	"certhub.org/internal/obs"
	"certhub.org/internal/store/pg"
	"certhub.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Local development keeps its settings in .env; absence is fine.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Without a DSN the service runs on the in-memory store. Useful for
	// demos and tests; anything real sets CERTHUB_PG_DSN.
	var (
		store   certs.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("CERTHUB_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		log.Println("CERTHUB_PG_DSN not set; using in-memory store")
		store = certs.NewInMemory()
	}

	issuance := stream.New()
	svc := certs.NewService(store,
		certs.WithAuditSink(audit.LogSink{}),
		certs.WithIssuanceStream(issuance),
	)

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(probe, svc, store, issuance, version)

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						16<<20,
					),
				),
			),
		),
	)

	httpAddr := envOr("CERTHUB_HTTP_ADDR", ":8080")
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// gRPC health side listener.
	grpcAddr := envOr("CERTHUB_GRPC_ADDR", ":9090")
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("listen grpc: %v", err)
	}
	grpcSrv := httpapi.NewGRPCServer(probe)
	go func() {
		if err := grpcSrv.Serve(ctx, grpcLis); err != nil {
			log.Printf("grpc server stopped: %v", err)
		}
	}()

	log.Printf("starting certhub-api %s on %s (grpc health on %s)", version, httpAddr, grpcAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
