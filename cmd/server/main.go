package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seatraft/internal/authn"
	"seatraft/internal/cache"
	"seatraft/internal/facade"
	"seatraft/internal/gateway"
	"seatraft/internal/raft"
	"seatraft/internal/statemachine"
	"seatraft/internal/store"
	"seatraft/internal/sweeper"
)

func main() {
	httpAddr := flag.String("http", ":8080", "address the REST gateway listens on")
	flag.Parse()

	ctx := context.Background()

	databaseURL := os.Getenv("DATABASE_URL")
	redisAddr := os.Getenv("REDIS_ADDR")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "seatraft-dev-secret"
	}

	st, err := store.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connecting to postgres: %v", err)
	}
	defer st.Close()

	ch := cache.New(redisAddr)
	defer ch.Close()

	issuer := authn.NewIssuer(jwtSecret, 24*time.Hour)
	sm := statemachine.New(st, ch)

	cfg, err := raft.LoadConfigFromEnv(sm)
	if err != nil {
		log.Fatalf("loading raft config: %v", err)
	}

	node := raft.NewNode(cfg)
	srv, err := node.Start(cfg.SelfAddress)
	if err != nil {
		log.Fatalf("starting raft node: %v", err)
	}

	f := facade.New(node)
	gw := gateway.New(f, st, issuer)

	sw := sweeper.New(st, f, time.Minute, 15*time.Minute)
	go sw.Run()

	httpServer := &http.Server{Addr: *httpAddr, Handler: gw.Handler()}
	go func() {
		log.Printf("seatraft gateway listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	sw.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	node.Shutdown(srv)
}
