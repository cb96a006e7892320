package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contribval/internal/contribval"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("CONTRIBVAL_CONFIG", "contribval.yaml"), "path to contribval.yaml")
	flag.Parse()

	cfg, err := contribval.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	svc, err := contribval.NewService(cfg)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	addr := cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("contribval listening on %s, schema=%s", addr, cfg.Upstream.SchemaURL)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
