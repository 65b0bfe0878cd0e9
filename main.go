// main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/Anmol1085/social-clone/internal/call"
	"github.com/Anmol1085/social-clone/internal/config"
	"github.com/Anmol1085/social-clone/internal/presence"
	"github.com/Anmol1085/social-clone/internal/registry"
	"github.com/Anmol1085/social-clone/internal/relay"
	"github.com/Anmol1085/social-clone/internal/routes"
	"github.com/Anmol1085/social-clone/internal/socket"
	"github.com/Anmol1085/social-clone/internal/storage"
)

var log = logging.Logger("main")

var (
	cfgPath  = flag.String("config", "config.json", "Path to the config file")
	httpAddr = flag.String("addr", "", "Override server.http_addr from the config")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("social-clone realtime server v%s\n", appVersion)
		return
	}

	cfg, created, err := config.Ensure(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}

	lvl, _ := logging.LevelFromString(cfg.Log.Level)
	logging.SetAllLoggers(lvl)

	if created {
		log.Infof("created default config at %s", *cfgPath)
	}

	if err := run(cfg); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	reg := registry.New()
	srv := socket.NewServer(reg)

	rel := relay.New(reg, srv)
	broker := call.New(reg, srv, call.Options{
		OfferTimeout:    time.Duration(cfg.Call.OfferTimeoutSec) * time.Second,
		EndedGrace:      time.Duration(cfg.Call.EndedGraceSec) * time.Second,
		CandidateBuffer: cfg.Call.CandidateBuffer,
	})
	defer broker.Close()
	srv.Attach(rel, broker)

	pub := presence.New(reg, srv)
	pub.Start()
	defer pub.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", srv.Handler())
	routes.Register(mux, routes.Deps{Store: store, Reg: reg})

	httpSrv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (db: %s)", cfg.Server.HTTPAddr, store.Path())
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Infof("shutting down on %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
