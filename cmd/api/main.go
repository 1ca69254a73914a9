package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invitegate.dev/internal/application"
	"invitegate.dev/internal/audit"
	"invitegate.dev/internal/config"
	"invitegate.dev/internal/httpapi"
	"invitegate.dev/internal/invite"
	"invitegate.dev/internal/keys"
	"invitegate.dev/internal/obs"
	"invitegate.dev/internal/store/pg"
	"invitegate.dev/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Key material is fatal at startup: the process must not serve a single
	// request it cannot sign or verify.
	provider := keys.NewProvider(cfg.PrivateKeyPEM, cfg.PublicKeyPEM)
	if err := provider.Load(); err != nil {
		log.Fatalf("keys: %v", err)
	}
	codec := token.NewCodec(provider, token.WithIssuer(cfg.Issuer))

	var (
		inviteStore  invite.Store
		ledgerStore  invite.LedgerStore
		appStore     application.Store
		auditStore   audit.Store
		readyProbe   httpapi.ReadyProbe
		closeStorage = func() {}
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		inviteStore = store.Invites
		ledgerStore = store.Invites
		appStore = store.Applications
		auditStore = store.Audit
		readyProbe = httpapi.ReadyProbe{DB: store.DB()}
		closeStorage = func() { _ = store.Close() }
	} else {
		log.Printf("no INVITEGATE_PG_DSN set, using in-memory stores")
		mem := invite.NewInMemory()
		inviteStore = mem
		ledgerStore = mem
		appStore = application.NewInMemory()
		auditStore = nil // recorder falls back to the diagnostics log store
	}

	recorder := audit.NewRecorder(auditStore)
	invites := invite.NewService(inviteStore, ledgerStore, codec, recorder)

	api := httpapi.New(httpapi.Deps{
		Invites:        invites,
		Applications:   appStore,
		Codec:          codec,
		Audit:          recorder,
		Ready:          readyProbe,
		Version:        version,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting invitegate-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	closeStorage()
	log.Println("Stopped")
}
