package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"wxbridge/bridge"
	"wxbridge/oauth"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// newApp wires the bridge, its transport and the OAuth client from cfg.
// Registration is attempted but a failure leaves the app running
// unregistered.
func newApp(cfg *BridgeConfig) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		limiter:  newInboundLimiter(cfg.InboundRPS, cfg.InboundBurst),
		registry: reg,
		logins:   newLoginTracker(),
		loginTTL: time.Duration(cfg.LoginTimeoutMs) * time.Millisecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	var transport bridge.Transport
	switch cfg.Transport {
	case "launcher":
		transport = bridge.NewLauncher(
			cfg.Opener.Command,
			cfg.Opener.Args,
			time.Duration(cfg.Opener.TimeoutMs)*time.Millisecond,
			log.Default(),
		)
	default:
		hub, err := bridge.NewPeerHub(cfg.MinPeerVersion, log.Default())
		if err != nil {
			return nil, err
		}
		a.hub = hub
		transport = hub
	}

	a.dispatcher = bridge.New(bridge.Options{
		Transport: transport,
		Peer:      bridge.PeerAddress{Scheme: cfg.PeerScheme, Link: cfg.PeerLink},
		Logger:    log.Default(),
		Metrics:   bridge.NewMetrics(reg),
	})
	if cfg.AppID != "" || cfg.UniversalLink != "" {
		// the error is logged by Register
		_ = a.dispatcher.Register(cfg.AppID, cfg.UniversalLink)
	}

	a.oauth = oauth.NewClient(oauth.Config{
		AppID:   cfg.AppID,
		Secret:  cfg.AppSecret,
		BaseURL: cfg.OAuthBaseURL,
	})
	return a, nil
}

func main() {
	cfgPath := os.Getenv("WXBRIDGE_CONFIG")
	if cfgPath == "" {
		wd, err := os.Getwd()
		if err == nil {
			cfgPath = findConfig(wd)
		}
	}
	cfg := loadConfig(cfgPath)

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("failed to create bridge: %v", err)
	}

	stopWatch := make(chan struct{})
	if cfg.HotReload && cfgPath != "" {
		if err := watchConfig(cfgPath, a.dispatcher, stopWatch); err != nil {
			log.Println("Hot reload disabled:", err)
		} else {
			log.Println("Hot reload enabled")
		}
	}

	addr := os.Getenv("WXBRIDGE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		log.Println("[shutdown] signal received, shutting down HTTP server...")
		close(stopWatch)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Printf("[shutdown] http server shutdown error: %v", err)
		} else {
			log.Println("[shutdown] http server shut down cleanly")
		}
	}()

	log.Println("=============================================")
	log.Printf(" wxbridge listening on %s", addr)
	log.Println("=============================================")
	if cfgPath != "" {
		log.Printf(" Config: %s", filepath.Clean(cfgPath))
	}
	log.Printf(" App ID: %s", cfg.AppID)
	log.Printf(" Universal link: %s", cfg.UniversalLink)
	log.Printf(" Transport: %s", cfg.Transport)
	if cfg.PeerLink != "" {
		log.Printf(" Peer link: %s", cfg.PeerLink)
	} else {
		log.Printf(" Peer scheme: %s://", cfg.PeerScheme)
	}
	log.Println("=============================================")

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[server] listen error: %v", err)
	}
}
