package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const (
	defaultStoreDir = "./data/nats"
	readyTimeout    = 5 * time.Second
)

// EmbeddedServer hosts NATS in-process so a single binary can serve the
// request-reply API, lifecycle events and the artifact object store.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start runs an embedded JetStream-enabled server when cfg.Embedded is set
// and returns nil otherwise. A port of -1 picks a random free port.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	log = log.With(slog.String("component", "nats-embedded"))

	opts := serverOptions(cfg)
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server not ready within " + readyTimeout.String())
	}
	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", opts.StoreDir),
		slog.Int("max_payload", int(opts.MaxPayload)))
	return &EmbeddedServer{ns: ns, log: log}, nil
}

// serverOptions binds to loopback only; remote producers use an external
// cluster instead.
func serverOptions(cfg config.BusConfig) *server.Options {
	opts := &server.Options{
		ServerName: "loqa-translate-embedded",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
		NoLog:      true,
	}
	if opts.StoreDir == "" {
		opts.StoreDir = defaultStoreDir
	}
	if cfg.MaxPayloadMB > 0 {
		opts.MaxPayload = int32(cfg.MaxPayloadMB) << 20
	}
	if cfg.Username != "" {
		opts.Username, opts.Password = cfg.Username, cfg.Password
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}
	return opts
}

// ClientURL returns the URL clients should connect to.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for JetStream to flush. Safe on nil.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
