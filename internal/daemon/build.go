package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ankittk/agentdeck/internal/auth"
	"github.com/ankittk/agentdeck/internal/capabilities"
	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/notice"
	"github.com/ankittk/agentdeck/internal/session"
	"github.com/ankittk/agentdeck/internal/store"
	"github.com/ankittk/agentdeck/internal/store/postgres"
	"github.com/ankittk/agentdeck/internal/transport"
	"github.com/ankittk/agentdeck/pkg/client"
	"github.com/ankittk/agentdeck/pkg/models"
)

// BuildOptions selects what Build wires beyond the REST client.
type BuildOptions struct {
	Stream bool // connect the push event stream on Start
	// Ephemeral keeps the ledger in memory so a short-lived session never
	// overwrites the activity a running watcher persists.
	Ephemeral bool
	Logger    *slog.Logger
}

// Deck is a wired session plus the resources it owns. Close releases them all.
type Deck struct {
	Session  *session.Session
	Client   *client.Client
	Slots    store.Store
	Notifier *capabilities.Registry
}

// NewClient returns a REST client for cfg: API key, bearer tokens minted from
// the JWT secret, and an instrumented transport.
func NewClient(cfg *config.Config) *client.Client {
	c := client.New(cfg.Server.URL, cfg.Server.APIKey)
	if cfg.Server.JWTSecret != "" {
		m := &auth.Minter{Secret: cfg.Server.JWTSecret, Subject: cfg.Server.JWTSubject}
		c.Token = m.Token
	}
	c.HTTPClient = &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return c
}

// OpenSlots opens the ledger's durable store for cfg.Ledger.
func OpenSlots(cfg *config.Config, home string) (store.Store, error) {
	switch cfg.Ledger.Backend {
	case store.BackendPostgres:
		dsn := cfg.Ledger.DSN
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, errors.New("ledger backend postgres needs ledger.dsn or DATABASE_URL")
		}
		return postgres.Open(dsn)
	default:
		return store.OpenWithOptions(store.OpenOptions{Backend: cfg.Ledger.Backend, Home: home, DSN: cfg.Ledger.DSN})
	}
}

// Notifier returns the notice forwarders configured in cfg; empty when none are.
func Notifier(cfg *config.Config) *capabilities.Registry {
	reg := capabilities.NewRegistry()
	if cfg.Slack.Webhook != "" {
		reg.Register(capabilities.SlackWebhook{WebhookURL: cfg.Slack.Webhook, Channel: cfg.Slack.Channel, Username: "agentdeck"})
	}
	if cfg.NoticeWebhook != "" {
		reg.Register(capabilities.Webhook{URL: cfg.NoticeWebhook})
	}
	return reg
}

// Build wires a session from cfg. Nothing is fetched until Session.Start. A
// ledger store that cannot be opened degrades to memory with a warning.
func Build(cfg *config.Config, home string, opts BuildOptions) (*Deck, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := NewClient(cfg)

	var slots store.Store
	if opts.Ephemeral {
		slots = store.NewMemory()
	} else {
		var err error
		if slots, err = OpenSlots(cfg, home); err != nil {
			log.Warn("ledger store unavailable, keeping activity in memory", "backend", cfg.Ledger.Backend, "err", err)
			slots = store.NewMemory()
		}
	}

	reg := Notifier(cfg)
	var fwd notice.Forwarder
	if len(reg.Names()) > 0 {
		fwd = reg
	}

	var stream session.Stream
	if opts.Stream {
		stream = transport.New(transport.Options{
			URL:    cfg.StreamURL(),
			APIKey: cfg.Server.APIKey,
			Token:  c.Token,
			Logger: log,
		})
	}

	s := session.New(session.Options{
		API:            c,
		Stream:         stream,
		Slot:           store.Slot{Store: slots, Key: models.DefaultLedgerSlot},
		LedgerCapacity: cfg.Ledger.Capacity,
		RequestTimeout: cfg.RequestTimeout,
		NoticeTTL:      cfg.NoticeTTL,
		Forwarder:      fwd,
		Logger:         log,
	})
	return &Deck{Session: s, Client: c, Slots: slots, Notifier: reg}, nil
}

// Close stops the session and closes the ledger store.
func (d *Deck) Close() error {
	err := d.Session.Close()
	if cerr := d.Slots.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close ledger store: %w", cerr))
	}
	return err
}
