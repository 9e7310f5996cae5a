package main

import (
	"fmt"
	"log/slog"
	"net/http"

	opsdeck "github.com/opsdeck/opsdeck-go"
	"github.com/opsdeck/opsdeck-go/audit"
	"github.com/opsdeck/opsdeck-go/config"
	"github.com/opsdeck/opsdeck-go/credstore"
	"github.com/opsdeck/opsdeck-go/fake"
	"github.com/opsdeck/opsdeck-go/metrics"
	"github.com/opsdeck/opsdeck-go/rest"
)

// App wires the configuration into a ready session client.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	client *opsdeck.Client
	demo   *fake.Backend
	audit  *audit.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger, demo bool) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	opts := []opsdeck.Option{
		opsdeck.WithLogger(logger),
		opsdeck.WithCredentialStore(store),
		opsdeck.WithRecorder(metrics.New(cfg.Observe.Metrics)),
		opsdeck.WithNavigator(func(route string) {
			logger.Debug("navigate", "route", route)
		}),
	}

	if cfg.Observe.Audit {
		app.audit = audit.New(0, audit.WithStdoutHandler())
		opts = append(opts, opsdeck.WithRecorder(audit.NewRecorder(app.audit)))
	}

	if demo {
		app.demo = fake.New(demoUsers()...)
		opts = append(opts, opsdeck.WithBackend(app.demo))
	} else {
		backend, err := rest.New(cfg.Server.URL,
			rest.WithLogger(logger),
			rest.WithHTTPClient(&http.Client{Timeout: cfg.Server.Timeout}),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opsdeck.WithBackend(backend))
	}

	client, err := opsdeck.NewClient(cfg.ClientConfig(), opts...)
	if err != nil {
		return nil, err
	}
	app.client = client
	return app, nil
}

// Close releases the client and drains the audit queue.
func (a *App) Close() error {
	err := a.client.Close()
	if a.audit != nil {
		if cerr := a.audit.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func buildStore(cfg *config.Config) (opsdeck.CredentialStore, error) {
	switch cfg.Store.Kind {
	case "memory":
		return credstore.NewMemory(), nil
	case "file":
		path := cfg.Store.Path
		if path == "" {
			p, err := config.DefaultCredentialPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return credstore.NewFile(path), nil
	case "redis":
		return credstore.NewRedis(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
	default:
		return nil, fmt.Errorf("unknown credential store kind %q", cfg.Store.Kind)
	}
}

// demoUsers seeds the in-process backend used by --demo. The MFA code for
// the superadmin account is printed by the login prompt when challenged.
func demoUsers() []fake.Option {
	return []fake.Option{
		fake.WithUser(fake.User{
			ID:       "u-1001",
			Username: "operator",
			Password: "operator",
			Role:     opsdeck.RoleUser,
		}),
		fake.WithUser(fake.User{
			ID:       "u-1002",
			Username: "tech",
			Password: "tech",
			Role:     opsdeck.RoleTech,
			Permissions: []opsdeck.Capability{
				opsdeck.CapIPAM,
				opsdeck.CapInventory,
				opsdeck.CapTopology,
			},
		}),
		fake.WithUser(fake.User{
			ID:       "u-1003",
			Username: "admin",
			Password: "admin",
			Role:     opsdeck.RoleAdmin,
		}),
		fake.WithUser(fake.User{
			ID:       "u-1000",
			Username: "root",
			Password: "root",
			Role:     opsdeck.RoleSuperadmin,
			MFACode:  "424242",
		}),
	}
}
