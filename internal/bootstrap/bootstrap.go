// Package bootstrap assembles a Relay and its backends from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/artifact/minio"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/model"
	anthropicmodel "github.com/hupe1980/agentrelay/model/anthropic"
	"github.com/hupe1980/agentrelay/model/openai"
	"github.com/hupe1980/agentrelay/server"
	"github.com/hupe1980/agentrelay/store/etcdstore"
	"github.com/hupe1980/agentrelay/store/mongostore"
	"github.com/hupe1980/agentrelay/store/redisstore"
	"github.com/hupe1980/agentrelay/store/sqlstore"
)

// App is a configured Relay plus the resources it owns.
type App struct {
	Relay  *agentrelay.Relay
	Checks map[string]server.HealthCheck

	closers []io.Closer
}

// Close releases every backend connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) own(name string, c io.Closer) {
	a.closers = append(a.closers, c)
	if p, ok := c.(pinger); ok {
		a.Checks[name] = p.Ping
	}
}

// Build connects the configured backends and registers the agents. On error
// everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger logging.Logger) (_ *App, err error) {
	logger = logging.OrNop(logger)
	app := &App{Checks: make(map[string]server.HealthCheck)}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	var relayOpts []func(o *agentrelay.Options)
	add := func(fn func(o *agentrelay.Options)) { relayOpts = append(relayOpts, fn) }

	add(func(o *agentrelay.Options) {
		o.MaxErrors = cfg.Orchestrator.MaxErrors
		o.TextDelay = cfg.Orchestrator.TextDelay
		o.Metrics = m
		o.Logger = logger
	})

	switch cfg.Database.Driver {
	case "sqlite", "postgres":
		dialect, derr := sqlstore.DialectFor(cfg.Database.Driver)
		if derr != nil {
			return nil, derr
		}
		st, oerr := sqlstore.Open(ctx, dialect, cfg.Database.DSN)
		if oerr != nil {
			return nil, oerr
		}
		app.own("database", st)
		if err := st.AutoMigrate(ctx); err != nil {
			return nil, err
		}
		add(withStores(st, st, st))
	case "mongo":
		st, oerr := mongostore.NewStore(cfg.Database.DSN, cfg.Database.Name, func(o *mongostore.Options) {
			o.Logger = logger
		})
		if oerr != nil {
			return nil, oerr
		}
		app.own("database", st)
		add(withStores(st, st, st))
	}

	if cfg.Redis.URL != "" {
		rs, rerr := redisstore.NewStoreFromURL(cfg.Redis.URL, func(o *redisstore.Options) {
			o.Logger = logger
		})
		if rerr != nil {
			return nil, rerr
		}
		app.own("redis", rs)
		add(func(o *agentrelay.Options) {
			o.Conversations = rs
			if cfg.Redis.PublishOperations {
				o.Publisher = rs
			}
		})
	}

	// etcd wins over Redis for the active-agent pointer.
	if len(cfg.Etcd.Endpoints) > 0 {
		es, eerr := etcdstore.NewStore(etcdstore.Config{
			Endpoints: cfg.Etcd.Endpoints,
			Prefix:    cfg.Etcd.Prefix,
			Logger:    logger,
		})
		if eerr != nil {
			return nil, eerr
		}
		app.own("etcd", es)
		add(func(o *agentrelay.Options) { o.Conversations = es })
	}

	if cfg.Minio.Endpoint != "" {
		ms, merr := minio.New(func(o *minio.Options) {
			o.Endpoint = cfg.Minio.Endpoint
			o.AccessKey = cfg.Minio.AccessKey
			o.SecretKey = cfg.Minio.SecretKey
			o.UseSSL = cfg.Minio.UseSSL
			o.Bucket = cfg.Minio.Bucket
			o.Logger = logger
		})
		if merr != nil {
			return nil, merr
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		add(func(o *agentrelay.Options) { o.Artifacts = ms })
	}

	app.Relay = agentrelay.New(relayOpts...)

	for _, ac := range cfg.Agents {
		if ac.Endpoint != "" {
			app.Relay.RegisterRemoteAgent(core.AgentConfig{
				ID:            ac.ID,
				Endpoint:      ac.Endpoint,
				StatusUpdates: ac.StatusUpdates,
			})
			continue
		}
		mdl, merr := NewModel(ac)
		if merr != nil {
			return nil, merr
		}
		app.Relay.RegisterAgent(a2a.Agent{
			ID:           ac.ID,
			Model:        mdl,
			Instructions: ac.Instructions,
			Peers:        ac.Peers,
		}, ac.StatusUpdates)
	}
	logger.Info("Relay assembled", "agents", len(cfg.Agents), "database", cfg.Database.Driver)
	return app, nil
}

func withStores(t core.TaskStore, m core.MessageStore, c core.ConversationStore) func(o *agentrelay.Options) {
	return func(o *agentrelay.Options) {
		o.Tasks = t
		o.Messages = m
		o.Conversations = c
	}
}

// NewModel creates the model behind an in-process agent. API keys come from
// the provider SDK's environment variables.
func NewModel(ac config.AgentConfig) (model.Model, error) {
	switch ac.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if ac.Model != "" {
				o.Model = ac.Model
			}
		}), nil
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if ac.Model != "" {
				o.Model = anthropic.Model(ac.Model)
			}
		}), nil
	case "mock":
		return model.NewMockModel(ac.ID, "mock"), nil
	default:
		return nil, fmt.Errorf("agent %s: unsupported provider %q", ac.ID, ac.Provider)
	}
}
