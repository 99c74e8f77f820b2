package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/netra-systems/ws-fabric/config"
	"github.com/netra-systems/ws-fabric/internal/adapter/pubsub"
	"github.com/netra-systems/ws-fabric/internal/domain/broadcaster"
	"github.com/netra-systems/ws-fabric/internal/domain/codec"
	"github.com/netra-systems/ws-fabric/internal/domain/heartbeat"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/ratelimit"
	"github.com/netra-systems/ws-fabric/internal/domain/reconnect"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/sender"
	"github.com/netra-systems/ws-fabric/internal/domain/shutdown"
	"github.com/netra-systems/ws-fabric/internal/domain/telemetry"
	"github.com/netra-systems/ws-fabric/internal/domain/validator"
	"github.com/netra-systems/ws-fabric/internal/handler/ws"
	"github.com/netra-systems/ws-fabric/internal/service"
)

const sweepInterval = 30 * time.Second

// ProvideLogger builds the process-wide structured logger from the
// configured level, text-handled to stderr the way the teacher's services
// log before any log-shipping sidecar reformats it.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func provideAuther(cfg *config.Config) *service.LocalJWTAuther {
	return service.NewLocalJWTAuther([]byte(cfg.JWTSecret))
}

// newNoopHandler is the default application/state-sync collaborator: a
// deployment that has not yet wired its own MessageHandler still boots,
// with inbound application traffic silently discarded.
func newNoopHandler() service.NoopMessageHandler { return service.NoopMessageHandler{} }

// NewApp assembles the fabric's fx graph: every domain package's Module
// plus the composition-root glue that binds the external collaborator
// interfaces (Auther, MessageHandler) to their default implementations
// and mounts the HTTP surface.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,

			func(c *config.Config) heartbeat.Config { return c.HeartbeatConfig() },
			func(c *config.Config) []registry.Option { return c.RegistryOptions() },
			func(c *config.Config) shutdown.Config { return c.ShutdownConfig() },
			func(c *config.Config) queue.Config { return c.QueueConfig() },
			func(c *config.Config) validator.Config { return c.ValidatorConfig() },
			func(c *config.Config) reconnect.Config { return c.ReconnectConfig() },
			func(c *config.Config) ratelimit.Config { return ratelimit.DefaultConfig() },

			fx.Annotate(provideAuther, fx.As(new(service.Auther))),
			fx.Annotate(service.NewBreakerAuther, fx.As(new(ws.Auther))),

			fx.Annotate(newNoopHandler, fx.As(new(ws.MessageHandler))),
			fx.Annotate(newNoopHandler, fx.As(new(ws.MessageHandler)), fx.ResultTags(`name:"stateSync"`)),

			func(t *telemetry.Telemetry) heartbeat.Telemetry { return t },
			func(t *telemetry.Telemetry) sender.Telemetry { return t },
			func(m *service.Manager) ws.PongHandler { return m },
		),

		registry.Module,
		ratelimit.Module,
		validator.Module,
		codec.Module,
		sender.Module,
		queue.Module,
		heartbeat.Module,
		broadcaster.Module,
		reconnect.Module,
		shutdown.Module,
		telemetry.Module,
		ws.Module,
		service.Module,
		pubSubModule(cfg),

		fx.Invoke(registerRelay, mountHTTP, runBackgroundLoops),
	)
}

// pubSubModule wires the cross-node relay only when the operator enabled
// it; an unconfigured AMQP broker should never block a single-node boot.
func pubSubModule(cfg *config.Config) fx.Option {
	if !cfg.PubSub.Enabled {
		return fx.Options()
	}
	return fx.Options(
		fx.Provide(func(c *config.Config) pubsub.Config { return c.PubSubConfig() }),
		pubsub.Module,
	)
}

// relayParams makes the cross-node relay optional: a single-node
// deployment (PubSub.Enabled == false) never registers a *pubsub.Relay
// provider at all, and registerRelay must not fail resolving it.
type relayParams struct {
	fx.In

	Relay *pubsub.Relay `optional:"true"`
}

// registerRelay attaches the optional cross-node relay to the broadcaster.
// p.Relay is nil whenever pubSubModule was not included, in which case
// WithRelay is simply never called and every broadcast stays local.
func registerRelay(lc fx.Lifecycle, bcast *broadcaster.Broadcaster, p relayParams) {
	if p.Relay == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			bcast.WithRelay(p.Relay)
			return nil
		},
	})
}

func mountHTTP(lc fx.Lifecycle, cfg *config.Config, server *ws.Server, tel *telemetry.Telemetry, log *slog.Logger) {
	r := chi.NewRouter()
	r.Get("/ws", server.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(tel.Registry(), promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", "error", err)
				}
			}()
			log.Info("ws fabric listening", "addr", cfg.ListenAddr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}

// runBackgroundLoops starts the heartbeat supervisor's ping loop and the
// manager's ghost/reconnect sweepers for the lifetime of the app.
func runBackgroundLoops(lc fx.Lifecycle, hb *heartbeat.Supervisor, mgr *service.Manager, log *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hb.Run(ctx)
			go mgr.RunSweepers(ctx, sweepInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
