package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/client/chrome"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/events"
	"github.com/Iron-Ham/wamux/internal/health"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/qr"
	"github.com/Iron-Ham/wamux/internal/server"
	"github.com/Iron-Ham/wamux/internal/sessions"
	"github.com/Iron-Ham/wamux/internal/store"
	"github.com/Iron-Ham/wamux/internal/webhook"
	"github.com/Iron-Ham/wamux/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session service",
	Long: `Run the session service in the foreground.

On startup every session directory under the sessions root is restored.
The process then serves /healthz, /metrics, /qr/{sessionId} and, when
enabled, /ws/{sessionId} until it receives SIGINT or SIGTERM. Shutdown
closes every browser but keeps the session directories, so credentials
survive a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if f := cmd.Flags().Lookup("addr"); f.Changed {
		viper.Set("server.addr", f.Value.String())
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	factory, err := chrome.NewFactory(cfg.Client, logger)
	if err != nil {
		return err
	}

	svc, err := newService(cfg, factory, logger)
	if err != nil {
		return err
	}
	if viper.ConfigFileUsed() != "" {
		svc.policy.Watch(viper.GetViper())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.run(ctx)
}

// service is the wired process.
type service struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *store.Store
	policy  *config.CallbackPolicy
	gate    *events.Gate
	manager *sessions.Manager
	monitor *health.Monitor
	server  *server.Server
}

// newService wires every component from cfg. Nothing is started.
func newService(cfg *config.Config, factory client.Factory, logger *logging.Logger) (*service, error) {
	st, err := store.New(cfg.Sessions.Path, logger)
	if err != nil {
		return nil, err
	}
	policy := config.NewCallbackPolicy(cfg.Events.DisabledCategories(), logger.WithComponent("policy"))

	var targets []events.Target
	if cfg.Webhook.Enabled {
		targets = append(targets, events.Target{
			Name:       "webhook",
			Dispatcher: webhook.New(cfg.Webhook, logger),
		})
	}
	var hub *ws.Hub
	if cfg.WebSocket.Enabled {
		hub = ws.NewHub(ws.Options{
			SendBuffer:   cfg.WebSocket.SendBuffer,
			WriteTimeout: cfg.WebSocket.WriteTimeout(),
			Logger:       logger,
		})
		targets = append(targets, events.Target{Name: "websocket", Dispatcher: hub})
	}

	gate := events.New(events.Options{
		Oracle:             policy,
		Targets:            targets,
		QR:                 qr.New(cfg.Client.QRExpiry(), logger),
		MarkSeen:           cfg.Events.MarkSeen,
		MaxAttachmentBytes: cfg.Events.MaxAttachmentBytes(),
		Logger:             logger,
	})

	opts := sessions.Options{
		Config: cfg.Sessions,
		Store:  st,
		Adapter: client.NewAdapter(factory, client.AdapterOptions{
			StartupTimeout: cfg.Client.StartupTimeout(),
			Logger:         logger,
		}),
		Gate:   gate,
		Logger: logger,
	}
	if hub != nil {
		opts.Channels = hub
	}
	manager := sessions.New(opts)

	svc := &service{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		policy:  policy,
		gate:    gate,
		manager: manager,
		server: server.New(server.Options{
			Config:   cfg.Server,
			Sessions: manager,
			Hub:      hub,
			Logger:   logger,
		}),
	}
	if cfg.Health.Enabled {
		svc.monitor = health.New(health.Options{
			Config:    cfg.Health,
			Store:     st,
			Validator: manager,
			Notifier:  gate,
			Oracle:    policy,
			Logger:    logger,
		})
	}
	return svc, nil
}

// run holds the root lock, restores the sessions on disk and serves until
// ctx ends or a component fails. Sessions are shut down either way.
func (s *service) run(ctx context.Context) error {
	lock, err := s.store.AcquireRootLock()
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("failed to release root lock", "error", err)
		}
	}()

	if _, err := s.manager.Restore(ctx); err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(s.server.Run)
	if s.monitor != nil {
		p.Go(s.monitor.Run)
	}
	runErr := p.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("session shutdown incomplete", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
