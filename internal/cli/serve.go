package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/listbridge/internal/batch"
	"github.com/roach88/listbridge/internal/bridge"
	"github.com/roach88/listbridge/internal/config"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/metrics"
	"github.com/roach88/listbridge/internal/overlay"
	"github.com/roach88/listbridge/internal/store"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/transport/ws"
	"github.com/roach88/listbridge/internal/wire"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command. Set flags override the
// configuration file.
type ServeOptions struct {
	*RootOptions
	Listen     string
	Database   string
	FlushDelay time.Duration
	LogLevel   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve list views over a websocket",
		Long: `Open the record store and accept client connections. Each connection
gets its own bridge: a loop, a batch manager and the standard list
feeds. Prometheus metrics are served alongside.

Examples:
  listbridge serve
  listbridge serve -c listbridge.yaml
  listbridge serve --listen :7878 --db mail.db --flush-delay 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().DurationVar(&opts.FlushDelay, "flush-delay", 0, "normal flush delay (overrides config)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "debug|info|warn|error (overrides config)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	if err := applyServeFlags(cmd, opts, cfg); err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid flag", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)

	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open store", err)
	}
	defer st.Close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to listen", err)
	}

	srv := NewServer(cfg, st, metrics.New(), logger)
	logger.Info("listening",
		"addr", ln.Addr().String(),
		"ws", cfg.WSPath,
		"metrics", cfg.MetricsPath,
		"database", cfg.Database,
		"flush_delay", cfg.FlushDelay,
	)
	if err := srv.Serve(ctx, ln); err != nil {
		return WrapExitError(ExitFailure, "server failed", err)
	}
	logger.Info("server stopped")
	return nil
}

// applyServeFlags copies the flags the user set onto cfg.
func applyServeFlags(cmd *cobra.Command, opts *ServeOptions, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = opts.Listen
	}
	if flags.Changed("db") {
		if opts.Database == "" {
			return errors.New("--db must not be empty")
		}
		cfg.Database = opts.Database
	}
	if flags.Changed("flush-delay") {
		if opts.FlushDelay <= 0 {
			return fmt.Errorf("--flush-delay must be positive, got %s", opts.FlushDelay)
		}
		cfg.FlushDelay = opts.FlushDelay
		cfg.RawFlushDelay = opts.FlushDelay.String()
	}
	if flags.Changed("log-level") {
		switch opts.LogLevel {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = opts.LogLevel
		default:
			return fmt.Errorf("--log-level %q: must be debug, info, warn or error", opts.LogLevel)
		}
	}
	return nil
}

// Server serves list views from one store. Every connection runs its own
// loop, bridge and feeds; the store and metrics are shared.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	ws      *ws.Server
}

// NewServer creates a server over st.
func NewServer(cfg *config.Config, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		metrics: m,
		logger:  logger,
	}
	s.ws = ws.NewServer(s.openSession, logger)
	return s
}

// Handler routes the websocket and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WSPath, s.ws)
	mux.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	return mux
}

// Serve accepts connections on ln until ctx is cancelled, then closes
// every session and waits for them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	hs.RegisterOnShutdown(s.ws.CloseAll)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.ws.Wait()
	return err
}

// openSession builds the bridge for one connection.
func (s *Server) openSession(send func(wire.Message)) (ws.Session, error) {
	logger := s.logger.With("session", uuid.NewString())
	l := loop.New(loop.WithLogger(logger))

	tocs := toc.NewRegistry()
	providers := bridge.RegisterFeeds(tocs, l, s.store, bridge.FeedConfig{
		Locale:  s.cfg.Language(),
		Raw:     s.cfg.RawNamespaces,
		Refresh: s.resync(l, logger),
		Logger:  logger,
	})

	overlays := overlay.NewManager(logger)
	status := overlay.NewStatusBoard(overlays, bridge.NamespaceFolders, bridge.SyncStatusOverlay)
	mgr := batch.New(l, batch.Options{
		FlushDelay: s.cfg.FlushDelay,
		CacheDrops: s.store,
		Metrics:    s.metrics,
		Logger:     logger,
	})
	b := bridge.New(bridge.Services{
		Loop:     l,
		Batch:    mgr,
		Overlays: overlays,
		TOCs:     tocs,
		Syncer:   bridge.NewLoggingSyncer(l, status, logger),
		Metrics:  s.metrics,
		Logger:   logger,
	}, send)

	return ws.NewLoopSession(l, b, func() {
		b.Shutdown()
		mgr.Close()
		for _, p := range providers {
			p.Close()
		}
	}), nil
}

// resync returns the list refresh callback for a session: the list is
// re-read from the store on a later loop turn.
func (s *Server) resync(l *loop.Loop, logger *slog.Logger) func(namespace, name, why string) *loop.Future {
	return func(namespace, name, why string) *loop.Future {
		p := loop.NewPromise()
		l.Post(func() {
			logger.Debug("resync", "namespace", namespace, "name", name, "why", why)
			if err := s.store.Resync(context.Background(), namespace, name); err != nil {
				_ = p.Reject(err)
				return
			}
			_ = p.Resolve(nil)
		})
		return p.Future()
	}
}
