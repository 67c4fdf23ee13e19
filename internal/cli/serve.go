package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/jsonsync/internal/config"
	"github.com/roach88/jsonsync/internal/journal"
	"github.com/roach88/jsonsync/internal/logging"
	"github.com/roach88/jsonsync/internal/metrics"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/transport"
	"github.com/roach88/jsonsync/internal/transport/kafkanet"
	"github.com/roach88/jsonsync/internal/transport/redisnet"
	"github.com/roach88/jsonsync/internal/transport/wsnet"
	"github.com/roach88/jsonsync/internal/value"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a replica over HTTP and websockets",
		Long: `Serve one replica of a document.

Peers connect at /ws. Content is read at GET /doc?path=<pointer> and
edited with POST /patch. Redis pub/sub or a Kafka topic can carry diffs
alongside websockets, and mDNS finds peers on the local network.

Settings come from jsonsync.yaml (./config or the working directory, or
--config), then JSONSYNC_* environment variables, then flags.

Exit codes:
  0 - Stopped cleanly
  1 - Server error
  2 - Command error (bad config, unreadable initial file, etc.)

Examples:
  jsonsync serve --listen :7420 --initial doc.json
  jsonsync serve --peer ws://10.0.0.2:7420/ws --journal ./jsonsync.db
  jsonsync serve --mdns --redis localhost:6379`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "", "config file (default ./config/jsonsync.yaml or ./jsonsync.yaml)")
	f.String("listen", ":7420", "HTTP listen address")
	f.String("machine", "", "fixed replica id as dot-separated integers")
	f.String("name", "", "replica name for logs and the journal")
	f.String("initial", "", "JSON file with the starting content")
	f.StringSlice("peer", nil, "websocket URL of a peer to keep connected (repeatable)")
	f.Bool("mdns", false, "advertise and browse peers over mDNS")
	f.String("redis", "", "redis address for pub/sub broadcast")
	f.String("redis-channel", "jsonsync", "redis channel")
	f.StringSlice("kafka", nil, "kafka brokers for topic broadcast")
	f.String("kafka-topic", "jsonsync", "kafka topic")
	f.String("journal", "", "SQLite journal path")
	f.String("log-level", "info", "log level (debug|info|warn|error)")
	f.Bool("pretty", false, "human-readable console logs")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath, cmd.Flags())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log level", err)
	}
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	logger := serveLogger(cmd.ErrOrStderr(), level, cfg.Log.Pretty)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start replica", err)
	}
	defer srv.close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Replica %s serving on %s\n", srv.replica.Name(), ln.Addr())

	if err := srv.run(ctx, ln); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info().Msg("server stopped gracefully")
	return nil
}

func serveLogger(w io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		w = logging.Console(w)
	}
	return logging.New(w, level)
}

// server is one replica with everything attached to it.
type server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	ws      *wsnet.Network
	closers []io.Closer
	store   *journal.Store
	metrics *metrics.Metrics
	replica *replica.Replica
	router  http.Handler
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *server, err error) {
	s := &server{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	initial, err := loadInitial(cfg.Initial)
	if err != nil {
		return nil, err
	}
	machine, err := cfg.MachineID()
	if err != nil {
		return nil, err
	}

	s.ws = wsnet.New(wsnet.WithLogger(logging.Component(logger, "wsnet")))
	s.closers = append(s.closers, s.ws)
	nets := []transport.Network{s.ws}

	if cfg.Redis.Addr != "" {
		rn, err := redisnet.Dial(ctx, redisnet.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			Channel:  cfg.Redis.Channel,
		}, logging.Component(logger, "redisnet"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rn)
		nets = append(nets, rn)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kn, err := kafkanet.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic, logging.Component(logger, "kafkanet"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, kn)
		nets = append(nets, kn)
	}

	ropts := []replica.Option{
		replica.WithLogger(logging.Component(logger, "replica")),
		replica.WithRecorder(s.metrics),
		replica.WithValue(initial),
	}
	if len(machine) > 0 {
		ropts = append(ropts, replica.WithMachine(machine...))
	}
	if cfg.Name != "" {
		ropts = append(ropts, replica.WithName(cfg.Name))
	}
	if cfg.Journal.Path != "" {
		s.store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		ropts = append(ropts, replica.WithJournal(s.store))
	}

	s.replica, err = replica.New(transport.Combine(nets...), ropts...)
	if err != nil {
		return nil, err
	}
	s.replica.Subscribe(func(ev replica.Event) {
		logger.Debug().Str("kind", ev.Kind.String()).Int("changes", len(ev.Changes)).Msg("document changed")
	})

	s.router = NewRouter(s.replica, RouterConfig{
		WebSocket: s.ws.Handler(),
		Metrics:   s.metrics.Handler(),
		Logger:    logging.Component(logger, "http"),
	})
	return s, nil
}

// loadInitial reads the starting content. No file means null.
func loadInitial(path string) (value.Value, error) {
	if path == "" {
		return value.Null{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read initial content: %w", err)
	}
	v, err := value.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse initial content %s: %w", path, err)
	}
	return v, nil
}

// run serves HTTP on ln, keeps configured peers connected and runs mDNS
// until ctx ends.
func (s *server) run(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	for _, url := range s.cfg.Peers {
		go s.ws.Maintain(ctx, url)
	}
	if s.cfg.MDNS.Enabled {
		port := ln.Addr().(*net.TCPAddr).Port
		shutdown, err := s.ws.Advertise(s.cfg.MDNS.Instance, s.cfg.MDNS.Service, port)
		if err != nil {
			return err
		}
		defer shutdown()
		go func() {
			if err := s.ws.Browse(ctx, s.cfg.MDNS.Service); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("mDNS browse stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close transport")
		}
	}
	s.closers = nil
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close journal")
		}
		s.store = nil
	}
}
