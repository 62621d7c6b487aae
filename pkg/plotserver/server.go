// Package plotserver runs the transient HTTP + WebSocket server that shows
// plot pages in the browser.
//
// The listener is bound lazily on the first Spawn and torn down once every
// registered page has been fetched and none is pending. A later Spawn binds it
// again.
package plotserver

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-go-golems/plotview/pkg/pages"
)

const (
	DefaultPort            = 8080
	DefaultHost            = "localhost"
	DefaultLiveAttachGrace = 2 * time.Second
	DefaultShutdownTimeout = 2 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	tracerName             = "github.com/go-go-golems/plotview/pkg/plotserver"
)

// Server owns the single listener of the process and its connections.
type Server struct {
	host            string
	port            int
	assets          fs.FS
	opener          Opener
	upgrader        websocket.Upgrader
	metricsEnabled  bool
	promRegistry    *prometheus.Registry
	metrics         *metrics
	tracer          trace.Tracer
	holdForLive     bool
	liveAttachGrace time.Duration
	shutdownTimeout time.Duration
	log             zerolog.Logger

	relay   *Relay
	handler http.Handler

	mu         sync.Mutex
	reg        *pages.Registry
	ep         *epoch
	lastClosed chan struct{}
	graceUntil time.Time
	graceTimer *time.Timer
}

// epoch is one listen/teardown cycle.
type epoch struct {
	srv    *http.Server
	addr   net.Addr
	port   int
	closed chan struct{}
}

type Option func(*Server) error

func WithHost(host string) Option {
	return func(s *Server) error {
		s.host = host
		return nil
	}
}

// WithPort sets the port bound for the lifetime of the server. Port 0 picks a
// free port on every bind.
func WithPort(port int) Option {
	return func(s *Server) error {
		if port < 0 || port > 65535 {
			return errors.Errorf("invalid port %d", port)
		}
		s.port = port
		return nil
	}
}

func WithAssets(assets fs.FS) Option {
	return func(s *Server) error {
		if assets == nil {
			return errors.New("assets fs is nil")
		}
		s.assets = assets
		return nil
	}
}

func WithOpener(o Opener) Option {
	return func(s *Server) error {
		if o == nil {
			return errors.New("opener is nil")
		}
		s.opener = o
		return nil
	}
}

func WithUpgrader(u websocket.Upgrader) Option {
	return func(s *Server) error {
		s.upgrader = u
		return nil
	}
}

// WithMetrics exposes Prometheus metrics at /metrics.
func WithMetrics(enabled bool) Option {
	return func(s *Server) error {
		s.metricsEnabled = enabled
		return nil
	}
}

// WithHoldForLiveChannels keeps the server up while live channels are
// attached, even when every page has been fetched. It is on by default, so a
// server showing live pages does not stop on the last data fetch alone: it
// also waits for LiveAttachGrace and for every attached channel to go away.
// Pass false for plain quiescence, where the last fetch tears the server
// down and closes live channels with it.
func WithHoldForLiveChannels(hold bool) Option {
	return func(s *Server) error {
		s.holdForLive = hold
		return nil
	}
}

// WithLiveAttachGrace is how long teardown waits after a live page was
// fetched for its channel to attach.
func WithLiveAttachGrace(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return errors.New("live attach grace must not be negative")
		}
		s.liveAttachGrace = d
		return nil
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return errors.New("shutdown timeout must be positive")
		}
		s.shutdownTimeout = d
		return nil
	}
}

func New(opts ...Option) (*Server, error) {
	s := &Server{
		host:            DefaultHost,
		port:            DefaultPort,
		assets:          DefaultAssets(),
		opener:          BrowserOpener{},
		upgrader:        websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		promRegistry:    prometheus.NewRegistry(),
		tracer:          otel.Tracer(tracerName),
		holdForLive:     true,
		liveAttachGrace: DefaultLiveAttachGrace,
		shutdownTimeout: DefaultShutdownTimeout,
		log:             log.With().Str("component", "plotserver").Logger(),
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	s.metrics = newMetrics(s.promRegistry)
	pool := NewChannelPool(defaultWriteTimeout, func() {
		go s.maybeTeardown("last live channel detached")
	})
	s.relay = newRelay(s.upgrader, pool, s.metrics, s.tracer)
	s.handler = s.routes()
	return s, nil
}

// Handler serves every route of the server. Websocket upgrade requests on any
// path go to the relay.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Relay() *Relay { return s.relay }

// Gatherer exposes the server's metrics registry.
func (s *Server) Gatherer() prometheus.Gatherer { return s.promRegistry }

// Listening reports whether a listener is currently bound.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep != nil
}

// Port returns the bound port, or the configured one when idle.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep != nil {
		return s.ep.port
	}
	return s.port
}

// Addr returns the bound address or nil when idle.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep == nil {
		return nil
	}
	return s.ep.addr
}

// Done is closed once the current listener has been fully shut down. When the
// server is idle the returned channel is already closed.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep != nil {
		return s.ep.closed
	}
	if s.lastClosed != nil {
		return s.lastClosed
	}
	c := make(chan struct{})
	close(c)
	return c
}

// PageURL is the address a browser is sent to for page id.
func (s *Server) PageURL(id int) string {
	return s.pageURL(s.Port(), id)
}

func (s *Server) pageURL(port, id int) string {
	host := s.host
	switch host {
	case "", "0.0.0.0", "::":
		host = DefaultHost
	}
	return fmt.Sprintf("http://%s/plots/%d/index.html", net.JoinHostPort(host, strconv.Itoa(port)), id)
}

// Spawn adopts reg as the server's view of the pages, binds the listener if
// needed and asks the opener to show every page that is neither opened nor
// pending yet. Spawning again without new pages opens nothing.
func (s *Server) Spawn(ctx context.Context, reg *pages.Registry) error {
	if reg == nil {
		return errors.New("registry is nil")
	}
	ctx, span := s.tracer.Start(ctx, "plotserver.Spawn")
	defer span.End()
	s.metrics.spawns.Inc()

	for {
		if err := s.awaitPrevious(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		s.mu.Lock()
		if s.ep != nil || isClosed(s.lastClosed) {
			break
		}
		// torn down again while we waited
		s.mu.Unlock()
	}
	s.reg = reg
	if s.ep == nil {
		ep, err := s.listenLocked()
		if err != nil {
			s.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		s.ep = ep
	}
	s.relay.Configure(reg.Snapshot())
	ids := reg.MarkPending()
	port := s.ep.port
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("server.port", port), attribute.Int("pages.opening", len(ids)))
	for _, id := range ids {
		url := s.pageURL(port, id)
		if err := s.opener.Open(url); err != nil {
			s.metrics.browserOpens.WithLabelValues("error").Inc()
			s.log.Warn().Err(err).Int("page_id", id).Str("url", url).Msg("failed to open browser, please open manually")
			continue
		}
		s.metrics.browserOpens.WithLabelValues("ok").Inc()
		s.log.Info().Int("page_id", id).Str("url", url).Msg("opened plot page")
	}
	return nil
}

// awaitPrevious waits until the last torn down listener has released its port.
func (s *Server) awaitPrevious(ctx context.Context) error {
	s.mu.Lock()
	prev := s.lastClosed
	if s.ep != nil {
		prev = nil
	}
	s.mu.Unlock()
	if prev == nil {
		return nil
	}
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for previous listener to shut down")
	}
}

func isClosed(c chan struct{}) bool {
	if c == nil {
		return true
	}
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func (s *Server) listenLocked() (*epoch, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ListenError{Addr: addr, Err: err}
	}
	port := s.port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	ep := &epoch{
		srv:    &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second},
		addr:   ln.Addr(),
		port:   port,
		closed: make(chan struct{}),
	}
	go func() {
		if err := ep.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server listen error")
		}
	}()
	s.metrics.epochs.Inc()
	s.log.Info().Str("addr", ep.addr.String()).Msg("plot server listening")
	return ep, nil
}

// maybeTeardown shuts the listener down when the current registry is
// quiescent. Only pages registered since the listener was bound count, so an
// empty registry never tears anything down.
func (s *Server) maybeTeardown(reason string) {
	s.mu.Lock()
	ep := s.ep
	if ep == nil || s.reg == nil || !s.reg.IsQuiescent() {
		s.mu.Unlock()
		return
	}
	if s.holdForLive {
		if n := s.relay.ActiveCount(); n > 0 {
			s.mu.Unlock()
			s.log.Debug().Int("channels", n).Msg("teardown held by live channels")
			return
		}
		if time.Now().Before(s.graceUntil) {
			s.mu.Unlock()
			s.log.Debug().Msg("teardown held for live channel attach")
			return
		}
	}
	if !s.reg.ResetIfQuiescent() {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.mu.Unlock()

	s.log.Info().Str("reason", reason).Msg("all plots opened, shutting down")
	go s.shutdown(context.Background(), ep)
}

// startGrace delays teardown so a live page has time to attach its channel.
func (s *Server) startGrace() {
	if !s.holdForLive || s.liveAttachGrace <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graceUntil = time.Now().Add(s.liveAttachGrace)
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.graceTimer = time.AfterFunc(s.liveAttachGrace, func() {
		s.maybeTeardown("live attach grace elapsed")
	})
}

func (s *Server) detachLocked() {
	s.lastClosed = s.ep.closed
	s.ep = nil
	s.graceUntil = time.Time{}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.metrics.teardowns.Inc()
}

func (s *Server) shutdown(ctx context.Context, ep *epoch) {
	defer close(ep.closed)
	s.relay.CloseAll()

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := ep.srv.Shutdown(ctx); err != nil {
		s.log.Debug().Err(err).Msg("graceful shutdown incomplete, closing connections")
	}
	if err := ep.srv.Close(); err != nil {
		s.log.Error().Err(err).Msg("server close error")
	}
	s.log.Info().Str("addr", ep.addr.String()).Msg("plot server stopped")
}

// Teardown closes the listener and every connection right away and clears the
// registry. It is a no-op when nothing is listening. It must not be called
// from inside one of the server's own handlers.
func (s *Server) Teardown(ctx context.Context) error {
	s.mu.Lock()
	ep := s.ep
	if ep == nil {
		s.mu.Unlock()
		return nil
	}
	if s.reg != nil {
		s.reg.Reset()
	}
	s.detachLocked()
	s.mu.Unlock()

	s.shutdown(ctx, ep)
	return nil
}

func (s *Server) registry() *pages.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}
