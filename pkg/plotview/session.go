// Package plotview is the caller-facing entry point: stack plots, turn the
// stack into a browser page, and wait for the pages to be viewed.
//
//	s, _ := plotview.NewSession()
//	id, err := s.Plot(ctx, plot.Static{{"x": []int{1, 2}, "y": []int{3, 4}}}, nil)
//	_ = s.Wait(ctx)
package plotview

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/plotview/pkg/config"
	"github.com/go-go-golems/plotview/pkg/pages"
	"github.com/go-go-golems/plotview/pkg/plot"
	"github.com/go-go-golems/plotview/pkg/plotserver"
)

// Session owns one plot buffer, the page registry and the server showing it.
type Session struct {
	mu       sync.Mutex
	buffer   *plot.Buffer
	registry *pages.Registry
	server   *plotserver.Server
	log      zerolog.Logger

	serverOpts []plotserver.Option
}

type Option func(*Session) error

func WithServerOptions(opts ...plotserver.Option) Option {
	return func(s *Session) error {
		s.serverOpts = append(s.serverOpts, opts...)
		return nil
	}
}

// WithSettings configures the server from decoded server settings. Options
// given after it still apply on top.
func WithSettings(settings *config.ServerSettings) Option {
	return func(s *Session) error {
		if settings == nil {
			return errors.New("settings are nil")
		}
		opts, err := settings.ServerOptions()
		if err != nil {
			return err
		}
		s.serverOpts = append(s.serverOpts, opts...)
		return nil
	}
}

func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		buffer:   plot.NewBuffer(),
		registry: pages.NewRegistry(),
		log:      log.With().Str("component", "plotview").Logger(),
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	srv, err := plotserver.New(s.serverOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create plot server")
	}
	s.server = srv
	return s, nil
}

// Stack buffers a payload without rendering it.
func (s *Session) Stack(payload plot.Payload, layout plot.Layout) error {
	return s.buffer.Stack(payload, layout)
}

// Plot stacks payload when it is not nil, turns the whole buffer into a new
// page and shows it. The returned id is valid even when spawning the server
// failed; the page is then shown by the next successful Plot.
func (s *Session) Plot(ctx context.Context, payload plot.Payload, layout plot.Layout) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload != nil {
		if err := s.buffer.Stack(payload, layout); err != nil {
			return -1, err
		}
	}
	entries := s.buffer.Flush()
	id := s.registry.Finalize(entries)
	s.log.Debug().Int("page_id", id).Int("entries", len(entries)).Msg("page finalized")

	if err := s.server.Spawn(ctx, s.registry); err != nil {
		return id, errors.Wrapf(err, "spawn server for page %d", id)
	}
	return id, nil
}

// Clear discards everything stacked since the last Plot.
func (s *Session) Clear() {
	s.buffer.Clear()
}

// Wait blocks until the server has shut down after every page was viewed, or
// until ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.server.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the server down regardless of unviewed pages.
func (s *Session) Close(ctx context.Context) error {
	return s.server.Teardown(ctx)
}

func (s *Session) Server() *plotserver.Server { return s.server }
