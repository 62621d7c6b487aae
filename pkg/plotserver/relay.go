package plotserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/plotview/pkg/pages"
	"github.com/go-go-golems/plotview/pkg/plot"
)

const (
	messageInit  = "init"
	messageClose = "close"
)

// clientMessage is the handshake sent by the page script. The id arrives as a
// number or as a numeric string depending on where the page read it from.
type clientMessage struct {
	Type string  `json:"type"`
	ID   *pageID `json:"id"`
}

type pageID int

func (p *pageID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.Wrapf(err, "page id %s", string(b))
	}
	*p = pageID(n)
	return nil
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return clientMessage{}, &ParseError{Raw: string(data), Err: err}
	}
	if msg.Type == "" {
		return clientMessage{}, &ParseError{Raw: string(data), Err: errors.New("missing type")}
	}
	if (msg.Type == messageInit || msg.Type == messageClose) && msg.ID == nil {
		return clientMessage{}, &ParseError{Raw: string(data), Err: errors.Errorf("%s without id", msg.Type)}
	}
	return msg, nil
}

// Relay forwards live plot emissions to browser channels. It only knows about
// pages whose payload contains at least one live entry.
type Relay struct {
	upgrader websocket.Upgrader
	pool     *ChannelPool
	metrics  *metrics
	tracer   trace.Tracer
	log      zerolog.Logger

	mu    sync.RWMutex
	pages map[int][]plot.Entry
}

func newRelay(upgrader websocket.Upgrader, pool *ChannelPool, m *metrics, tracer trace.Tracer) *Relay {
	return &Relay{
		upgrader: upgrader,
		pool:     pool,
		metrics:  m,
		tracer:   tracer,
		log:      log.With().Str("component", "relay").Logger(),
		pages:    map[int][]plot.Entry{},
	}
}

// Configure rebuilds the page id -> live entries view from a registry snapshot.
func (r *Relay) Configure(snapshot []pages.Page) {
	next := map[int][]plot.Entry{}
	for _, p := range snapshot {
		if p.HasLive() {
			next[p.ID] = p.Entries
		}
	}
	r.mu.Lock()
	r.pages = next
	r.mu.Unlock()
	r.log.Debug().Int("live_pages", len(next)).Msg("relay configured")
}

func (r *Relay) lookup(id int) ([]plot.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries, ok := r.pages[id]
	return entries, ok
}

// ActiveCount is the number of channels currently attached to a live page.
func (r *Relay) ActiveCount() int {
	return r.pool.Attached()
}

// CloseAll terminates every open channel.
func (r *Relay) CloseAll() {
	r.pool.CloseAll()
	r.metrics.channels.Set(0)
}

// ServeHTTP upgrades the request and runs the channel until the client goes
// away or asks to close it.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ch := &channel{
		relay: r,
		conn:  conn,
		log: r.log.With().
			Str("channel_id", uuid.NewString()).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	r.pool.Add(conn)
	defer ch.release()
	ch.log.Debug().Msg("channel connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			ch.log.Debug().Err(err).Msg("channel read loop end")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := parseClientMessage(data)
		if err != nil {
			r.metrics.parseErrors.Inc()
			ch.log.Warn().Err(err).Msg("dropping channel message")
			continue
		}
		switch msg.Type {
		case messageInit:
			ch.attach(req.Context(), int(*msg.ID))
		case messageClose:
			ch.log.Debug().Int("page_id", int(*msg.ID)).Msg("client closed channel")
			return
		default:
			ch.log.Debug().Str("type", msg.Type).Msg("ignoring channel message")
		}
	}
}

type channel struct {
	relay *Relay
	conn  *websocket.Conn
	log   zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	released bool
}

func (c *channel) attach(ctx context.Context, id int) {
	r := c.relay
	_, span := r.tracer.Start(ctx, "plotserver.Relay.attach", trace.WithAttributes(attribute.Int("page.id", id)))
	defer span.End()

	entries, ok := r.lookup(id)
	if !ok {
		span.SetAttributes(attribute.Bool("page.found", false))
		c.log.Warn().Int("page_id", id).Msg("requested stream plot does not exist")
		return
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	prev := c.done
	fwdCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	// only one forwarder may write to the conn at a time
	if prev != nil {
		<-prev
	}

	if r.pool.Attach(c.conn, id) {
		r.metrics.channels.Set(float64(r.pool.Attached()))
	}
	c.log.Info().Int("page_id", id).Msg("channel attached")
	go func() {
		defer close(done)
		c.forward(fwdCtx, id, entries)
	}()
}

type emission struct {
	index int
	plots []plot.Plot
}

// forward subscribes to every live entry of the page and writes one frame per
// emission. Each frame carries the whole page so the client can re-render it.
func (c *channel) forward(ctx context.Context, id int, entries []plot.Entry) {
	r := c.relay
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := plot.Bundles(entries)
	updates := make(chan emission)
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		live, ok := e.Payload.(plot.Live)
		if !ok {
			continue
		}
		sub, err := live.Stream.Subscribe(gctx)
		if err != nil {
			c.log.Error().Err(err).Int("page_id", id).Int("entry", i).Msg("subscribe to live entry failed")
			continue
		}
		g.Go(func() error {
			for {
				var plots []plot.Plot
				select {
				case <-gctx.Done():
					return nil
				case p, ok := <-sub:
					if !ok {
						return nil
					}
					plots = p
				}
				if err := plot.ValidateEmission(plots); err != nil {
					c.log.Warn().Err(err).Int("page_id", id).Int("entry", i).Msg("dropping live emission")
					continue
				}
				select {
				case updates <- emission{index: i, plots: plots}:
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	go func() {
		_ = g.Wait()
		close(updates)
	}()

	for u := range updates {
		if ctx.Err() != nil {
			break
		}
		state[u.index].Data = u.plots
		data, err := plot.Marshal(state)
		if err != nil {
			c.log.Error().Err(err).Int("page_id", id).Msg("marshal live frame")
			continue
		}
		if err := r.pool.Send(c.conn, data); err != nil {
			cancel()
			break
		}
		r.metrics.framesSent.Inc()
	}
	// drain so stream goroutines can observe cancellation
	for range updates {
	}

	if ctx.Err() == nil {
		c.log.Debug().Int("page_id", id).Msg("live sequence completed")
		c.detach()
	}
}

func (c *channel) detach() {
	c.relay.pool.Detach(c.conn)
	c.relay.metrics.channels.Set(float64(c.relay.pool.Attached()))
}

// release stops forwarding and closes the channel. The live streams keep
// running for any other subscriber.
func (c *channel) release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.relay.pool.Remove(c.conn)
	c.relay.metrics.channels.Set(float64(c.relay.pool.Attached()))
	c.log.Debug().Msg("channel released")
}
