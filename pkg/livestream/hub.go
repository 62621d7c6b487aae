// Package livestream provides plot.Stream implementations backed by watermill
// pub/sub: an in-process Hub and a Redis Streams source.
package livestream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/plotview/pkg/plot"
)

const hubTopic = "plots"

// Hub is an in-process live plot sequence. Every subscriber receives each
// published emission in publish order. Publish blocks until all current
// subscribers have taken the emission.
type Hub struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	latest []plot.Plot
	closed bool
}

type HubOption func(*gochannel.Config)

// WithReplay makes late subscribers receive every emission published so far.
func WithReplay() HubOption {
	return func(c *gochannel.Config) { c.Persistent = true }
}

// WithBuffer sets the per-subscriber output buffer.
func WithBuffer(n int64) HubOption {
	return func(c *gochannel.Config) { c.OutputChannelBuffer = n }
}

func NewHub(opts ...HubOption) *Hub {
	cfg := gochannel.Config{BlockPublishUntilSubscriberAck: true}
	for _, o := range opts {
		o(&cfg)
	}
	return &Hub{pubsub: gochannel.NewGoChannel(cfg, defaultLogger())}
}

// Publish validates and emits one set of plots.
func (h *Hub) Publish(plots []plot.Plot) error {
	if err := plot.ValidateEmission(plots); err != nil {
		return err
	}
	payload, err := json.Marshal(plots)
	if err != nil {
		return errors.Wrap(err, "marshal emission")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub is closed")
	}
	h.latest = plots
	h.mu.Unlock()

	return h.pubsub.Publish(hubTopic, message.NewMessage(watermill.NewUUID(), payload))
}

func (h *Hub) Subscribe(ctx context.Context) (<-chan []plot.Plot, error) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		out := make(chan []plot.Plot)
		close(out)
		return out, nil
	}
	msgs, err := h.pubsub.Subscribe(ctx, hubTopic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to hub")
	}
	return decode(ctx, msgs), nil
}

func (h *Hub) Latest() ([]plot.Plot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.latest != nil
}

// Close completes the sequence for every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.pubsub.Close()
}

// Pipe publishes everything received on ch into a new hub and closes the hub
// once ch is closed or ctx is done.
func Pipe(ctx context.Context, ch <-chan []plot.Plot, opts ...HubOption) *Hub {
	h := NewHub(opts...)
	go func() {
		defer func() { _ = h.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case plots, ok := <-ch:
				if !ok {
					return
				}
				if err := h.Publish(plots); err != nil {
					log.Warn().Err(err).Str("component", "livestream").Msg("dropping emission")
				}
			}
		}
	}()
	return h
}

// decode turns watermill messages into plot emissions. A message is acked only
// after the emission has been handed to the reader so that ordering and
// back-pressure follow the consumer.
func decode(ctx context.Context, msgs <-chan *message.Message) <-chan []plot.Plot {
	out := make(chan []plot.Plot)
	go func() {
		defer close(out)
		for msg := range msgs {
			var plots []plot.Plot
			if err := json.Unmarshal(msg.Payload, &plots); err != nil {
				log.Warn().Err(err).Str("component", "livestream").Str("uuid", msg.UUID).Msg("undecodable emission")
				msg.Ack()
				continue
			}
			select {
			case out <- plots:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out
}
