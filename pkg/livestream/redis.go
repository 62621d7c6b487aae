package livestream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/plotview/pkg/plot"
)

// RedisSource is a live sequence fed by a Redis stream. Each subscription reads
// the stream in fan-out mode, so every browser channel sees every emission.
type RedisSource struct {
	client redis.UniversalClient
	topic  string
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	latest []plot.Plot
}

func NewRedisSource(client redis.UniversalClient, topic string) *RedisSource {
	return &RedisSource{client: client, topic: topic, logger: defaultLogger()}
}

func (s *RedisSource) Subscribe(ctx context.Context) (<-chan []plot.Plot, error) {
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       s.client,
		Unmarshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, s.logger)
	if err != nil {
		return nil, errors.Wrap(err, "create redis subscriber")
	}
	msgs, err := sub.Subscribe(ctx, s.topic)
	if err != nil {
		_ = sub.Close()
		return nil, errors.Wrapf(err, "subscribe to %s", s.topic)
	}

	in := decode(ctx, msgs)
	out := make(chan []plot.Plot)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				log.Debug().Err(err).Str("component", "livestream").Str("topic", s.topic).Msg("redis subscriber close")
			}
		}()
		for plots := range in {
			s.mu.Lock()
			s.latest = plots
			s.mu.Unlock()
			select {
			case out <- plots:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *RedisSource) Latest() ([]plot.Plot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest != nil
}

// RedisPublisher writes plot emissions to a Redis stream consumed by RedisSource.
type RedisPublisher struct {
	pub   *rstream.Publisher
	topic string
}

func NewRedisPublisher(client redis.UniversalClient, topic string) (*RedisPublisher, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, defaultLogger())
	if err != nil {
		return nil, errors.Wrap(err, "create redis publisher")
	}
	return &RedisPublisher{pub: pub, topic: topic}, nil
}

func (p *RedisPublisher) Publish(plots []plot.Plot) error {
	if err := plot.ValidateEmission(plots); err != nil {
		return err
	}
	payload, err := json.Marshal(plots)
	if err != nil {
		return errors.Wrap(err, "marshal emission")
	}
	if err := p.pub.Publish(p.topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return errors.Wrapf(err, "publish to %s", p.topic)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.pub.Close()
}
