package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/plotview/pkg/config"
	"github.com/go-go-golems/plotview/pkg/livestream"
	"github.com/go-go-golems/plotview/pkg/plot"
)

type PublishSettings struct {
	File     string `glazed:"file"`
	Interval string `glazed:"interval"`
}

type PublishCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &PublishCommand{}

func NewPublishCommand() (*PublishCommand, error) {
	redisSection, err := config.NewRedisSection()
	if err != nil {
		return nil, err
	}
	return &PublishCommand{
		CommandDescription: cmds.NewCommandDescription(
			"publish",
			cmds.WithShort("Publish the bundles of a plot file to a Redis stream, one emission each"),
			cmds.WithFlags(
				fields.New(
					"interval",
					fields.TypeString,
					fields.WithHelp("Pause between emissions"),
					fields.WithDefault("0s"),
				),
			),
			cmds.WithArguments(
				fields.New(
					"file",
					fields.TypeString,
					fields.WithHelp("Plot file (.json, .yaml)"),
					fields.WithRequired(true),
				),
			),
			cmds.WithSections(redisSection),
		),
	}, nil
}

func (c *PublishCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &PublishSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode publish settings")
	}
	interval, err := time.ParseDuration(s.Interval)
	if err != nil {
		return errors.Wrap(err, "parse interval")
	}
	rs, err := config.DecodeRedis(parsed)
	if err != nil {
		return err
	}
	bundles, err := LoadBundles(s.File)
	if err != nil {
		return err
	}

	client := redis.NewClient(&redis.Options{Addr: rs.Addr})
	defer func() { _ = client.Close() }()
	pub, err := livestream.NewRedisPublisher(client, rs.Topic)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	return publishBundles(ctx, pub.Publish, bundles, interval, rs.Topic)
}

// publishBundles sends one emission per bundle, pausing interval between them.
func publishBundles(
	ctx context.Context,
	publish func([]plot.Plot) error,
	bundles []plot.Bundle,
	interval time.Duration,
	topic string,
) error {
	for i, b := range bundles {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
		if err := publish(b.Data); err != nil {
			return err
		}
		log.Info().Str("topic", topic).Int("bundle", i).Msg("published emission")
	}
	return nil
}
