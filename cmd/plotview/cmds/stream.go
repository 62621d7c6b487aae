package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/redis/go-redis/v9"

	"github.com/go-go-golems/plotview/pkg/config"
	"github.com/go-go-golems/plotview/pkg/livestream"
	"github.com/go-go-golems/plotview/pkg/plot"
)

type StreamCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &StreamCommand{}

func NewStreamCommand() (*StreamCommand, error) {
	serverSection, err := config.NewServerSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := config.NewRedisSection()
	if err != nil {
		return nil, err
	}
	return &StreamCommand{
		CommandDescription: cmds.NewCommandDescription(
			"stream",
			cmds.WithShort("Show a live page fed by a Redis stream"),
			cmds.WithSections(serverSection, redisSection),
		),
	}, nil
}

func (c *StreamCommand) Run(ctx context.Context, parsed *values.Values) error {
	rs, err := config.DecodeRedis(parsed)
	if err != nil {
		return err
	}
	session, err := newSession(parsed)
	if err != nil {
		return err
	}

	client := redis.NewClient(&redis.Options{Addr: rs.Addr})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = session.Close(ctx)
		return err
	}
	source := livestream.NewRedisSource(client, rs.Topic)
	if _, err := session.Plot(ctx, plot.NewLive(source), plot.Layout{"title": rs.Topic}); err != nil {
		_ = session.Close(ctx)
		return err
	}
	return run(ctx, session, nil)
}
