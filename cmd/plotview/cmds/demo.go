package cmds

import (
	"context"
	"math"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/plotview/pkg/config"
	"github.com/go-go-golems/plotview/pkg/livestream"
	"github.com/go-go-golems/plotview/pkg/plot"
)

type DemoSettings struct {
	Interval string `glazed:"interval"`
	Duration string `glazed:"duration"`
	Points   int    `glazed:"points"`
}

func (s *DemoSettings) durations() (time.Duration, time.Duration, error) {
	interval, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse interval")
	}
	if interval <= 0 {
		return 0, 0, errors.Errorf("interval must be positive, got %s", s.Interval)
	}
	duration, err := time.ParseDuration(s.Duration)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse duration")
	}
	return interval, duration, nil
}

type DemoCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &DemoCommand{}

func NewDemoCommand() (*DemoCommand, error) {
	serverSection, err := config.NewServerSection()
	if err != nil {
		return nil, err
	}
	return &DemoCommand{
		CommandDescription: cmds.NewCommandDescription(
			"demo",
			cmds.WithShort("Show a static page and a live sine wave page"),
			cmds.WithFlags(
				fields.New(
					"interval",
					fields.TypeString,
					fields.WithHelp("Time between live emissions"),
					fields.WithDefault("200ms"),
				),
				fields.New(
					"duration",
					fields.TypeString,
					fields.WithHelp("How long the live page keeps updating"),
					fields.WithDefault("30s"),
				),
				fields.New(
					"points",
					fields.TypeInteger,
					fields.WithHelp("Points per emission"),
					fields.WithDefault(100),
				),
			),
			cmds.WithSections(serverSection),
		),
	}, nil
}

func (c *DemoCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &DemoSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode demo settings")
	}
	interval, duration, err := s.durations()
	if err != nil {
		return err
	}
	session, err := newSession(parsed)
	if err != nil {
		return err
	}

	if _, err := session.Plot(ctx, plot.Static{
		{"x": []int{1, 2, 3, 4}, "y": []int{10, 15, 13, 17}, "type": "scatter"},
		{"x": []int{1, 2, 3, 4}, "y": []int{16, 5, 11, 9}, "type": "bar"},
	}, plot.Layout{"title": "static"}); err != nil {
		_ = session.Close(ctx)
		return err
	}

	hub := livestream.NewHub()
	if _, err := session.Plot(ctx, plot.NewLive(hub), plot.Layout{"title": "sine"}); err != nil {
		_ = hub.Close()
		_ = session.Close(ctx)
		return err
	}

	return run(ctx, session, func(ctx context.Context) error {
		defer func() { _ = hub.Close() }()
		return feedSine(ctx, hub, interval, duration, s.Points)
	})
}

func sineWave(phase float64, points int) []plot.Plot {
	xs := make([]float64, points)
	ys := make([]float64, points)
	for i := range xs {
		x := float64(i) / float64(points) * 2 * math.Pi
		xs[i] = x
		ys[i] = math.Sin(x + phase)
	}
	return []plot.Plot{{"x": xs, "y": ys, "type": "scatter", "mode": "lines"}}
}

func feedSine(ctx context.Context, hub *livestream.Hub, interval, duration time.Duration, points int) error {
	if points < 2 {
		points = 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(duration)

	phase := 0.0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			log.Info().Msg("demo stream finished")
			return nil
		case <-ticker.C:
			if err := hub.Publish(sineWave(phase, points)); err != nil {
				return err
			}
			phase += 0.1
		}
	}
}
