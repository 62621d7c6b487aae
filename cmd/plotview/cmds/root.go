// Package cmds holds the glazed commands of the plotview CLI.
package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/plotview/pkg/config"
	"github.com/go-go-golems/plotview/pkg/plotview"
)

// BuildCommands returns the cobra form of every plotview command.
func BuildCommands() ([]*cobra.Command, error) {
	show, err := NewShowCommand()
	if err != nil {
		return nil, err
	}
	demo, err := NewDemoCommand()
	if err != nil {
		return nil, err
	}
	stream, err := NewStreamCommand()
	if err != nil {
		return nil, err
	}
	publish, err := NewPublishCommand()
	if err != nil {
		return nil, err
	}

	var ret []*cobra.Command
	for _, c := range []cmds.BareCommand{show, demo, stream, publish} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(config.Middlewares))
		if err != nil {
			return nil, errors.Wrapf(err, "build %s", c.Description().Name)
		}
		ret = append(ret, cobraCmd)
	}
	return ret, nil
}

func AddToRootCommand(root *cobra.Command) error {
	commands, err := BuildCommands()
	if err != nil {
		return err
	}
	root.AddCommand(commands...)
	return nil
}

func newSession(parsed *values.Values) (*plotview.Session, error) {
	settings, err := config.DecodeServer(parsed)
	if err != nil {
		return nil, err
	}
	return plotview.NewSession(plotview.WithSettings(settings))
}

// run blocks until every page plotted so far has been viewed or the process
// is interrupted. feed, when not nil, runs alongside with a context cancelled
// on either.
func run(ctx context.Context, session *plotview.Session, feed func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	if feed != nil {
		eg.Go(func() error {
			return feed(ctx)
		})
	}
	eg.Go(func() error {
		if err := session.Wait(ctx); err != nil {
			return nil
		}
		log.Info().Msg("all pages viewed")
		cancel()
		return nil
	})
	err := eg.Wait()

	if closeErr := session.Close(context.Background()); closeErr != nil {
		log.Warn().Err(closeErr).Msg("closing plot server")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
