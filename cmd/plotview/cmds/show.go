package cmds

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/plotview/pkg/config"
	"github.com/go-go-golems/plotview/pkg/plotview"
)

type ShowSettings struct {
	Files []string `glazed:"files"`
}

type ShowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ShowCommand{}

func NewShowCommand() (*ShowCommand, error) {
	serverSection, err := config.NewServerSection()
	if err != nil {
		return nil, err
	}
	return &ShowCommand{
		CommandDescription: cmds.NewCommandDescription(
			"show",
			cmds.WithShort("Show every plot file as its own page"),
			cmds.WithLong("Load JSON or YAML plot bundles from each file and show each file as a separate browser page. Exits once every page has been viewed."),
			cmds.WithArguments(
				fields.New(
					"files",
					fields.TypeStringList,
					fields.WithHelp("Plot files (.json, .yaml)"),
					fields.WithRequired(true),
				),
			),
			cmds.WithSections(serverSection),
		),
	}, nil
}

func (c *ShowCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ShowSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode show settings")
	}
	session, err := newSession(parsed)
	if err != nil {
		return err
	}
	if err := plotFiles(ctx, session, s.Files, os.Stdout); err != nil {
		return err
	}
	return run(ctx, session, nil)
}

// plotFiles shows each file as its own page. On any error nothing further is
// plotted and the session is closed.
func plotFiles(ctx context.Context, session *plotview.Session, paths []string, w io.Writer) error {
	for _, path := range paths {
		if err := plotFile(ctx, session, path, w); err != nil {
			session.Clear()
			if closeErr := session.Close(ctx); closeErr != nil {
				log.Warn().Err(closeErr).Msg("closing plot server")
			}
			return err
		}
	}
	return nil
}

func plotFile(ctx context.Context, session *plotview.Session, path string, w io.Writer) error {
	bundles, err := LoadBundles(path)
	if err != nil {
		return err
	}
	if err := stackBundles(session.Stack, bundles); err != nil {
		return errors.Wrap(err, path)
	}
	id, err := session.Plot(ctx, nil, nil)
	if err != nil {
		return err
	}
	url := session.Server().PageURL(id)
	log.Info().Str("file", path).Int("page_id", id).Str("url", url).Msg("page ready")
	announcePage(w, path, url)
	return nil
}

// announcePage prints the page URL. Terminals get the file name alongside,
// pipes get the bare URL.
func announcePage(w io.Writer, path, url string) {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		_, _ = fmt.Fprintf(w, "%s -> %s\n", path, url)
		return
	}
	_, _ = fmt.Fprintln(w, url)
}
