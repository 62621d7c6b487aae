// Package config defines the glazed sections carrying plotview's server and
// Redis settings, and the source chain that fills them: flags, then
// PLOTVIEW_* environment variables (a .env file included), then the config
// file, then defaults.
package config

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/plotview/pkg/plotserver"
)

const (
	AppName   = "plotview"
	EnvPrefix = "PLOTVIEW"

	ServerSlug = "server"
	RedisSlug  = "redis"
)

type ServerSettings struct {
	Host            string `glazed:"host"`
	Port            int    `glazed:"port"`
	NoOpen          bool   `glazed:"no-open"`
	AssetsDir       string `glazed:"assets-dir"`
	Metrics         bool   `glazed:"metrics"`
	HoldForLive     bool   `glazed:"hold-for-live"`
	LiveAttachGrace string `glazed:"live-attach-grace"`
	ShutdownTimeout string `glazed:"shutdown-timeout"`
	ConfigFile      string `glazed:"config-file"`
}

type RedisSettings struct {
	Addr  string `glazed:"redis-addr"`
	Topic string `glazed:"redis-topic"`
}

func NewServerSection() (schema.Section, error) {
	return schema.NewSection(
		ServerSlug,
		"Plot server options",
		schema.WithFields(
			fields.New(
				"host",
				fields.TypeString,
				fields.WithHelp("Host to bind the plot server to"),
				fields.WithDefault(plotserver.DefaultHost),
			),
			fields.New(
				"port",
				fields.TypeInteger,
				fields.WithHelp("Port to bind the plot server to (0 picks a free port)"),
				fields.WithDefault(plotserver.DefaultPort),
			),
			fields.New(
				"no-open",
				fields.TypeBool,
				fields.WithHelp("Print page URLs instead of opening a browser"),
				fields.WithDefault(false),
			),
			fields.New(
				"assets-dir",
				fields.TypeString,
				fields.WithHelp("Directory overriding the embedded page assets"),
				fields.WithDefault(""),
			),
			fields.New(
				"metrics",
				fields.TypeBool,
				fields.WithHelp("Expose Prometheus metrics at /metrics"),
				fields.WithDefault(false),
			),
			fields.New(
				"hold-for-live",
				fields.TypeBool,
				fields.WithHelp("Keep the server up while live pages are attached"),
				fields.WithDefault(true),
			),
			fields.New(
				"live-attach-grace",
				fields.TypeString,
				fields.WithHelp("How long a fetched live page has to attach its channel"),
				fields.WithDefault(plotserver.DefaultLiveAttachGrace.String()),
			),
			fields.New(
				"shutdown-timeout",
				fields.TypeString,
				fields.WithHelp("Graceful shutdown timeout"),
				fields.WithDefault(plotserver.DefaultShutdownTimeout.String()),
			),
			fields.New(
				"config-file",
				fields.TypeString,
				fields.WithHelp("YAML settings file (defaults to the plotview app config)"),
				fields.WithDefault(""),
			),
		),
	)
}

func NewRedisSection() (schema.Section, error) {
	return schema.NewSection(
		RedisSlug,
		"Redis Streams options for live pages",
		schema.WithFields(
			fields.New(
				"redis-addr",
				fields.TypeString,
				fields.WithHelp("Redis address host:port"),
				fields.WithDefault("localhost:6379"),
			),
			fields.New(
				"redis-topic",
				fields.TypeString,
				fields.WithHelp("Redis stream carrying plot emissions"),
				fields.WithDefault("plotview"),
			),
		),
	)
}

func DecodeServer(parsed *values.Values) (*ServerSettings, error) {
	s := &ServerSettings{}
	if err := parsed.DecodeSectionInto(ServerSlug, s); err != nil {
		return nil, errors.Wrap(err, "decode server settings")
	}
	return s, nil
}

func DecodeRedis(parsed *values.Values) (*RedisSettings, error) {
	s := &RedisSettings{}
	if err := parsed.DecodeSectionInto(RedisSlug, s); err != nil {
		return nil, errors.Wrap(err, "decode redis settings")
	}
	return s, nil
}

// ServerOptions maps the settings onto plotserver options.
func (s *ServerSettings) ServerOptions() ([]plotserver.Option, error) {
	grace, err := parseDuration("live-attach-grace", s.LiveAttachGrace, plotserver.DefaultLiveAttachGrace)
	if err != nil {
		return nil, err
	}
	shutdown, err := parseDuration("shutdown-timeout", s.ShutdownTimeout, plotserver.DefaultShutdownTimeout)
	if err != nil {
		return nil, err
	}
	opts := []plotserver.Option{
		plotserver.WithHost(s.Host),
		plotserver.WithPort(s.Port),
		plotserver.WithMetrics(s.Metrics),
		plotserver.WithHoldForLiveChannels(s.HoldForLive),
		plotserver.WithLiveAttachGrace(grace),
		plotserver.WithShutdownTimeout(shutdown),
	}
	if s.NoOpen {
		opts = append(opts, plotserver.WithOpener(plotserver.NoopOpener{}))
	}
	if s.AssetsDir != "" {
		opts = append(opts, plotserver.WithAssets(plotserver.OverlayFS{
			Primary:  dirFS(s.AssetsDir),
			Fallback: plotserver.DefaultAssets(),
		}))
	}
	return opts, nil
}

func parseDuration(name, v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", name)
	}
	return d, nil
}
