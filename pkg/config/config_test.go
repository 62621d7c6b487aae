package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/plotview/pkg/plotserver"
)

type captureCommand struct {
	*cmds.CommandDescription
	server *ServerSettings
	redis  *RedisSettings
}

var _ cmds.BareCommand = &captureCommand{}

func (c *captureCommand) Run(_ context.Context, parsed *values.Values) error {
	var err error
	if c.server, err = DecodeServer(parsed); err != nil {
		return err
	}
	c.redis, err = DecodeRedis(parsed)
	return err
}

func newCaptureCobra(t *testing.T) (*captureCommand, *cobra.Command) {
	t.Helper()
	serverSection, err := NewServerSection()
	require.NoError(t, err)
	redisSection, err := NewRedisSection()
	require.NoError(t, err)
	c := &captureCommand{
		CommandDescription: cmds.NewCommandDescription(
			"capture",
			cmds.WithSections(serverSection, redisSection),
		),
	}
	cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(Middlewares))
	require.NoError(t, err)
	return c, cobraCmd
}

func isolateConfigDirs(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestSectionsBuild(t *testing.T) {
	s, err := NewServerSection()
	require.NoError(t, err)
	require.NotNil(t, s)
	r, err := NewRedisSection()
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	isolateConfigDirs(t)
	c, cobraCmd := newCaptureCobra(t)
	cobraCmd.SetArgs([]string{"--port", "9100", "--no-open", "--redis-topic", "metrics"})
	require.NoError(t, cobraCmd.Execute())

	require.Equal(t, 9100, c.server.Port)
	require.True(t, c.server.NoOpen)
	require.Equal(t, plotserver.DefaultHost, c.server.Host)
	require.True(t, c.server.HoldForLive)
	require.False(t, c.server.Metrics)
	require.Equal(t, "metrics", c.redis.Topic)
	require.Equal(t, "localhost:6379", c.redis.Addr)
}

func TestConfigPathPrefersFlag(t *testing.T) {
	isolateConfigDirs(t)
	_, cobraCmd := newCaptureCobra(t)
	require.Equal(t, "", ConfigPath(cobraCmd))
	require.Equal(t, "", ConfigPath(nil))

	path := filepath.Join(t.TempDir(), "plotview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))
	require.NoError(t, cobraCmd.Flags().Set("config-file", path))
	require.Equal(t, path, ConfigPath(cobraCmd))
}

func TestMiddlewaresAddConfigFileSource(t *testing.T) {
	isolateConfigDirs(t)
	_, cobraCmd := newCaptureCobra(t)

	without, err := Middlewares(nil, cobraCmd, nil)
	require.NoError(t, err)
	require.Len(t, without, 4)

	path := filepath.Join(t.TempDir(), "plotview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))
	require.NoError(t, cobraCmd.Flags().Set("config-file", path))
	with, err := Middlewares(nil, cobraCmd, nil)
	require.NoError(t, err)
	require.Len(t, with, 5)
}

func TestMiddlewaresLoadDotEnv(t *testing.T) {
	isolateConfigDirs(t)
	require.NoError(t, os.WriteFile(".env", []byte("PLOTVIEW_TEST_DOTENV=1\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("PLOTVIEW_TEST_DOTENV") })

	_, cobraCmd := newCaptureCobra(t)
	_, err := Middlewares(nil, cobraCmd, nil)
	require.NoError(t, err)
	require.Equal(t, "1", os.Getenv("PLOTVIEW_TEST_DOTENV"))
}

func TestServerOptionsParseDurations(t *testing.T) {
	s := &ServerSettings{
		Port:            0,
		NoOpen:          true,
		LiveAttachGrace: "500ms",
		ShutdownTimeout: "",
	}
	opts, err := s.ServerOptions()
	require.NoError(t, err)
	require.NotEmpty(t, opts)

	d, err := parseDuration("x", "", time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, d)

	for _, bad := range []*ServerSettings{
		{LiveAttachGrace: "soon"},
		{ShutdownTimeout: "later"},
	} {
		_, err := bad.ServerOptions()
		require.Error(t, err)
	}
}

func TestServerOptionsBuildServer(t *testing.T) {
	s := &ServerSettings{
		Host:        plotserver.DefaultHost,
		Port:        0,
		NoOpen:      true,
		Metrics:     true,
		HoldForLive: true,
		AssetsDir:   t.TempDir(),
	}
	opts, err := s.ServerOptions()
	require.NoError(t, err)

	srv, err := plotserver.New(opts...)
	require.NoError(t, err)
	require.NotNil(t, srv.Handler())
	require.False(t, srv.Listening())
}
