package config

import (
	"io/fs"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	appconfig "github.com/go-go-golems/glazed/pkg/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func dirFS(dir string) fs.FS { return os.DirFS(dir) }

// Middlewares is the cobra source chain of every plotview command. Earlier
// sources win: flags, arguments, environment, config file, defaults.
//
// The config file is a YAML map of section slug to field values:
//
//	server:
//	  port: 9000
//	  no-open: true
//	redis:
//	  redis-addr: localhost:6379
func Middlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	if err := godotenv.Load(".env"); err == nil {
		log.Debug().Str("component", "config").Msg("loaded .env")
	}

	middlewares := []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(EnvPrefix,
			fields.WithSource("env"),
		),
	}
	if path := ConfigPath(cmd); path != "" {
		log.Debug().Str("component", "config").Str("path", path).Msg("loading config file")
		middlewares = append(middlewares, sources.FromFile(path))
	}
	middlewares = append(middlewares, sources.FromDefaults())
	return middlewares, nil
}

// ConfigPath is the --config-file flag when set, otherwise the discovered
// plotview app config, or empty when there is none.
func ConfigPath(cmd *cobra.Command) string {
	explicit := ""
	if cmd != nil {
		if f := cmd.Flags().Lookup("config-file"); f != nil {
			explicit = f.Value.String()
		}
	}
	path, err := appconfig.ResolveAppConfigPath(AppName, explicit)
	if err != nil {
		log.Debug().Err(err).Str("component", "config").Msg("no config file")
		return ""
	}
	return path
}
