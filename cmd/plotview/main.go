package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/plotview/cmd/plotview/cmds"
	"github.com/go-go-golems/plotview/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:          "plotview",
	Short:        "plotview shows plots in the browser from a transient local server",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	if err := clay.InitGlazed(config.AppName, rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	cobra.CheckErr(cmds.AddToRootCommand(rootCmd))
	cobra.CheckErr(rootCmd.Execute())
}
