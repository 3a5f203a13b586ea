package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temirov/ctxchat/internal/config"
)

const (
	initUse              = "init"
	initShortDescription = "write a default configuration file"
	initLongDescription  = `Write the default configuration to .ctxchat/config.yaml in the workspace,
or to ~/.ctxchat/config.yaml with --global.`

	globalFlagName        = "global"
	globalFlagDescription = "write the configuration below the home directory"
	forceFlagName         = "force"
	forceFlagDescription  = "overwrite an existing configuration file"

	initWrittenFormat = "Wrote configuration to %s\n"
)

// createInitCommand returns the init subcommand.
func createInitCommand(app *application) *cobra.Command {
	var global bool
	var force bool

	initCommand := &cobra.Command{
		Use:   initUse,
		Short: initShortDescription,
		Long:  initLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			target := config.InitTargetLocal
			workingDirectory := ""
			if global {
				target = config.InitTargetGlobal
			} else {
				root, rootErr := app.resolveWorkspaceRoot()
				if rootErr != nil {
					return rootErr
				}
				workingDirectory = root
			}
			destination, initErr := config.InitializeConfiguration(config.InitOptions{
				Target:           target,
				Force:            force,
				WorkingDirectory: workingDirectory,
			})
			if initErr != nil {
				return initErr
			}
			fmt.Fprintf(command.OutOrStdout(), initWrittenFormat, destination)
			return nil
		},
	}

	initCommand.Flags().BoolVar(&global, globalFlagName, false, globalFlagDescription)
	initCommand.Flags().BoolVar(&force, forceFlagName, false, forceFlagDescription)
	return initCommand
}
