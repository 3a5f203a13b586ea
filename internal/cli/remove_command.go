package cli

import (
	"github.com/spf13/cobra"
)

const (
	removeUse              = "remove <path>"
	removeAlias            = "rm"
	removeShortDescription = "drop a path back to treeOnly and regenerate (" + removeAlias + ")"
	removeLongDescription  = `Return every file beneath path to the treeOnly policy and print the
regenerated context document.`
)

// createRemoveCommand returns the remove subcommand.
func createRemoveCommand(app *application) *cobra.Command {
	var overrides contextFlags
	var prettyOutput bool

	removeCommand := &cobra.Command{
		Use:     removeUse,
		Aliases: []string{removeAlias},
		Short:   removeShortDescription,
		Long:    removeLongDescription,
		Args:    cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			ws, openErr := app.openWorkspace(command, overrides)
			if openErr != nil {
				return openErr
			}
			path, pathErr := app.resolveArgumentPath(arguments[0])
			if pathErr != nil {
				return pathErr
			}
			document, removeErr := ws.session.RemoveFile(command.Context(), path, ws.configuration.Context.Prompt)
			if removeErr != nil {
				return removeErr
			}
			return app.emitDocument(command, document, false, prettyOutput)
		},
	}

	addContextFlags(removeCommand, &overrides)
	removeCommand.Flags().BoolVar(&prettyOutput, prettyFlagName, false, prettyFlagDescription)
	return removeCommand
}
