package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/temirov/ctxchat/internal/types"
)

const (
	generateUse              = "generate"
	generateAlias            = "g"
	generateShortDescription = "assemble the context document (" + generateAlias + ")"
	generateLongDescription  = `Walk the workspace, render the annotated file tree and the content of every
path marked fullContent or signatures, and print the Markdown document.
Use --copy to place it on the clipboard and --pretty to render it for the terminal.`
	generateUsageExample = `  # Print the document with custom instructions
  ctxchat generate --prompt "Review the error handling"

  # Copy the document and report its token count
  ctxchat generate --copy --tokens`

	copyFlagName          = "copy"
	copyFlagDescription   = "copy the document to the clipboard"
	prettyFlagName        = "pretty"
	prettyFlagDescription = "render the document as formatted Markdown"

	tokenSummaryFormat = "Tokens (%s): %d\n"
	copiedMessage      = "Copied context to clipboard"
	filesSummaryFormat = "Files with content: %d\n"
)

// createGenerateCommand returns the generate subcommand.
func createGenerateCommand(app *application) *cobra.Command {
	var overrides contextFlags
	var copyOverride *bool
	var prettyOutput bool

	generateCommand := &cobra.Command{
		Use:     generateUse,
		Aliases: []string{generateAlias},
		Short:   generateShortDescription,
		Long:    generateLongDescription,
		Example: generateUsageExample,
		Args:    cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			ws, openErr := app.openWorkspace(command, overrides)
			if openErr != nil {
				return openErr
			}
			document, generateErr := ws.session.GenerateContext(command.Context(), ws.configuration.Context.Prompt)
			if generateErr != nil {
				return generateErr
			}

			copyEnabled := ws.configuration.Context.ClipboardEnabled()
			if copyOverride != nil {
				copyEnabled = *copyOverride
			}
			return app.emitDocument(command, document, copyEnabled, prettyOutput)
		},
	}

	addContextFlags(generateCommand, &overrides)
	registerOverrideFlag(generateCommand.Flags(), &copyOverride, copyFlagName, copyFlagDescription)
	generateCommand.Flags().BoolVar(&prettyOutput, prettyFlagName, false, prettyFlagDescription)
	return generateCommand
}

// emitDocument prints the document and its summary, copying it when requested.
// Clipboard failures are reported as warnings; the document is still printed.
func (app *application) emitDocument(command *cobra.Command, document types.ContextDocument, copyEnabled bool, prettyOutput bool) error {
	output := document.Markdown
	if prettyOutput {
		rendered, renderErr := renderMarkdown(document.Markdown, "", 0)
		if renderErr != nil {
			return renderErr
		}
		output = rendered
	}
	if _, writeErr := io.WriteString(command.OutOrStdout(), output); writeErr != nil {
		return writeErr
	}

	summaryWriter := command.ErrOrStderr()
	fmt.Fprintf(summaryWriter, filesSummaryFormat, len(document.Files))
	if document.Model != "" {
		fmt.Fprintf(summaryWriter, tokenSummaryFormat, document.Model, document.Tokens)
	}
	if copyEnabled && app.copier != nil {
		if copyErr := app.copier.Copy(document.Markdown); copyErr != nil {
			fmt.Fprintf(summaryWriter, warningFormat, copyErr)
		} else {
			fmt.Fprintln(summaryWriter, copiedMessage)
		}
	}
	return nil
}
