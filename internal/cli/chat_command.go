package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxchat/internal/relay"
)

const (
	chatUse              = "chat [message...]"
	chatShortDescription = "stream a chat reply seeded with the context document"
	chatLongDescription  = `Generate the context document, start a fresh exchange seeded with it and
stream the assistant reply for the given message. Without a message, every
non-empty line read from standard input is sent as a turn of the same exchange.`
	chatUsageExample = `  # Ask one question about the selected files
  ctxchat chat "Where is the retry logic?"

  # Hold a multi-turn conversation
  ctxchat chat --prompt "Answer briefly"`

	chatInputPrompt     = "> "
	chatTurnSeparator   = "\n"
	chatEventBufferSize = 16
)

// createChatCommand returns the chat subcommand.
func createChatCommand(app *application) *cobra.Command {
	var overrides contextFlags

	chatCommand := &cobra.Command{
		Use:     chatUse,
		Short:   chatShortDescription,
		Long:    chatLongDescription,
		Example: chatUsageExample,
		Args:    cobra.ArbitraryArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			ws, openErr := app.openWorkspace(command, overrides)
			if openErr != nil {
				return openErr
			}
			document, generateErr := ws.session.GenerateContext(command.Context(), ws.configuration.Context.Prompt)
			if generateErr != nil {
				return generateErr
			}
			fmt.Fprintf(command.ErrOrStderr(), filesSummaryFormat, len(document.Files))

			if len(arguments) > 0 {
				return runChatTurn(command.Context(), ws, strings.Join(arguments, " "), command.OutOrStdout())
			}
			return runChatLoop(command.Context(), ws, app.stdin, command.OutOrStdout(), command.ErrOrStderr())
		},
	}

	addContextFlags(chatCommand, &overrides)
	return chatCommand
}

// runChatLoop sends every non-empty input line as a turn. A failed turn is
// reported and the loop continues with the next line.
func runChatLoop(ctx context.Context, ws *workspaceSession, input io.Reader, output io.Writer, errorOutput io.Writer) error {
	scanner := bufio.NewScanner(input)
	fmt.Fprint(errorOutput, chatInputPrompt)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			if turnErr := runChatTurn(ctx, ws, text, output); turnErr != nil {
				if errors.Is(turnErr, context.Canceled) {
					return nil
				}
				fmt.Fprintf(errorOutput, warningFormat, turnErr)
			}
		}
		fmt.Fprint(errorOutput, chatInputPrompt)
	}
	return scanner.Err()
}

// runChatTurn streams one turn. The relay callback feeds a channel drained by
// a separate writer so a slow terminal never stalls the response body.
func runChatTurn(ctx context.Context, ws *workspaceSession, text string, output io.Writer) error {
	group, turnCtx := errgroup.WithContext(ctx)
	events := make(chan relay.Event, chatEventBufferSize)
	var providerErr error

	group.Go(func() error {
		defer close(events)
		return ws.session.SendChatTurn(turnCtx, text, func(event relay.Event) {
			select {
			case events <- event:
			case <-turnCtx.Done():
			}
		})
	})

	group.Go(func() error {
		for event := range events {
			switch event.Kind {
			case relay.EventFragment:
				if _, writeErr := io.WriteString(output, event.Fragment); writeErr != nil {
					return writeErr
				}
			case relay.EventError:
				if providerErr == nil {
					providerErr = event.Err
				}
			case relay.EventEnd:
				if _, writeErr := io.WriteString(output, chatTurnSeparator); writeErr != nil {
					return writeErr
				}
			}
		}
		return nil
	})

	if waitErr := group.Wait(); waitErr != nil {
		return waitErr
	}
	return providerErr
}
