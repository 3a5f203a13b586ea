package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxchat/internal/selection"
	"github.com/temirov/ctxchat/internal/services/server"
)

const (
	serveUse              = "serve"
	serveShortDescription = "serve the workspace over a local HTTP API"
	serveLongDescription  = `Expose policy changes, context generation and streamed chat turns over HTTP.
Edits to .ctxchat/state.json made by other ctxchat processes are picked up and
announced on the /events feed.`

	addressFlagName        = "address"
	addressFlagDescription = "listen address (defaults to server.address from the configuration)"

	serveListeningFormat = "Serving %s on http://%s\n"
	logWatcherStopped    = "state watcher stopped"
)

// createServeCommand returns the serve subcommand.
func createServeCommand(app *application) *cobra.Command {
	var overrides contextFlags
	var address string

	serveCommand := &cobra.Command{
		Use:   serveUse,
		Short: serveShortDescription,
		Long:  serveLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			ws, openErr := app.openWorkspace(command, overrides)
			if openErr != nil {
				return openErr
			}
			listenAddress := address
			if listenAddress == "" {
				listenAddress = ws.configuration.Server.Address
			}

			apiServer := server.NewServer(server.Config{
				Address:    listenAddress,
				Operations: ws.session,
				Changes:    ws.store.Notifier(),
				Logger:     app.logger,
			})
			watcher := selection.NewStateWatcher(ws.store, ws.persistence.FilePath(), ws.fileSystem, app.logger)

			group, serveCtx := errgroup.WithContext(command.Context())
			group.Go(func() error {
				return apiServer.Run(serveCtx, func(boundAddress string) {
					fmt.Fprintf(command.OutOrStdout(), serveListeningFormat, ws.root, boundAddress)
				})
			})
			group.Go(func() error {
				watchErr := watcher.Run(serveCtx, nil)
				if watchErr != nil && serveCtx.Err() == nil {
					app.logger.Warn(logWatcherStopped, zap.Error(watchErr))
				}
				return nil
			})
			waitErr := group.Wait()
			if waitErr != nil && command.Context().Err() != nil {
				return nil
			}
			return waitErr
		},
	}

	addContextFlags(serveCommand, &overrides)
	serveCommand.Flags().StringVar(&address, addressFlagName, "", addressFlagDescription)
	return serveCommand
}
