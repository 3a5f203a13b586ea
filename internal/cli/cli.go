// Package cli provides the command line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/assembler"
	"github.com/temirov/ctxchat/internal/chat"
	"github.com/temirov/ctxchat/internal/config"
	"github.com/temirov/ctxchat/internal/relay"
	"github.com/temirov/ctxchat/internal/selection"
	"github.com/temirov/ctxchat/internal/services/clipboard"
	"github.com/temirov/ctxchat/internal/tokenizer"
	"github.com/temirov/ctxchat/internal/utils"
	"github.com/temirov/ctxchat/internal/workspace"
)

const (
	workspaceFlagName    = "workspace"
	workspaceFlagShort   = "w"
	configFlagName       = "config"
	verboseFlagName      = "verbose"
	versionFlagName      = "version"
	versionTemplate      = "ctxchat version: %s\n"
	defaultWorkspacePath = "."
	rootUse              = "ctxchat"
	rootShortDescription = "ctxchat command line interface"
	rootLongDescription  = `ctxchat marks workspace paths with an inclusion policy, assembles the marked
files into a Markdown context document and streams a chat completion seeded with it.
Policies persist in .ctxchat/state.json so every command sees the same selection.`

	workspaceFlagDescription = "workspace root directory"
	configFlagDescription    = "configuration file overriding .ctxchat/config.yaml"
	verboseFlagDescription   = "enable debug logging"
	versionFlagDescription   = "display application version"

	warningFormat               = "Warning: %v\n"
	workingDirectoryErrorFormat = "unable to determine working directory: %w"
	workspaceErrorFormat        = "open workspace %s: %w"
	workspaceNotDirectoryFormat = "workspace %s is not a directory"
	configurationErrorFormat    = "load configuration: %w"
	ignorePatternsErrorFormat   = "load ignore patterns: %w"
	loggerErrorFormat           = "initialize verbose logger: %w"
)

// application carries the collaborators shared by every subcommand.
type application struct {
	logger    *zap.Logger
	copier    clipboard.Copier
	stdin     io.Reader
	options   rootOptions
	getwd     func() (string, error)
	newLogger func(verbose bool) (*zap.Logger, error)
}

// rootOptions stores the persistent flags.
type rootOptions struct {
	workspacePath string
	configPath    string
	verbose       bool
	showVersion   bool
}

// Execute runs the ctxchat application.
func Execute(logger *zap.Logger) error {
	app := &application{
		logger:    logger,
		copier:    clipboard.NewService(),
		stdin:     os.Stdin,
		getwd:     os.Getwd,
		newLogger: utils.NewApplicationLogger,
	}
	rootCommand := createRootCommand(app)
	rootCommand.SetArgs(normalizeBooleanFlagArguments(rootCommand, os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCommand.ExecuteContext(ctx)
}

// createRootCommand builds the root Cobra command.
func createRootCommand(app *application) *cobra.Command {
	if app.logger == nil {
		app.logger = zap.NewNop()
	}
	if app.getwd == nil {
		app.getwd = os.Getwd
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}

	rootCommand := &cobra.Command{
		Use:          rootUse,
		Short:        rootShortDescription,
		Long:         rootLongDescription,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			if app.options.showVersion {
				fmt.Fprintf(command.OutOrStdout(), versionTemplate, utils.GetApplicationVersion())
				os.Exit(0)
			}
			if app.options.verbose && app.newLogger != nil {
				verboseLogger, loggerErr := app.newLogger(true)
				if loggerErr != nil {
					return fmt.Errorf(loggerErrorFormat, loggerErr)
				}
				app.logger = verboseLogger
			}
			return nil
		},
	}
	flags := rootCommand.PersistentFlags()
	flags.StringVarP(&app.options.workspacePath, workspaceFlagName, workspaceFlagShort, defaultWorkspacePath, workspaceFlagDescription)
	flags.StringVar(&app.options.configPath, configFlagName, "", configFlagDescription)
	flags.BoolVar(&app.options.verbose, verboseFlagName, false, verboseFlagDescription)
	flags.BoolVar(&app.options.showVersion, versionFlagName, false, versionFlagDescription)

	rootCommand.AddCommand(
		createPolicyCommand(app),
		createGenerateCommand(app),
		createChatCommand(app),
		createRemoveCommand(app),
		createServeCommand(app),
		createInitCommand(app),
	)
	rootCommand.InitDefaultHelpCmd()
	rootCommand.InitDefaultCompletionCmd()
	return rootCommand
}

// workspaceSession is a fully wired workspace: configuration, policy store,
// assembler, relay client and the chat session on top of them.
type workspaceSession struct {
	root          string
	configuration config.ApplicationConfiguration
	persistence   *selection.FilePersistence
	store         *selection.Store
	fileSystem    workspace.FileSystem
	session       *chat.Session
}

// openWorkspace resolves the workspace root, loads configuration and persisted
// policies and wires the chat session. Flag overrides are applied to the
// context configuration before the assembler is built.
func (app *application) openWorkspace(command *cobra.Command, overrides contextFlags) (*workspaceSession, error) {
	root, rootErr := app.resolveWorkspaceRoot()
	if rootErr != nil {
		return nil, rootErr
	}

	configuration, configErr := config.LoadApplicationConfiguration(config.LoadOptions{
		WorkingDirectory: root,
		ExplicitFilePath: app.options.configPath,
	})
	if configErr != nil {
		return nil, fmt.Errorf(configurationErrorFormat, configErr)
	}
	overrides.apply(&configuration.Context)

	warningWriter := command.ErrOrStderr()
	fileSystem := workspace.NewOSFileSystem()
	persistence := selection.NewFilePersistence(root, fileSystem)
	warn := func(warning error) {
		fmt.Fprintf(warningWriter, warningFormat, warning)
	}
	store := selection.NewStore(selection.StoreOptions{
		Persistence: persistence,
		FileSystem:  fileSystem,
		Logger:      app.logger,
		Warn:        warn,
	})
	store.Load()

	ignorePatterns, ignoreErr := configuration.Context.IgnorePatterns(root, warn)
	if ignoreErr != nil {
		return nil, fmt.Errorf(ignorePatternsErrorFormat, ignoreErr)
	}

	var tokenCounter tokenizer.Counter
	var tokenModel string
	if configuration.Context.TokensEnabled() {
		createdCounter, resolvedModel, counterErr := tokenizer.NewCounter(tokenizer.Config{Model: configuration.Context.TokenModel()})
		if counterErr != nil {
			return nil, counterErr
		}
		tokenCounter = createdCounter
		tokenModel = resolvedModel
	}

	documentAssembler := assembler.New(assembler.Options{
		Policies:       store,
		FileSystem:     fileSystem,
		IgnorePatterns: ignorePatterns,
		IncludeGit:     configuration.Context.GitIncluded(),
		TokenCounter:   tokenCounter,
		TokenModel:     tokenModel,
		Logger:         app.logger,
	})
	client := relay.NewClient(relay.Config{
		Endpoint: configuration.Chat.Endpoint,
		APIKey:   configuration.Chat.APIKey,
		Model:    configuration.Chat.Model,
		Timeout:  configuration.Chat.Timeout,
		Logger:   app.logger,
	})
	session := chat.NewSession(chat.Options{
		Root:      root,
		Store:     store,
		Assembler: documentAssembler,
		Streamer:  client,
		Logger:    app.logger,
	})

	return &workspaceSession{
		root:          root,
		configuration: configuration,
		persistence:   persistence,
		store:         store,
		fileSystem:    fileSystem,
		session:       session,
	}, nil
}

func (app *application) resolveWorkspaceRoot() (string, error) {
	workspacePath := app.options.workspacePath
	if workspacePath == "" {
		workspacePath = defaultWorkspacePath
	}
	if !filepath.IsAbs(workspacePath) {
		workingDirectory, workingDirectoryErr := app.getwd()
		if workingDirectoryErr != nil {
			return "", fmt.Errorf(workingDirectoryErrorFormat, workingDirectoryErr)
		}
		workspacePath = filepath.Join(workingDirectory, workspacePath)
	}
	root := filepath.Clean(workspacePath)
	info, statErr := os.Stat(root)
	if statErr != nil {
		return "", fmt.Errorf(workspaceErrorFormat, root, statErr)
	}
	if !info.IsDir() {
		return "", fmt.Errorf(workspaceNotDirectoryFormat, root)
	}
	return root, nil
}

// resolveArgumentPath resolves a command line path against the process working
// directory, the way a shell user expects.
func (app *application) resolveArgumentPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	workingDirectory, workingDirectoryErr := app.getwd()
	if workingDirectoryErr != nil {
		return "", fmt.Errorf(workingDirectoryErrorFormat, workingDirectoryErr)
	}
	return filepath.Join(workingDirectory, path), nil
}

// displayPath renders path relative to the workspace root when possible.
func (ws *workspaceSession) displayPath(path string) string {
	return utils.RelativePathOrSelf(path, ws.root)
}
