package utils

// EmptyString represents a reusable empty string constant.
const EmptyString = ""

// ErrorLogFormat defines the formatting string for error log messages.
const ErrorLogFormat = "Error: %v"

const (
	// ApplicationName is used for directory and environment prefixes.
	ApplicationName = "ctxchat"
	// StateDirectoryName is the workspace-local hidden directory holding persisted state.
	StateDirectoryName = ".ctxchat"
	// StateFileName is the name of the persisted policy file inside StateDirectoryName.
	StateFileName = "state.json"
	// GlobalConfigDirectoryName is the directory below the user's home holding global configuration.
	GlobalConfigDirectoryName = ".ctxchat"
	// ConfigFileName is the configuration file name used globally and in a workspace.
	ConfigFileName = "config.yaml"
	// EnvironmentPrefix prefixes environment variable overrides.
	EnvironmentPrefix = "CTXCHAT"

	// LoggerInitializationFailedMessageFormat reports a logger construction failure.
	LoggerInitializationFailedMessageFormat = "failed to initialize logger: %w"
	// ApplicationExecutionFailedMessage prefixes a fatal command failure.
	ApplicationExecutionFailedMessage = "application execution failed"
)
