package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/temirov/ctxchat/internal/utils"
)

const (
	chatEndpointKey = "chat.endpoint"
	chatAPIKeyKey   = "chat.api_key"
	chatModelKey    = "chat.model"
	apiKeyEnvSuffix = "API_KEY"
	endpointSuffix  = "ENDPOINT"
	modelEnvSuffix  = "MODEL"
	envSeparator    = "_"

	defaultTokenModel = "gpt-4o"

	errorWorkingDirectoryFormat = "determine working directory: %w"
	errorResolvePathFormat      = "resolve configuration path %s: %w"
	errorStatFormat             = "stat configuration %s: %w"
	errorIsDirectoryFormat      = "configuration path %s is a directory"
	errorReadFormat             = "read configuration from %s: %w"
	errorDecodeFormat           = "decode configuration from %s: %w"
)

// LoadOptions controls how application configuration is discovered.
type LoadOptions struct {
	WorkingDirectory string
	ExplicitFilePath string
}

// ApplicationConfiguration holds the settings of every command.
type ApplicationConfiguration struct {
	Chat    ChatConfiguration    `mapstructure:"chat"`
	Context ContextConfiguration `mapstructure:"context"`
	Server  ServerConfiguration  `mapstructure:"server"`
}

// ChatConfiguration points the relay at a chat-completion server.
type ChatConfiguration struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ContextConfiguration defines defaults for context generation.
type ContextConfiguration struct {
	Prompt    string             `mapstructure:"prompt"`
	Tokens    TokenConfiguration `mapstructure:"tokens"`
	Paths     PathConfiguration  `mapstructure:"paths"`
	Clipboard *bool              `mapstructure:"clipboard"`
}

// TokenConfiguration controls token counting defaults.
type TokenConfiguration struct {
	Enabled *bool  `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// PathConfiguration configures exclusion rules for the context walk.
type PathConfiguration struct {
	Exclude       []string `mapstructure:"exclude"`
	UseGitignore  *bool    `mapstructure:"use_gitignore"`
	UseIgnoreFile *bool    `mapstructure:"use_ignore"`
	IncludeGit    *bool    `mapstructure:"include_git"`
}

// ServerConfiguration configures the local HTTP API.
type ServerConfiguration struct {
	Address string `mapstructure:"address"`
}

// LoadApplicationConfiguration loads the global file, overlays the workspace
// file (or the explicit one) and finally the CTXCHAT_* environment variables.
func LoadApplicationConfiguration(options LoadOptions) (ApplicationConfiguration, error) {
	workingDirectory := options.WorkingDirectory
	if workingDirectory == "" {
		currentDirectory, err := os.Getwd()
		if err != nil {
			return ApplicationConfiguration{}, fmt.Errorf(errorWorkingDirectoryFormat, err)
		}
		workingDirectory = currentDirectory
	}

	var merged ApplicationConfiguration

	if homeDirectory, err := os.UserHomeDir(); err == nil && homeDirectory != "" {
		globalPath := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName)
		globalConfig, loadErr := loadConfigurationFromPath(globalPath)
		if loadErr != nil {
			return ApplicationConfiguration{}, loadErr
		}
		merged = merged.Merge(globalConfig)
	}

	localPath, resolveErr := resolveLocalConfigPath(workingDirectory, options.ExplicitFilePath)
	if resolveErr != nil {
		return ApplicationConfiguration{}, resolveErr
	}
	if localPath != "" {
		localConfig, loadErr := loadConfigurationFromPath(localPath)
		if loadErr != nil {
			return ApplicationConfiguration{}, loadErr
		}
		merged = merged.Merge(localConfig)
	}

	merged = merged.Merge(loadEnvironmentOverrides())
	merged.Context.Paths.Exclude = utils.DeduplicatePatterns(merged.Context.Paths.Exclude)

	return merged, nil
}

// LocalConfigPath returns the workspace configuration file location.
func LocalConfigPath(workingDirectory string) string {
	return filepath.Join(workingDirectory, utils.StateDirectoryName, utils.ConfigFileName)
}

func resolveLocalConfigPath(workingDirectory, explicitPath string) (string, error) {
	if explicitPath != "" {
		if filepath.IsAbs(explicitPath) {
			return explicitPath, nil
		}
		if workingDirectory == "" {
			absolute, err := filepath.Abs(explicitPath)
			if err != nil {
				return "", fmt.Errorf(errorResolvePathFormat, explicitPath, err)
			}
			return absolute, nil
		}
		return filepath.Join(workingDirectory, explicitPath), nil
	}
	if workingDirectory == "" {
		return "", nil
	}
	return LocalConfigPath(workingDirectory), nil
}

func loadConfigurationFromPath(path string) (ApplicationConfiguration, error) {
	if path == "" {
		return ApplicationConfiguration{}, nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return ApplicationConfiguration{}, nil
		}
		return ApplicationConfiguration{}, fmt.Errorf(errorStatFormat, path, statErr)
	}
	if info.IsDir() {
		return ApplicationConfiguration{}, fmt.Errorf(errorIsDirectoryFormat, path)
	}

	reader := viper.New()
	reader.SetConfigFile(path)
	if readErr := reader.ReadInConfig(); readErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf(errorReadFormat, path, readErr)
	}
	var config ApplicationConfiguration
	if decodeErr := reader.Unmarshal(&config); decodeErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf(errorDecodeFormat, path, decodeErr)
	}
	return config, nil
}

// loadEnvironmentOverrides reads CTXCHAT_ENDPOINT, CTXCHAT_API_KEY and CTXCHAT_MODEL.
func loadEnvironmentOverrides() ApplicationConfiguration {
	environment := viper.New()
	environment.SetEnvPrefix(utils.EnvironmentPrefix)
	_ = environment.BindEnv(chatEndpointKey, utils.EnvironmentPrefix+envSeparator+endpointSuffix)
	_ = environment.BindEnv(chatAPIKeyKey, utils.EnvironmentPrefix+envSeparator+apiKeyEnvSuffix)
	_ = environment.BindEnv(chatModelKey, utils.EnvironmentPrefix+envSeparator+modelEnvSuffix)
	return ApplicationConfiguration{
		Chat: ChatConfiguration{
			Endpoint: environment.GetString(chatEndpointKey),
			APIKey:   environment.GetString(chatAPIKeyKey),
			Model:    environment.GetString(chatModelKey),
		},
	}
}

// Merge overlays override onto the receiver returning the combined configuration.
func (config ApplicationConfiguration) Merge(override ApplicationConfiguration) ApplicationConfiguration {
	result := config
	result.Chat = result.Chat.merge(override.Chat)
	result.Context = result.Context.merge(override.Context)
	if override.Server.Address != "" {
		result.Server.Address = override.Server.Address
	}
	return result
}

func (config ChatConfiguration) merge(override ChatConfiguration) ChatConfiguration {
	result := config
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.APIKey != "" {
		result.APIKey = override.APIKey
	}
	if override.Model != "" {
		result.Model = override.Model
	}
	if override.Timeout > 0 {
		result.Timeout = override.Timeout
	}
	return result
}

func (config ContextConfiguration) merge(override ContextConfiguration) ContextConfiguration {
	result := config
	if override.Prompt != "" {
		result.Prompt = override.Prompt
	}
	result.Tokens = result.Tokens.merge(override.Tokens)
	result.Paths = result.Paths.merge(override.Paths)
	if override.Clipboard != nil {
		result.Clipboard = cloneBool(override.Clipboard)
	}
	return result
}

func (config TokenConfiguration) merge(override TokenConfiguration) TokenConfiguration {
	result := config
	if override.Enabled != nil {
		result.Enabled = cloneBool(override.Enabled)
	}
	if override.Model != "" {
		result.Model = override.Model
	}
	return result
}

func (config PathConfiguration) merge(override PathConfiguration) PathConfiguration {
	result := config
	if len(override.Exclude) > 0 {
		result.Exclude = append([]string{}, utils.DeduplicatePatterns(override.Exclude)...)
	}
	if override.UseGitignore != nil {
		result.UseGitignore = cloneBool(override.UseGitignore)
	}
	if override.UseIgnoreFile != nil {
		result.UseIgnoreFile = cloneBool(override.UseIgnoreFile)
	}
	if override.IncludeGit != nil {
		result.IncludeGit = cloneBool(override.IncludeGit)
	}
	return result
}

// TokensEnabled reports whether documents get a token count. Defaults to false.
func (config ContextConfiguration) TokensEnabled() bool {
	return boolValue(config.Tokens.Enabled, false)
}

// TokenModel returns the configured tokenizer model.
func (config ContextConfiguration) TokenModel() string {
	if config.Tokens.Model == "" {
		return defaultTokenModel
	}
	return config.Tokens.Model
}

// GitIncluded reports whether the .git directory is walked. Defaults to false.
func (config ContextConfiguration) GitIncluded() bool {
	return boolValue(config.Paths.IncludeGit, false)
}

// ClipboardEnabled reports whether generated documents are copied. Defaults to false.
func (config ContextConfiguration) ClipboardEnabled() bool {
	return boolValue(config.Clipboard, false)
}

// IgnorePatterns loads the ignore rules for root according to the path settings.
// .gitignore and .ignore files are honoured unless disabled; .git is skipped unless included.
func (config ContextConfiguration) IgnorePatterns(root string, warn func(error)) ([]string, error) {
	return LoadRecursiveIgnorePatterns(
		root,
		config.Paths.Exclude,
		boolValue(config.Paths.UseGitignore, true),
		boolValue(config.Paths.UseIgnoreFile, true),
		config.GitIncluded(),
		warn,
	)
}

func boolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func cloneBool(value *bool) *bool {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
