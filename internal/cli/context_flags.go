package cli

import (
	"github.com/spf13/cobra"

	"github.com/temirov/ctxchat/internal/config"
	"github.com/temirov/ctxchat/internal/utils"
)

const (
	exclusionFlagName   = "e"
	noGitignoreFlagName = "no-gitignore"
	noIgnoreFlagName    = "no-ignore"
	includeGitFlagName  = "git"
	promptFlagName      = "prompt"
	tokensFlagName      = "tokens"
	modelFlagName       = "model"

	exclusionFlagDescription        = "exclude path pattern"
	disableGitignoreFlagDescription = "do not use .gitignore"
	disableIgnoreFlagDescription    = "do not use .ignore"
	includeGitFlagDescription       = "include git directory"
	promptFlagDescription           = "custom instructions placed at the top of the document"
	tokensFlagDescription           = "count document tokens"
	modelFlagDescription            = "tokenizer model to use for token counting"
)

// contextFlags are the per-invocation overrides of the context configuration.
type contextFlags struct {
	exclusionPatterns []string
	disableGitignore  bool
	disableIgnoreFile bool
	includeGit        *bool
	prompt            string
	tokens            *bool
	model             string
}

// addContextFlags registers the flags that shape the assembled document.
func addContextFlags(command *cobra.Command, options *contextFlags) {
	flags := command.Flags()
	flags.StringArrayVarP(&options.exclusionPatterns, exclusionFlagName, exclusionFlagName, nil, exclusionFlagDescription)
	flags.BoolVar(&options.disableGitignore, noGitignoreFlagName, false, disableGitignoreFlagDescription)
	flags.BoolVar(&options.disableIgnoreFile, noIgnoreFlagName, false, disableIgnoreFlagDescription)
	registerOverrideFlag(flags, &options.includeGit, includeGitFlagName, includeGitFlagDescription)
	flags.StringVar(&options.prompt, promptFlagName, "", promptFlagDescription)
	registerOverrideFlag(flags, &options.tokens, tokensFlagName, tokensFlagDescription)
	flags.StringVar(&options.model, modelFlagName, "", modelFlagDescription)
}

func (options contextFlags) apply(target *config.ContextConfiguration) {
	if target == nil {
		return
	}
	if len(options.exclusionPatterns) > 0 {
		target.Paths.Exclude = utils.DeduplicatePatterns(append(target.Paths.Exclude, options.exclusionPatterns...))
	}
	if options.disableGitignore {
		disabled := false
		target.Paths.UseGitignore = &disabled
	}
	if options.disableIgnoreFile {
		disabled := false
		target.Paths.UseIgnoreFile = &disabled
	}
	if options.includeGit != nil {
		target.Paths.IncludeGit = options.includeGit
	}
	if options.prompt != "" {
		target.Prompt = options.prompt
	}
	if options.tokens != nil {
		target.Tokens.Enabled = options.tokens
	}
	if options.model != "" {
		target.Tokens.Model = options.model
	}
}
