// Package assembler builds the Markdown context document from a workspace root
// and the inclusion policies recorded for it.
package assembler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/signatures"
	"github.com/temirov/ctxchat/internal/tokenizer"
	"github.com/temirov/ctxchat/internal/types"
	"github.com/temirov/ctxchat/internal/utils"
	"github.com/temirov/ctxchat/internal/workspace"
)

const (
	errorRootStatFormat     = "inspecting root %s: %w"
	errorRootNotDirFormat   = "root %s is not a directory"
	logTokenCountFailed     = "failed to count document tokens"
	logDocumentAssembled    = "assembled context document"
	logFieldFiles           = "files"
	logFieldTokens          = "tokens"
	directoryPatternSuffix  = "/"
)

// PolicyReader resolves the effective inclusion policy of a path.
type PolicyReader interface {
	EffectivePolicy(path string) types.InclusionPolicy
}

// SelectionIndex is implemented by policy readers that can tell whether a
// directory holds explicitly selected files. Ignored directories are only
// descended when it reports a selection beneath them.
type SelectionIndex interface {
	HasSelectionBeneath(directory string) bool
}

// SignatureExtractor reduces source text to its declaration lines.
type SignatureExtractor interface {
	Extract(filePath string, content []byte) string
}

// Options configures an Assembler. Policies is required; the rest have defaults.
// The .git directory is skipped unless IncludeGit is set.
type Options struct {
	Policies       PolicyReader
	Extractor      SignatureExtractor
	FileSystem     workspace.FileSystem
	IgnorePatterns []string
	IncludeGit     bool
	TokenCounter   tokenizer.Counter
	TokenModel     string
	Logger         *zap.Logger
}

// Assembler renders context documents. It holds no per-document state and is
// safe for concurrent use when its collaborators are.
type Assembler struct {
	policies       PolicyReader
	extractor      SignatureExtractor
	fileSystem     workspace.FileSystem
	ignorePatterns []string
	reserved       []string
	tokenCounter   tokenizer.Counter
	tokenModel     string
	logger         *zap.Logger
}

// New constructs an Assembler.
func New(options Options) *Assembler {
	assembler := &Assembler{
		policies:       options.Policies,
		extractor:      options.Extractor,
		fileSystem:     options.FileSystem,
		ignorePatterns: utils.DeduplicatePatterns(options.IgnorePatterns),
		reserved:       ReservedPatterns(options.IncludeGit),
		tokenCounter:   options.TokenCounter,
		tokenModel:     options.TokenModel,
		logger:         options.Logger,
	}
	if assembler.fileSystem == nil {
		assembler.fileSystem = workspace.NewOSFileSystem()
	}
	if assembler.extractor == nil {
		assembler.extractor = signatures.NewExtractor()
	}
	if assembler.logger == nil {
		assembler.logger = zap.NewNop()
	}
	return assembler
}

// ReservedPatterns matches the state directory, and the .git directory unless
// includeGit is set. Reserved paths are skipped whatever their policy.
func ReservedPatterns(includeGit bool) []string {
	patterns := []string{utils.StateDirectoryName + directoryPatternSuffix}
	if !includeGit {
		patterns = append(patterns, utils.GitDirectoryName+directoryPatternSuffix)
	}
	return patterns
}

// Assemble walks root, renders the annotated tree and the content sections and
// joins them under the custom instructions.
func (assembler *Assembler) Assemble(ctx context.Context, root string, customPrompt string) (types.ContextDocument, error) {
	absoluteRoot, absErr := filepath.Abs(root)
	if absErr != nil {
		return types.ContextDocument{}, fmt.Errorf(errorRootStatFormat, root, absErr)
	}
	absoluteRoot = filepath.Clean(absoluteRoot)

	rootInfo, statErr := assembler.fileSystem.Stat(absoluteRoot)
	if statErr != nil {
		return types.ContextDocument{}, fmt.Errorf(errorRootStatFormat, absoluteRoot, statErr)
	}
	if !rootInfo.IsDir() {
		return types.ContextDocument{}, fmt.Errorf(errorRootNotDirFormat, absoluteRoot)
	}

	files, walkErr := assembler.walk(ctx, absoluteRoot)
	if walkErr != nil {
		return types.ContextDocument{}, walkErr
	}

	treeText := renderTree(assembler.buildTree(absoluteRoot, files))
	sections, documentFiles := assembler.renderSections(ctx, files)
	markdown := composeDocument(customPrompt, treeText, sections)

	document := types.ContextDocument{
		Root:     absoluteRoot,
		Markdown: markdown,
		Files:    documentFiles,
	}
	if assembler.tokenCounter != nil {
		tokens, countErr := tokenizer.CountText(assembler.tokenCounter, markdown)
		if countErr != nil {
			assembler.logger.Warn(logTokenCountFailed, zap.Error(countErr))
		} else {
			document.Tokens = tokens
			document.Model = assembler.tokenModel
		}
	}

	assembler.logger.Debug(logDocumentAssembled,
		zap.String(logFieldPath, absoluteRoot),
		zap.Int(logFieldFiles, len(documentFiles)),
		zap.Int(logFieldTokens, document.Tokens),
	)
	return document, nil
}

func composeDocument(customPrompt string, treeText string, sections []string) string {
	instructions := strings.TrimSpace(customPrompt)
	if instructions == "" {
		instructions = noInstructionsPlaceholder
	}
	contents := noContentPlaceholder
	if len(sections) > 0 {
		contents = strings.Join(sections, sectionSeparator)
	}

	var builder strings.Builder
	builder.WriteString(instructionsHeading)
	builder.WriteString("\n\n")
	builder.WriteString(instructions)
	builder.WriteString("\n\n")
	builder.WriteString(horizontalRule)
	builder.WriteString("\n\n")
	builder.WriteString(treeHeading)
	builder.WriteString("\n\n")
	builder.WriteString(fenceBlock(types.DefaultFenceLanguage, treeText))
	builder.WriteString("\n\n")
	builder.WriteString(horizontalRule)
	builder.WriteString("\n\n")
	builder.WriteString(contentsHeading)
	builder.WriteString("\n\n")
	builder.WriteString(contents)
	builder.WriteString("\n")
	return builder.String()
}
