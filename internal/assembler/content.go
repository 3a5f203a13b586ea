package assembler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/types"
	"github.com/temirov/ctxchat/internal/utils"
)

const (
	instructionsHeading       = "## Instructions"
	treeHeading               = "## File Tree"
	contentsHeading           = "## File Contents"
	horizontalRule            = "---"
	sectionSeparator          = "\n\n"
	sectionHeadingFormat      = "### %s"
	noInstructionsPlaceholder = "No custom instructions provided."
	noContentPlaceholder      = "No files selected for content inclusion."
	binaryPlaceholderFormat   = "(binary content omitted, %s)"
	readErrorFormat           = "Failed to read file: %v"
	errorFenceLanguage        = "error"
	minimumFenceLength        = 3
	logReadFailed             = "failed to read file for context"
)

// renderSections produces one section per file whose effective policy
// contributes content, in root-relative path order.
func (assembler *Assembler) renderSections(ctx context.Context, files []walkedFile) ([]string, []types.DocumentFile) {
	var sections []string
	var documentFiles []types.DocumentFile
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		if !file.policy.ContributesContent() {
			continue
		}
		sections = append(sections, assembler.renderSection(file))
		documentFiles = append(documentFiles, types.DocumentFile{
			Path:         file.path,
			RelativePath: file.relativePath,
			Policy:       file.policy,
		})
	}
	return sections, documentFiles
}

func (assembler *Assembler) renderSection(file walkedFile) string {
	heading := fmt.Sprintf(sectionHeadingFormat, file.relativePath)

	content, readErr := assembler.fileSystem.ReadFile(file.path)
	if readErr != nil {
		assembler.logger.Warn(logReadFailed, zap.String(logFieldPath, file.path), zap.Error(readErr))
		return heading + "\n\n" + fenceBlock(errorFenceLanguage, fmt.Sprintf(readErrorFormat, readErr))
	}

	language := utils.FenceLanguage(file.relativePath, types.DefaultFenceLanguage)
	if utils.IsBinary(content) {
		return heading + "\n\n" + fenceBlock(language, fmt.Sprintf(binaryPlaceholderFormat, formatByteSize(len(content))))
	}

	body := string(content)
	if file.policy == types.PolicySignaturesOnly {
		body = assembler.extractor.Extract(file.path, content)
	}
	return heading + "\n\n" + fenceBlock(language, body)
}

// fenceBlock wraps body in a backtick fence longer than any backtick run inside it.
func fenceBlock(language string, body string) string {
	fence := strings.Repeat("`", fenceLength(body))
	trimmed := strings.TrimRight(body, "\n")
	return fence + language + "\n" + trimmed + "\n" + fence
}

func fenceLength(body string) int {
	longestRun := 0
	currentRun := 0
	for _, character := range body {
		if character == '`' {
			currentRun++
			if currentRun > longestRun {
				longestRun = currentRun
			}
			continue
		}
		currentRun = 0
	}
	if longestRun >= minimumFenceLength {
		return longestRun + 1
	}
	return minimumFenceLength
}

var byteSizeUnits = [...]string{"b", "kb", "mb", "gb"}

// formatByteSize renders size with a lower-case binary unit, keeping one
// decimal below ten units: 512b, 1.5kb, 12mb.
func formatByteSize(size int) string {
	if size < 1024 {
		return fmt.Sprintf("%db", size)
	}
	scaled := float64(size)
	unit := 0
	for scaled >= 1024 && unit < len(byteSizeUnits)-1 {
		scaled /= 1024
		unit++
	}
	precision := 0
	if scaled < 10 && scaled != float64(int(scaled)) {
		precision = 1
	}
	return strings.TrimSuffix(fmt.Sprintf("%.*f", precision, scaled), ".0") + byteSizeUnits[unit]
}
