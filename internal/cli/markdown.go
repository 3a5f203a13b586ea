package cli

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
)

const (
	markdownWrapWidth           = 100
	errorMarkdownRendererFormat = "create markdown renderer: %w"
	errorMarkdownRenderFormat   = "render markdown: %w"
)

// renderMarkdown formats a document for the terminal. A fixed standard style
// is used so no terminal capability query is written to the output.
func renderMarkdown(markdown string, style string, width int) (string, error) {
	if style == "" {
		style = styles.DarkStyle
	}
	if width <= 0 {
		width = markdownWrapWidth
	}
	renderer, rendererErr := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if rendererErr != nil {
		return "", fmt.Errorf(errorMarkdownRendererFormat, rendererErr)
	}
	rendered, renderErr := renderer.Render(markdown)
	if renderErr != nil {
		return "", fmt.Errorf(errorMarkdownRenderFormat, renderErr)
	}
	return rendered, nil
}
