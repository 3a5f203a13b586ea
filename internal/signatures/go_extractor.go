package signatures

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	goFunctionPattern = regexp.MustCompile(`^func\s`)
	goTypePattern     = regexp.MustCompile(`^type\s+[A-Za-z_][A-Za-z0-9_]*`)
)

type goExtractor struct{}

func newGoExtractor() familyExtractor {
	return &goExtractor{}
}

func (extractor *goExtractor) SupportedExtensions() []string {
	return []string{goFileExtension}
}

// ExtractSignatures returns top-level func and type declarations without their bodies.
func (extractor *goExtractor) ExtractSignatures(source string) []string {
	declarations := make([]string, 0)
	for _, line := range strings.Split(source, lineSeparator) {
		if !goFunctionPattern.MatchString(line) && !goTypePattern.MatchString(line) {
			continue
		}
		declaration, _, _ := strings.Cut(line, " {")
		declarations = append(declarations, strings.TrimRightFunc(declaration, unicode.IsSpace))
	}
	return declarations
}
