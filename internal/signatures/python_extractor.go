package signatures

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	pythonClassPattern    = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_][A-Za-z0-9_]*)`)
	pythonFunctionPattern = regexp.MustCompile(`^\s*(?:async\s+)?def\s+[A-Za-z_][A-Za-z0-9_]*\s*\(`)
)

type pythonExtractor struct{}

func newPythonExtractor() familyExtractor {
	return &pythonExtractor{}
}

func (extractor *pythonExtractor) SupportedExtensions() []string {
	return []string{pythonFileExtension, pythonStubFileExtension}
}

// ExtractSignatures keeps indentation so methods stay visibly nested under their class.
func (extractor *pythonExtractor) ExtractSignatures(source string) []string {
	declarations := make([]string, 0)
	for _, line := range strings.Split(source, lineSeparator) {
		if classMatch := pythonClassPattern.FindStringSubmatch(line); classMatch != nil {
			declarations = append(declarations, classMatch[1]+"class "+classMatch[2]+": ...")
			continue
		}
		if pythonFunctionPattern.MatchString(line) {
			declaration := strings.TrimRightFunc(line, unicode.IsSpace)
			declaration = strings.TrimSuffix(declaration, ":")
			declarations = append(declarations, declaration)
		}
	}
	return declarations
}
