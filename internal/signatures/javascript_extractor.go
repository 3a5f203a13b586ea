package signatures

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	javaScriptFunctionPattern = regexp.MustCompile(`(?m)^[ \t]*((?:export\s+(?:default\s+)?)?(?:async\s+)?function\s*\*?\s*[\w$]*\s*\([^)]*\)(?:\s*:\s*[^{;\n]+)?)`)
	javaScriptClassPattern    = regexp.MustCompile(`(?m)^[ \t]*((?:export\s+(?:default\s+)?)?(?:abstract\s+)?class\s+[\w$]+(?:\s+extends\s+[\w$.]+)?(?:\s+implements\s+[\w$.,\s]+?)?)\s*\{`)
	javaScriptArrowPattern    = regexp.MustCompile(`(?m)^[ \t]*((?:export\s+)?(?:const|let|var)\s+[\w$]+(?:\s*:\s*[^=\n]+)?\s*=\s*(?:async\s+)?(?:\([^)]*\)|[\w$]+)(?:\s*:\s*[^=\n]+)?\s*=>)`)
)

type javaScriptExtractor struct{}

func newJavaScriptExtractor() familyExtractor {
	return &javaScriptExtractor{}
}

func (extractor *javaScriptExtractor) SupportedExtensions() []string {
	return []string{
		javaScriptFileExtension,
		javaScriptModuleExt,
		javaScriptCommonJSExt,
		javaScriptReactExtension,
		typeScriptFileExtension,
		typeScriptReactExtension,
	}
}

type javaScriptMatch struct {
	offset      int
	declaration string
}

// ExtractSignatures runs the function, class and arrow patterns over the whole
// text and returns the matches in source order.
func (extractor *javaScriptExtractor) ExtractSignatures(source string) []string {
	matches := make([]javaScriptMatch, 0)
	for _, pattern := range []*regexp.Regexp{javaScriptFunctionPattern, javaScriptClassPattern, javaScriptArrowPattern} {
		for _, location := range pattern.FindAllStringSubmatchIndex(source, -1) {
			declaration := normalizeJavaScriptDeclaration(source[location[2]:location[3]])
			if declaration == "" {
				continue
			}
			matches = append(matches, javaScriptMatch{offset: location[2], declaration: declaration})
		}
	}
	sort.SliceStable(matches, func(left, right int) bool {
		return matches[left].offset < matches[right].offset
	})
	declarations := make([]string, 0, len(matches))
	for _, match := range matches {
		declarations = append(declarations, match.declaration)
	}
	return declarations
}

// normalizeJavaScriptDeclaration collapses the whitespace of a match that may
// span several lines. The patterns stop before any "{" body or "=>" expression.
func normalizeJavaScriptDeclaration(declaration string) string {
	return strings.Join(strings.Fields(strings.TrimRightFunc(declaration, unicode.IsSpace)), " ")
}
