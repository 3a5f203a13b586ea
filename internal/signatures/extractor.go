// Package signatures extracts declaration lines from source files so a file can
// be summarised without its bodies. Extraction is textual and per extension family.
package signatures

import (
	"path/filepath"
	"strings"
)

type familyExtractor interface {
	SupportedExtensions() []string
	ExtractSignatures(source string) []string
}

// Extractor routes files to the extractor registered for their extension.
type Extractor struct {
	extensionToExtractor map[string]familyExtractor
}

// NewExtractor registers the Python, JavaScript and Go families.
func NewExtractor() *Extractor {
	extensionToExtractor := map[string]familyExtractor{}
	registerExtractor(extensionToExtractor, newPythonExtractor())
	registerExtractor(extensionToExtractor, newJavaScriptExtractor())
	registerExtractor(extensionToExtractor, newGoExtractor())
	return &Extractor{extensionToExtractor: extensionToExtractor}
}

func registerExtractor(extensionToExtractor map[string]familyExtractor, extractor familyExtractor) {
	for _, extension := range extractor.SupportedExtensions() {
		extensionToExtractor[strings.ToLower(extension)] = extractor
	}
}

// Supports reports whether filePath belongs to a registered family.
func (extractor *Extractor) Supports(filePath string) bool {
	_, found := extractor.extensionToExtractor[strings.ToLower(filepath.Ext(filePath))]
	return found
}

// Extract returns the newline-joined declarations of fileContent. It never
// returns an empty string: unsupported files and files without declarations
// yield fixed placeholders.
func (extractor *Extractor) Extract(filePath string, fileContent []byte) string {
	family, found := extractor.extensionToExtractor[strings.ToLower(filepath.Ext(filePath))]
	if !found {
		return UnsupportedPlaceholder
	}
	normalized := strings.ReplaceAll(string(fileContent), "\r\n", lineSeparator)
	declarations := family.ExtractSignatures(normalized)
	if len(declarations) == 0 {
		return EmptyPlaceholder
	}
	return strings.Join(declarations, lineSeparator)
}
