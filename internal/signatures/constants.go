package signatures

const (
	// UnsupportedPlaceholder stands in for files whose extension has no extractor.
	UnsupportedPlaceholder = "// Signature extraction not supported for this file type."
	// EmptyPlaceholder stands in when an extractor finds no declarations.
	EmptyPlaceholder = "// No signatures found."

	pythonFileExtension      = ".py"
	pythonStubFileExtension  = ".pyi"
	javaScriptFileExtension  = ".js"
	javaScriptModuleExt      = ".mjs"
	javaScriptCommonJSExt    = ".cjs"
	javaScriptReactExtension = ".jsx"
	typeScriptFileExtension  = ".ts"
	typeScriptReactExtension = ".tsx"
	goFileExtension          = ".go"

	lineSeparator = "\n"
)
