package assembler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/temirov/ctxchat/internal/assembler"
	"github.com/temirov/ctxchat/internal/selection"
	"github.com/temirov/ctxchat/internal/types"
	"github.com/temirov/ctxchat/internal/workspace"
)

const testPrompt = "Explain the code."

type failingReadFileSystem struct {
	workspace.OSFileSystem
	failingPath string
}

func (fileSystem failingReadFileSystem) ReadFile(path string) ([]byte, error) {
	if path == fileSystem.failingPath {
		return nil, errors.New("permission denied")
	}
	return fileSystem.OSFileSystem.ReadFile(path)
}

type fixedCounter struct{}

func (fixedCounter) Name() string { return "fixed" }

func (fixedCounter) CountString(input string) (int, error) { return 42, nil }

func writeFiles(testingInstance *testing.T, root string, files map[string]string) {
	testingInstance.Helper()
	for relativePath, content := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(relativePath))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			testingInstance.Fatalf("mkdir %s: %v", fullPath, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			testingInstance.Fatalf("write %s: %v", fullPath, err)
		}
	}
}

func assemble(testingInstance *testing.T, options assembler.Options, root string, prompt string) types.ContextDocument {
	testingInstance.Helper()
	document, err := assembler.New(options).Assemble(context.Background(), root, prompt)
	if err != nil {
		testingInstance.Fatalf("Assemble: %v", err)
	}
	return document
}

func TestAssembleRendersTreeAndSections(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{
		"a.py":   "def f(x):\n    return x\n",
		"b/c.js": "function g(a, b) {\n  return a + b;\n}\n",
	})
	store := selection.NewStore(selection.StoreOptions{})
	store.Set(filepath.Join(root, "a.py"), types.PolicyFullContent)
	store.Set(filepath.Join(root, "b", "c.js"), types.PolicySignaturesOnly)

	document := assemble(testingInstance, assembler.Options{Policies: store}, root, testPrompt)

	expected := strings.Join([]string{
		"## Instructions",
		"",
		testPrompt,
		"",
		"---",
		"",
		"## File Tree",
		"",
		"```text",
		"📁 " + filepath.Base(root) + "/",
		"├─ 📁 b/",
		"│  └─ 📄 c.js [S]",
		"└─ 📄 a.py [+]",
		"```",
		"",
		"---",
		"",
		"## File Contents",
		"",
		"### a.py",
		"",
		"```py",
		"def f(x):",
		"    return x",
		"```",
		"",
		"### b/c.js",
		"",
		"```js",
		"function g(a, b)",
		"```",
		"",
	}, "\n")
	if document.Markdown != expected {
		testingInstance.Fatalf("unexpected document:\n%s\nwant:\n%s", document.Markdown, expected)
	}

	if len(document.Files) != 2 {
		testingInstance.Fatalf("expected 2 document files, got %d", len(document.Files))
	}
	if document.Files[0].RelativePath != "a.py" || document.Files[0].Policy != types.PolicyFullContent {
		testingInstance.Fatalf("unexpected first file %+v", document.Files[0])
	}
	if document.Files[1].RelativePath != "b/c.js" || document.Files[1].Policy != types.PolicySignaturesOnly {
		testingInstance.Fatalf("unexpected second file %+v", document.Files[1])
	}
}

func TestAssembleOmitsExcludedSubtrees(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{
		"keep.txt":              "keep",
		"vendor/lib.go":         "package lib",
		"vendor/deep/nested.go": "package deep",
		"secret.env":            "TOKEN=1",
	})
	store := selection.NewStore(selection.StoreOptions{})
	store.Set(filepath.Join(root, "vendor"), types.PolicyExcluded)
	store.Set(filepath.Join(root, "vendor", "lib.go"), types.PolicyFullContent)
	store.Set(filepath.Join(root, "secret.env"), types.PolicyExcluded)
	store.Set(filepath.Join(root, "keep.txt"), types.PolicyFullContent)

	document := assemble(testingInstance, assembler.Options{Policies: store}, root, "")

	for _, forbidden := range []string{"vendor", "lib.go", "nested.go", "secret.env", "TOKEN"} {
		if strings.Contains(document.Markdown, forbidden) {
			testingInstance.Fatalf("document should not mention %q:\n%s", forbidden, document.Markdown)
		}
	}
	if !strings.Contains(document.Markdown, "└─ 📄 keep.txt [+]") {
		testingInstance.Fatalf("expected keep.txt in tree:\n%s", document.Markdown)
	}
	if len(document.Files) != 1 || document.Files[0].RelativePath != "keep.txt" {
		testingInstance.Fatalf("unexpected files %+v", document.Files)
	}
}

func TestAssemblePlaceholders(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{"notes.md": "hello"})
	store := selection.NewStore(selection.StoreOptions{})

	document := assemble(testingInstance, assembler.Options{Policies: store}, root, "   ")

	for _, expected := range []string{
		"No custom instructions provided.",
		"No files selected for content inclusion.",
		"└─ 📄 notes.md\n",
	} {
		if !strings.Contains(document.Markdown, expected) {
			testingInstance.Fatalf("expected %q in:\n%s", expected, document.Markdown)
		}
	}
	if len(document.Files) != 0 {
		testingInstance.Fatalf("tree-only files must not produce sections, got %+v", document.Files)
	}
}

func TestAssembleIgnoresStateAndGitDirectories(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{
		".git/HEAD":           "ref: main",
		".ctxchat/state.json": "[]",
		"build/output.bin":    "x",
		"src/main.go":         "package main",
	})
	store := selection.NewStore(selection.StoreOptions{})

	document := assemble(testingInstance, assembler.Options{Policies: store, IgnorePatterns: []string{"build/"}}, root, "")

	for _, forbidden := range []string{".git", "HEAD", ".ctxchat", "state.json", "build", "output.bin"} {
		if strings.Contains(document.Markdown, forbidden) {
			testingInstance.Fatalf("document should not mention %q:\n%s", forbidden, document.Markdown)
		}
	}
	if !strings.Contains(document.Markdown, "main.go") {
		testingInstance.Fatalf("expected src/main.go in tree:\n%s", document.Markdown)
	}
}

func TestAssembleRendersReadFailureAndBinaryPlaceholders(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{
		"locked.txt": "hidden",
		"image.png":  string([]byte{0x89, 0x50, 0x00, 0x01}),
	})
	lockedPath := filepath.Join(root, "locked.txt")
	store := selection.NewStore(selection.StoreOptions{})
	store.Set(lockedPath, types.PolicyFullContent)
	store.Set(filepath.Join(root, "image.png"), types.PolicyFullContent)

	fileSystem := failingReadFileSystem{failingPath: lockedPath}
	document := assemble(testingInstance, assembler.Options{Policies: store, FileSystem: fileSystem}, root, "")

	if !strings.Contains(document.Markdown, "### locked.txt\n\n```error\nFailed to read file: permission denied\n```") {
		testingInstance.Fatalf("expected error fence:\n%s", document.Markdown)
	}
	if !strings.Contains(document.Markdown, "### image.png\n\n```png\n(binary content omitted, 4b)\n```") {
		testingInstance.Fatalf("expected binary placeholder:\n%s", document.Markdown)
	}
	if len(document.Files) != 2 {
		testingInstance.Fatalf("expected both files listed, got %+v", document.Files)
	}
}

func TestAssembleLengthensFenceAroundBackticks(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{"README.md": "Example:\n```go\nfmt.Println()\n```\n"})
	store := selection.NewStore(selection.StoreOptions{})
	store.Set(filepath.Join(root, "README.md"), types.PolicyFullContent)

	document := assemble(testingInstance, assembler.Options{Policies: store}, root, "")

	if !strings.Contains(document.Markdown, "````md\nExample:\n```go\nfmt.Println()\n```\n````") {
		testingInstance.Fatalf("expected a four-backtick fence:\n%s", document.Markdown)
	}
}

func TestAssembleCountsTokens(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{"a.txt": "a"})
	store := selection.NewStore(selection.StoreOptions{})

	document := assemble(testingInstance, assembler.Options{
		Policies:     store,
		TokenCounter: fixedCounter{},
		TokenModel:   "gpt-4o",
	}, root, "")

	if document.Tokens != 42 || document.Model != "gpt-4o" {
		testingInstance.Fatalf("unexpected token accounting %d %q", document.Tokens, document.Model)
	}
}

func TestAssembleExcludedRootProducesEmptyTree(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{"a.txt": "a"})
	store := selection.NewStore(selection.StoreOptions{})
	store.Set(root, types.PolicyExcluded)

	document := assemble(testingInstance, assembler.Options{Policies: store}, root, "")

	if strings.Contains(document.Markdown, "a.txt") {
		testingInstance.Fatalf("excluded root must hide its files:\n%s", document.Markdown)
	}
}

func TestAssembleRejectsInvalidRoots(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{"file.txt": "x"})
	store := selection.NewStore(selection.StoreOptions{})
	instance := assembler.New(assembler.Options{Policies: store})

	testCases := []struct {
		name string
		root string
	}{
		{name: "missing", root: filepath.Join(root, "missing")},
		{name: "file", root: filepath.Join(root, "file.txt")},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.name, func(testingInstance *testing.T) {
			if _, err := instance.Assemble(context.Background(), testCase.root, ""); err == nil {
				testingInstance.Fatalf("expected error for %s root", testCase.name)
			}
		})
	}
}

func TestAssembleHonoursCancellation(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{"a.txt": "a"})
	store := selection.NewStore(selection.StoreOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := assembler.New(assembler.Options{Policies: store}).Assemble(ctx, root, "")
	if !errors.Is(err, context.Canceled) {
		testingInstance.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAssembleKeepsSelectedFilesMatchingIgnorePatterns(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{
		"settings.env":        "MODE=dev",
		"other.env":           "MODE=prod",
		"build/generated.go":  "package build",
		"build/skipped.go":    "package build",
		"cache/blob.txt":      "blob",
		".ctxchat/state.json": "[]",
	})
	store := selection.NewStore(selection.StoreOptions{})
	store.Set(filepath.Join(root, "settings.env"), types.PolicyFullContent)
	store.Set(filepath.Join(root, "build", "generated.go"), types.PolicySignaturesOnly)
	store.Set(filepath.Join(root, ".ctxchat", "state.json"), types.PolicyFullContent)

	document := assemble(testingInstance, assembler.Options{
		Policies:       store,
		IgnorePatterns: []string{"*.env", "build/", "cache/"},
	}, root, "")

	if len(document.Files) != 2 {
		testingInstance.Fatalf("expected both selected files, got %+v", document.Files)
	}
	if document.Files[0].RelativePath != "build/generated.go" || document.Files[1].RelativePath != "settings.env" {
		testingInstance.Fatalf("unexpected files %+v", document.Files)
	}
	for _, expected := range []string{"📄 settings.env [+]", "📄 generated.go [S]", "MODE=dev"} {
		if !strings.Contains(document.Markdown, expected) {
			testingInstance.Fatalf("expected %q in:\n%s", expected, document.Markdown)
		}
	}
	for _, forbidden := range []string{"other.env", "skipped.go", "cache", "state.json"} {
		if strings.Contains(document.Markdown, forbidden) {
			testingInstance.Fatalf("document should not mention %q:\n%s", forbidden, document.Markdown)
		}
	}
}

func TestAssembleOmitsDirectoryExcludedThroughSetMany(testingInstance *testing.T) {
	root := testingInstance.TempDir()
	writeFiles(testingInstance, root, map[string]string{
		"keep.go":              "package keep",
		"vendor/lib.go":        "package lib",
		"vendor/deep/inner.go": "package deep",
	})
	store := selection.NewStore(selection.StoreOptions{})
	store.Set(filepath.Join(root, "keep.go"), types.PolicyFullContent)
	if _, err := store.SetMany(context.Background(), []string{filepath.Join(root, "vendor")}, types.PolicyExcluded); err != nil {
		testingInstance.Fatalf("SetMany: %v", err)
	}

	document := assemble(testingInstance, assembler.Options{Policies: store}, root, "")

	for _, forbidden := range []string{"vendor", "lib.go", "inner.go", "deep"} {
		if strings.Contains(document.Markdown, forbidden) {
			testingInstance.Fatalf("document should not mention %q:\n%s", forbidden, document.Markdown)
		}
	}
	if len(document.Files) != 1 || document.Files[0].RelativePath != "keep.go" {
		testingInstance.Fatalf("unexpected files %+v", document.Files)
	}
}
