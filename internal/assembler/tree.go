package assembler

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/temirov/ctxchat/internal/types"
)

const (
	treeBranchConnector  = "├─ "
	treeLastConnector    = "└─ "
	treeBranchPadding    = "│  "
	treeLastPadding      = "   "
	directoryGlyph       = "📁"
	fileGlyph            = "📄"
	directorySuffix      = "/"
	pathSegmentSeparator = "/"
)

// treeNode is one segment of the prefix tree built from root-relative file paths.
type treeNode struct {
	name        string
	path        string
	isDirectory bool
	policy      types.InclusionPolicy
	children    map[string]*treeNode
}

func newDirectoryNode(name, path string, policy types.InclusionPolicy) *treeNode {
	return &treeNode{name: name, path: path, isDirectory: true, policy: policy, children: map[string]*treeNode{}}
}

// buildTree inserts every file into a prefix tree keyed by path segment.
// Directories only appear as prefixes of included files.
func (assembler *Assembler) buildTree(root string, files []walkedFile) *treeNode {
	rootNode := newDirectoryNode(filepath.Base(root), root, assembler.policies.EffectivePolicy(root))
	for _, file := range files {
		segments := strings.Split(file.relativePath, pathSegmentSeparator)
		current := rootNode
		for index, segment := range segments {
			isLast := index == len(segments)-1
			child, exists := current.children[segment]
			if !exists {
				childPath := filepath.Join(current.path, segment)
				if isLast {
					child = &treeNode{name: segment, path: childPath, policy: file.policy}
				} else {
					child = newDirectoryNode(segment, childPath, assembler.policies.EffectivePolicy(childPath))
				}
				current.children[segment] = child
			}
			current = child
		}
	}
	return rootNode
}

// sortedChildren orders directories before files, each group ascending by name.
func (node *treeNode) sortedChildren() []*treeNode {
	children := make([]*treeNode, 0, len(node.children))
	for _, child := range node.children {
		children = append(children, child)
	}
	sort.Slice(children, func(left, right int) bool {
		if children[left].isDirectory != children[right].isDirectory {
			return children[left].isDirectory
		}
		return children[left].name < children[right].name
	})
	return children
}

func (node *treeNode) label() string {
	var builder strings.Builder
	if node.isDirectory {
		builder.WriteString(directoryGlyph)
	} else {
		builder.WriteString(fileGlyph)
	}
	builder.WriteString(" ")
	builder.WriteString(node.name)
	if node.isDirectory {
		builder.WriteString(directorySuffix)
	}
	if badge := node.policy.Badge(); badge != "" {
		builder.WriteString(" ")
		builder.WriteString(badge)
	}
	return builder.String()
}

// renderTree writes the tree depth-first with box-drawing connectors.
func renderTree(rootNode *treeNode) string {
	var builder strings.Builder
	builder.WriteString(rootNode.label())
	builder.WriteString("\n")
	renderChildren(&builder, rootNode, "")
	return strings.TrimRight(builder.String(), "\n")
}

func renderChildren(builder *strings.Builder, node *treeNode, prefix string) {
	children := node.sortedChildren()
	for index, child := range children {
		connector := treeBranchConnector
		childPrefix := prefix + treeBranchPadding
		if index == len(children)-1 {
			connector = treeLastConnector
			childPrefix = prefix + treeLastPadding
		}
		builder.WriteString(prefix)
		builder.WriteString(connector)
		builder.WriteString(child.label())
		builder.WriteString("\n")
		if child.isDirectory {
			renderChildren(builder, child, childPrefix)
		}
	}
}
