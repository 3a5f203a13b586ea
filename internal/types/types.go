// Package types defines every cross‑package data structure used by the ctxchat CLI.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// InclusionPolicy controls how a path contributes to the context document.
type InclusionPolicy string

const (
	// PolicyTreeOnly is the implicit policy of a path without an explicit entry.
	PolicyTreeOnly InclusionPolicy = ""
	// PolicyFullContent includes the raw file content.
	PolicyFullContent InclusionPolicy = "fullContent"
	// PolicySignaturesOnly includes extracted declarations only.
	PolicySignaturesOnly InclusionPolicy = "signatures"
	// PolicyExcluded removes the path and everything beneath it.
	PolicyExcluded InclusionPolicy = "excluded"

	treeOnlyName        = "treeOnly"
	badgeFullContent    = "[+]"
	badgeSignaturesOnly = "[S]"
	unknownPolicyFormat = "%w: %q"
)

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

const (
	NodeTypeFile      = "file"
	NodeTypeDirectory = "directory"

	CommandGenerate = "generate"
	CommandChat     = "chat"
	CommandPolicy   = "policy"
	CommandRemove   = "remove"
	CommandServe    = "serve"

	// DefaultFenceLanguage tags code fences for files without an extension.
	DefaultFenceLanguage = "text"
)

// ErrUnknownPolicy reports an unrecognised policy tag.
var ErrUnknownPolicy = errors.New("unknown inclusion policy")

// ParsePolicy converts a persisted tag or a command line alias into a policy.
func ParsePolicy(tag string) (InclusionPolicy, error) {
	switch strings.TrimSpace(tag) {
	case string(PolicyFullContent), "full", "content":
		return PolicyFullContent, nil
	case string(PolicySignaturesOnly), "signature", "sig":
		return PolicySignaturesOnly, nil
	case string(PolicyExcluded), "exclude":
		return PolicyExcluded, nil
	case "", treeOnlyName, "tree", "none":
		return PolicyTreeOnly, nil
	default:
		return PolicyTreeOnly, fmt.Errorf(unknownPolicyFormat, ErrUnknownPolicy, tag)
	}
}

// ParseStoredPolicy accepts only the tags that may appear in a persisted state file.
func ParseStoredPolicy(tag string) (InclusionPolicy, error) {
	switch InclusionPolicy(tag) {
	case PolicyFullContent, PolicySignaturesOnly, PolicyExcluded:
		return InclusionPolicy(tag), nil
	default:
		return PolicyTreeOnly, fmt.Errorf(unknownPolicyFormat, ErrUnknownPolicy, tag)
	}
}

// String returns a display name; TreeOnly has no tag so it gets one here.
func (policy InclusionPolicy) String() string {
	if policy == PolicyTreeOnly {
		return treeOnlyName
	}
	return string(policy)
}

// Badge returns the bracketed marker rendered after a tree entry.
func (policy InclusionPolicy) Badge() string {
	switch policy {
	case PolicyFullContent:
		return badgeFullContent
	case PolicySignaturesOnly:
		return badgeSignaturesOnly
	default:
		return ""
	}
}

// ContributesContent reports whether a file with this effective policy gets a content section.
func (policy InclusionPolicy) ContributesContent() bool {
	return policy == PolicyFullContent || policy == PolicySignaturesOnly
}

// ChatRole tags the author of a chat message.
type ChatRole string

// ChatMessage is one entry of a chat exchange.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// DocumentFile identifies a file that received a content section.
type DocumentFile struct {
	Path         string          `json:"path"`
	RelativePath string          `json:"relativePath"`
	Policy       InclusionPolicy `json:"policy"`
}

// ContextDocument is the assembled Markdown artifact sent as the seed message of an exchange.
type ContextDocument struct {
	Root     string         `json:"root"`
	Markdown string         `json:"markdown"`
	Files    []DocumentFile `json:"files"`
	Tokens   int            `json:"tokens,omitempty"`
	Model    string         `json:"model,omitempty"`
}

// PolicyEntry pairs a normalized path with its explicit policy.
type PolicyEntry struct {
	Path   string          `json:"path"`
	Policy InclusionPolicy `json:"policy"`
}
