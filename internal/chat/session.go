// Package chat implements the caller-facing operations: policy changes,
// context generation and streamed chat turns over the generated context.
package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/relay"
	"github.com/temirov/ctxchat/internal/types"
)

const (
	logContextGenerated = "generated context"
	logStaleTurn        = "dropping reply for a replaced exchange"
	logFieldExchange    = "exchange"
	logFieldFiles       = "files"
	logFieldRoot        = "root"
)

var (
	// ErrNoWorkspace is returned by operations that need a workspace root when none is configured.
	ErrNoWorkspace = errors.New("no workspace is open")
	// ErrNoExchange is returned when a chat turn is sent before any context was generated.
	ErrNoExchange = errors.New("no context has been generated for this chat")
	// ErrTurnInProgress is returned when a turn is sent while another turn of the same exchange streams.
	ErrTurnInProgress = errors.New("a chat turn is already in progress")
	// ErrEmptyMessage rejects blank user input.
	ErrEmptyMessage = errors.New("chat message is empty")
)

// PolicyStore is the subset of the selection store used by a Session.
type PolicyStore interface {
	EffectivePolicy(path string) types.InclusionPolicy
	Cycle(path string) types.InclusionPolicy
	Set(path string, policy types.InclusionPolicy)
	SetMany(ctx context.Context, roots []string, policy types.InclusionPolicy) ([]string, error)
	Remove(ctx context.Context, path string) ([]string, error)
}

// DocumentAssembler builds context documents.
type DocumentAssembler interface {
	Assemble(ctx context.Context, root string, customPrompt string) (types.ContextDocument, error)
}

// CompletionStreamer relays one streamed completion.
type CompletionStreamer interface {
	Stream(ctx context.Context, messages []types.ChatMessage, handler relay.Handler) error
}

// Options wires a Session.
type Options struct {
	Root      string
	Store     PolicyStore
	Assembler DocumentAssembler
	Streamer  CompletionStreamer
	Logger    *zap.Logger
}

// Session owns the current exchange for one workspace. Generating a context
// replaces the exchange; replies still streaming for the old one are dropped.
type Session struct {
	root      string
	store     PolicyStore
	assembler DocumentAssembler
	streamer  CompletionStreamer
	logger    *zap.Logger

	mutex    sync.Mutex
	exchange *Exchange

	// streaming is the exchange whose turn is in flight, or uuid.Nil.
	streaming uuid.UUID
}

// NewSession constructs a Session. An empty Root leaves policy operations
// usable on absolute paths while context generation reports ErrNoWorkspace.
func NewSession(options Options) *Session {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	root := strings.TrimSpace(options.Root)
	if root != "" {
		if absoluteRoot, absErr := filepath.Abs(root); absErr == nil {
			root = absoluteRoot
		}
	}
	return &Session{
		root:      root,
		store:     options.Store,
		assembler: options.Assembler,
		streamer:  options.Streamer,
		logger:    logger,
	}
}

// Root returns the absolute workspace root, or "" when none is open.
func (session *Session) Root() string {
	return session.root
}

// ResolvePath anchors a relative path at the workspace root.
func (session *Session) ResolvePath(path string) string {
	if filepath.IsAbs(path) || session.root == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(session.root, path)
}

// Policy reports the effective policy of path.
func (session *Session) Policy(path string) types.InclusionPolicy {
	return session.store.EffectivePolicy(session.ResolvePath(path))
}

// CyclePolicy advances the path's own policy and returns the new one.
func (session *Session) CyclePolicy(path string) types.InclusionPolicy {
	return session.store.Cycle(session.ResolvePath(path))
}

// SetPolicy applies policy to every file beneath paths and returns the touched files.
func (session *Session) SetPolicy(ctx context.Context, paths []string, policy types.InclusionPolicy) ([]string, error) {
	resolved := make([]string, 0, len(paths))
	for _, path := range paths {
		resolved = append(resolved, session.ResolvePath(path))
	}
	return session.store.SetMany(ctx, resolved, policy)
}

// SetPathPolicy stores policy on path itself without expanding directories.
func (session *Session) SetPathPolicy(path string, policy types.InclusionPolicy) {
	session.store.Set(session.ResolvePath(path), policy)
}

// GenerateContext assembles a fresh document and starts a new exchange seeded with it.
func (session *Session) GenerateContext(ctx context.Context, customPrompt string) (types.ContextDocument, error) {
	if session.root == "" {
		return types.ContextDocument{}, ErrNoWorkspace
	}
	document, assembleErr := session.assembler.Assemble(ctx, session.root, customPrompt)
	if assembleErr != nil {
		return types.ContextDocument{}, assembleErr
	}

	exchange := newExchange(document.Markdown)
	session.mutex.Lock()
	session.exchange = exchange
	session.mutex.Unlock()

	session.logger.Debug(logContextGenerated,
		zap.String(logFieldRoot, session.root),
		zap.Stringer(logFieldExchange, exchange.ID),
		zap.Int(logFieldFiles, len(document.Files)),
	)
	return document, nil
}

// RemoveFile returns path to TreeOnly and regenerates the context.
func (session *Session) RemoveFile(ctx context.Context, path string, customPrompt string) (types.ContextDocument, error) {
	if session.root == "" {
		return types.ContextDocument{}, ErrNoWorkspace
	}
	if _, removeErr := session.store.Remove(ctx, session.ResolvePath(path)); removeErr != nil {
		return types.ContextDocument{}, removeErr
	}
	return session.GenerateContext(ctx, customPrompt)
}

// Exchange returns a copy of the current exchange and whether one exists.
func (session *Session) Exchange() (Exchange, bool) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.exchange == nil {
		return Exchange{}, false
	}
	return session.exchange.clone(), true
}

// SendChatTurn appends text as a user message and streams the reply to sink.
// Fragment and error events for an exchange replaced mid-turn are dropped;
// the end event is always delivered. The accumulated reply is recorded as an
// assistant message when the turn ends on the exchange that started it.
func (session *Session) SendChatTurn(ctx context.Context, text string, sink relay.Handler) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	session.mutex.Lock()
	if session.exchange == nil {
		session.mutex.Unlock()
		return ErrNoExchange
	}
	if session.streaming == session.exchange.ID {
		session.mutex.Unlock()
		return ErrTurnInProgress
	}
	session.streaming = session.exchange.ID
	session.exchange.Messages = append(session.exchange.Messages, types.ChatMessage{Role: types.ChatRoleUser, Content: text})
	turnExchangeID := session.exchange.ID
	messages := session.exchange.clone().Messages
	session.mutex.Unlock()

	var reply strings.Builder
	staleLogged := false
	return session.streamer.Stream(ctx, messages, func(event relay.Event) {
		if event.Kind == relay.EventEnd {
			session.finishTurn(turnExchangeID, reply.String())
			sink(event)
			return
		}
		if !session.isCurrent(turnExchangeID) {
			if !staleLogged {
				session.logger.Debug(logStaleTurn, zap.Stringer(logFieldExchange, turnExchangeID))
				staleLogged = true
			}
			return
		}
		if event.Kind == relay.EventFragment {
			reply.WriteString(event.Fragment)
		}
		sink(event)
	})
}

func (session *Session) isCurrent(exchangeID uuid.UUID) bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.exchange != nil && session.exchange.ID == exchangeID
}

func (session *Session) finishTurn(exchangeID uuid.UUID, reply string) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.streaming == exchangeID {
		session.streaming = uuid.Nil
	}
	if session.exchange == nil || session.exchange.ID != exchangeID || reply == "" {
		return
	}
	session.exchange.Messages = append(session.exchange.Messages, types.ChatMessage{Role: types.ChatRoleAssistant, Content: reply})
}
