// Package server exposes the chat session over a local HTTP API: policy
// changes, context generation, streamed chat turns and a change feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxchat/internal/relay"
	"github.com/temirov/ctxchat/internal/selection"
	"github.com/temirov/ctxchat/internal/types"
)

const (
	defaultListenAddress    = "127.0.0.1:0"
	defaultShutdownDuration = 5 * time.Second

	capabilitiesPath = "/capabilities"
	rootPath         = "/"
	policyPath       = "/policy"
	policyCyclePath  = "/policy/cycle"
	policySetPath    = "/policy/set"
	contextPath      = "/context"
	chatPath         = "/chat"
	removePath       = "/remove"
	eventsPath       = "/events"

	errorListenFormat   = "listen on %s: %w"
	errorServeFormat    = "serve HTTP API: %w"
	errorShutdownFormat = "shutdown HTTP API: %w"

	logServerListening = "HTTP API listening"
	logFieldAddress    = "address"
)

// Operations is the caller-facing surface served over HTTP.
type Operations interface {
	Root() string
	Policy(path string) types.InclusionPolicy
	CyclePolicy(path string) types.InclusionPolicy
	SetPolicy(ctx context.Context, paths []string, policy types.InclusionPolicy) ([]string, error)
	SetPathPolicy(path string, policy types.InclusionPolicy)
	GenerateContext(ctx context.Context, customPrompt string) (types.ContextDocument, error)
	SendChatTurn(ctx context.Context, text string, sink relay.Handler) error
	RemoveFile(ctx context.Context, path string, customPrompt string) (types.ContextDocument, error)
}

// ChangeSource publishes policy change events.
type ChangeSource interface {
	Subscribe(subscriber selection.Subscriber) func()
}

// Capability describes a feature exposed by the server.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DefaultCapabilities lists the routes served by Handler.
func DefaultCapabilities() []Capability {
	return []Capability{
		{Name: policyPath, Description: "Report the effective policy of a path"},
		{Name: policyCyclePath, Description: "Cycle a path through tree, content and signatures"},
		{Name: policySetPath, Description: "Apply a policy to paths"},
		{Name: contextPath, Description: "Generate the context document and start a new chat"},
		{Name: chatPath, Description: "Send a chat turn and stream the reply"},
		{Name: removePath, Description: "Return a file to tree-only and regenerate the context"},
		{Name: eventsPath, Description: "Stream policy change events"},
	}
}

// Config defines runtime options for the server.
type Config struct {
	Address         string
	Capabilities    []Capability
	Operations      Operations
	Changes         ChangeSource
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Server serves the session operations over HTTP.
type Server struct {
	config Config
}

// NewServer creates a new Server with defaults applied.
func NewServer(config Config) Server {
	normalized := config
	if normalized.Address == "" {
		normalized.Address = defaultListenAddress
	}
	if normalized.ShutdownTimeout <= 0 {
		normalized.ShutdownTimeout = defaultShutdownDuration
	}
	if normalized.Capabilities == nil {
		normalized.Capabilities = DefaultCapabilities()
	}
	if normalized.Logger == nil {
		normalized.Logger = zap.NewNop()
	}
	return Server{config: normalized}
}

// Handler returns the router serving every route.
func (server Server) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc(capabilitiesPath, server.handleCapabilities)
	router.HandleFunc(rootPath, server.handleRoot)
	router.HandleFunc(policyPath, server.handlePolicy)
	router.HandleFunc(policyCyclePath, server.handlePolicyCycle)
	router.HandleFunc(policySetPath, server.handlePolicySet)
	router.HandleFunc(contextPath, server.handleContext)
	router.HandleFunc(chatPath, server.handleChat)
	router.HandleFunc(removePath, server.handleRemove)
	router.HandleFunc(eventsPath, server.handleEvents)
	return router
}

// Run starts the server and blocks until the provided context is canceled.
// The notify callback receives the bound address once the listener is active.
func (server Server) Run(ctx context.Context, notify func(string)) error {
	listener, listenErr := net.Listen("tcp", server.config.Address)
	if listenErr != nil {
		return fmt.Errorf(errorListenFormat, server.config.Address, listenErr)
	}
	actualAddress := listener.Addr().String()

	httpServer := &http.Server{
		Handler:     server.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		serveErr := httpServer.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf(errorServeFormat, serveErr)
		}
		return nil
	})

	server.config.Logger.Info(logServerListening, zap.String(logFieldAddress, actualAddress))
	if notify != nil {
		notify(actualAddress)
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.config.ShutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) && !errors.Is(shutdownErr, http.ErrServerClosed) {
			return fmt.Errorf(errorShutdownFormat, shutdownErr)
		}
		return nil
	})

	return group.Wait()
}
