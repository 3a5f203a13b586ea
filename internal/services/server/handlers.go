package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/chat"
	"github.com/temirov/ctxchat/internal/relay"
	"github.com/temirov/ctxchat/internal/selection"
	"github.com/temirov/ctxchat/internal/types"
)

const (
	headerContentType     = "Content-Type"
	headerCacheControl    = "Cache-Control"
	mimeTypeJSON          = "application/json"
	mimeTypeNDJSON        = "application/x-ndjson"
	cacheControlNoCache   = "no-cache"
	errorFieldName        = "error"
	pathQueryParameter    = "path"
	changeBufferSize      = 64
	maximumRequestBytes   = 1 << 20
	errorDecodeFormat     = "decode request body: %v"
	errorEncodeFormat     = "encode response: %v"
	errorMissingPath      = "path is required"
	errorMissingPaths     = "paths are required"
	errorChangesDisabled  = "change events are not available"
	errorStreamingBlocked = "streaming is not supported by this connection"
	logChangeDropped      = "dropping change event for slow client"
	logChatFailed         = "chat turn failed"
)

type pathRequest struct {
	Path   string `json:"path"`
	Prompt string `json:"prompt,omitempty"`
}

// setPolicyRequest expands directories unless Recursive is explicitly false,
// in which case the policy is stored on each path itself.
type setPolicyRequest struct {
	Paths     []string `json:"paths"`
	Policy    string   `json:"policy"`
	Recursive *bool    `json:"recursive,omitempty"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type policyResponse struct {
	Path   string `json:"path"`
	Policy string `json:"policy"`
}

type setPolicyResponse struct {
	Paths  []string `json:"paths"`
	Policy string   `json:"policy"`
}

type chatLine struct {
	Fragment string `json:"fragment,omitempty"`
	Error    string `json:"error,omitempty"`
	End      bool   `json:"end,omitempty"`
}

type changeLine struct {
	Paths  []string `json:"paths"`
	Reload bool     `json:"reload"`
}

func (server Server) handleCapabilities(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payload := struct {
		Root         string       `json:"root"`
		Capabilities []Capability `json:"capabilities"`
	}{Root: server.config.Operations.Root(), Capabilities: server.config.Capabilities}
	server.writeJSON(writer, http.StatusOK, payload)
}

func (server Server) handleRoot(writer http.ResponseWriter, request *http.Request) {
	if request.URL.Path != rootPath {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writer.WriteHeader(http.StatusOK)
}

func (server Server) handlePolicy(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimSpace(request.URL.Query().Get(pathQueryParameter))
	if path == "" {
		server.writeError(writer, http.StatusBadRequest, errors.New(errorMissingPath))
		return
	}
	policy := server.config.Operations.Policy(path)
	server.writeJSON(writer, http.StatusOK, policyResponse{Path: path, Policy: policy.String()})
}

func (server Server) handlePolicyCycle(writer http.ResponseWriter, request *http.Request) {
	var payload pathRequest
	if !server.decodePost(writer, request, &payload) {
		return
	}
	if strings.TrimSpace(payload.Path) == "" {
		server.writeError(writer, http.StatusBadRequest, errors.New(errorMissingPath))
		return
	}
	policy := server.config.Operations.CyclePolicy(payload.Path)
	server.writeJSON(writer, http.StatusOK, policyResponse{Path: payload.Path, Policy: policy.String()})
}

func (server Server) handlePolicySet(writer http.ResponseWriter, request *http.Request) {
	var payload setPolicyRequest
	if !server.decodePost(writer, request, &payload) {
		return
	}
	if len(payload.Paths) == 0 {
		server.writeError(writer, http.StatusBadRequest, errors.New(errorMissingPaths))
		return
	}
	policy, parseErr := types.ParsePolicy(payload.Policy)
	if parseErr != nil {
		server.writeError(writer, http.StatusBadRequest, parseErr)
		return
	}

	if payload.Recursive != nil && !*payload.Recursive {
		for _, path := range payload.Paths {
			server.config.Operations.SetPathPolicy(path, policy)
		}
		server.writeJSON(writer, http.StatusOK, setPolicyResponse{Paths: payload.Paths, Policy: policy.String()})
		return
	}

	touched, setErr := server.config.Operations.SetPolicy(request.Context(), payload.Paths, policy)
	if setErr != nil {
		server.writeError(writer, statusCodeFromError(setErr), setErr)
		return
	}
	if touched == nil {
		touched = []string{}
	}
	server.writeJSON(writer, http.StatusOK, setPolicyResponse{Paths: touched, Policy: policy.String()})
}

func (server Server) handleContext(writer http.ResponseWriter, request *http.Request) {
	var payload promptRequest
	if !server.decodePost(writer, request, &payload) {
		return
	}
	document, generateErr := server.config.Operations.GenerateContext(request.Context(), payload.Prompt)
	if generateErr != nil {
		server.writeError(writer, statusCodeFromError(generateErr), generateErr)
		return
	}
	server.writeJSON(writer, http.StatusOK, document)
}

func (server Server) handleRemove(writer http.ResponseWriter, request *http.Request) {
	var payload pathRequest
	if !server.decodePost(writer, request, &payload) {
		return
	}
	if strings.TrimSpace(payload.Path) == "" {
		server.writeError(writer, http.StatusBadRequest, errors.New(errorMissingPath))
		return
	}
	document, removeErr := server.config.Operations.RemoveFile(request.Context(), payload.Path, payload.Prompt)
	if removeErr != nil {
		server.writeError(writer, statusCodeFromError(removeErr), removeErr)
		return
	}
	server.writeJSON(writer, http.StatusOK, document)
}

// handleChat streams the reply as newline-delimited JSON. Failures detected
// before the first event are answered with a plain JSON error instead.
func (server Server) handleChat(writer http.ResponseWriter, request *http.Request) {
	var payload chatRequest
	if !server.decodePost(writer, request, &payload) {
		return
	}
	flusher, canFlush := writer.(http.Flusher)
	if !canFlush {
		server.writeError(writer, http.StatusInternalServerError, errors.New(errorStreamingBlocked))
		return
	}

	encoder := json.NewEncoder(writer)
	started := false
	sink := func(event relay.Event) {
		if !started {
			writer.Header().Set(headerContentType, mimeTypeNDJSON)
			writer.Header().Set(headerCacheControl, cacheControlNoCache)
			writer.WriteHeader(http.StatusOK)
			started = true
		}
		line := chatLine{}
		switch event.Kind {
		case relay.EventFragment:
			line.Fragment = event.Fragment
		case relay.EventError:
			if event.Err != nil {
				line.Error = event.Err.Error()
			}
		case relay.EventEnd:
			line.End = true
		}
		_ = encoder.Encode(line)
		flusher.Flush()
	}

	chatErr := server.config.Operations.SendChatTurn(request.Context(), payload.Text, sink)
	if chatErr == nil {
		return
	}
	server.config.Logger.Warn(logChatFailed, zap.Error(chatErr))
	if !started {
		server.writeError(writer, statusCodeFromError(chatErr), chatErr)
	}
}

// handleEvents streams one JSON line per change notification until the client leaves.
func (server Server) handleEvents(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if server.config.Changes == nil {
		server.writeError(writer, http.StatusNotFound, errors.New(errorChangesDisabled))
		return
	}
	flusher, canFlush := writer.(http.Flusher)
	if !canFlush {
		server.writeError(writer, http.StatusInternalServerError, errors.New(errorStreamingBlocked))
		return
	}

	changes := make(chan selection.ChangeEvent, changeBufferSize)
	unsubscribe := server.config.Changes.Subscribe(func(event selection.ChangeEvent) {
		select {
		case changes <- event:
		default:
			server.config.Logger.Warn(logChangeDropped)
		}
	})
	defer unsubscribe()

	writer.Header().Set(headerContentType, mimeTypeNDJSON)
	writer.Header().Set(headerCacheControl, cacheControlNoCache)
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	encoder := json.NewEncoder(writer)
	for {
		select {
		case <-request.Context().Done():
			return
		case event := <-changes:
			paths := event.Paths
			if paths == nil {
				paths = []string{}
			}
			if encodeErr := encoder.Encode(changeLine{Paths: paths, Reload: event.ReloadAll()}); encodeErr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (server Server) decodePost(writer http.ResponseWriter, request *http.Request, target any) bool {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maximumRequestBytes))
	if decodeErr := decoder.Decode(target); decodeErr != nil {
		server.writeError(writer, http.StatusBadRequest, fmt.Errorf(errorDecodeFormat, decodeErr))
		return false
	}
	return true
}

func (server Server) writeError(writer http.ResponseWriter, statusCode int, err error) {
	server.writeJSON(writer, statusCode, map[string]string{errorFieldName: err.Error()})
}

func (server Server) writeJSON(writer http.ResponseWriter, statusCode int, payload interface{}) {
	var buffer bytes.Buffer
	if encodeErr := json.NewEncoder(&buffer).Encode(payload); encodeErr != nil {
		fallback := map[string]string{errorFieldName: fmt.Sprintf(errorEncodeFormat, encodeErr)}
		writer.Header().Set(headerContentType, mimeTypeJSON)
		writer.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(writer).Encode(fallback)
		return
	}
	writer.Header().Set(headerContentType, mimeTypeJSON)
	writer.WriteHeader(statusCode)
	_, _ = writer.Write(buffer.Bytes())
}

func statusCodeFromError(err error) int {
	switch {
	case errors.Is(err, chat.ErrNoWorkspace), errors.Is(err, chat.ErrNoExchange), errors.Is(err, chat.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, types.ErrUnknownPolicy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
