// Package relay issues streaming chat-completion requests and forwards the
// assistant reply fragment by fragment as server-sent events arrive.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/types"
)

// Request parameters sent with every completion.
const (
	CompletionsPath = "/v1/chat/completions"
	Temperature     = 0.1
	TopP            = 0.95
	DefaultTimeout  = 5 * time.Minute
)

const (
	contentTypeHeader   = "Content-Type"
	authorizationHeader = "Authorization"
	acceptHeader        = "Accept"
	contentTypeJSON     = "application/json"
	eventStreamType     = "text/event-stream"
	bearerPrefix        = "Bearer "
	readBufferSize      = 4096
	errorExcerptLimit   = 512

	errorMarshalFormat   = "marshal request: %w"
	errorRequestFormat   = "create request: %w"
	errorTransportFormat = "send request: %w"
	errorStatusFormat    = "%w: status %d: %s"
	errorReadFormat      = "read stream: %w"

	logMalformedFrame = "skipping malformed stream frame"
	logProviderError  = "provider error in stream"
	logStreamFinished = "chat stream finished"
	logFieldFragments = "fragments"
)

var (
	// ErrEndpointNotConfigured is reported without issuing a request when no endpoint is set.
	ErrEndpointNotConfigured = errors.New("chat endpoint is not configured")
	// ErrUnexpectedStatus reports a non-success HTTP response.
	ErrUnexpectedStatus = errors.New("unexpected chat response status")
)

// EventKind distinguishes the events delivered to a Handler.
type EventKind string

const (
	// EventFragment carries one piece of assistant text.
	EventFragment EventKind = "fragment"
	// EventError carries a failure of the current request.
	EventError EventKind = "error"
	// EventEnd is delivered exactly once per Stream call, last.
	EventEnd EventKind = "end"
)

// Event is one notification from a streaming request.
type Event struct {
	Kind     EventKind
	Fragment string
	Err      error
}

// Handler receives events in arrival order on the calling goroutine.
type Handler func(Event)

// Config holds the endpoint settings for the chat relay.
type Config struct {
	// Endpoint is the server base URL, e.g. http://localhost:8080. A value
	// already ending in /v1/chat/completions is used as is.
	Endpoint string
	// APIKey is sent as a bearer credential when set.
	APIKey string
	// Model is optional; servers hosting a single model ignore it.
	Model string
	// Timeout bounds the wait for response headers. The streamed body is
	// bounded only by the request context.
	Timeout time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client relays chat completions. It performs no retries.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

type chatCompletionRequest struct {
	Model       string              `json:"model,omitempty"`
	Messages    []types.ChatMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float64             `json:"temperature"`
	TopP        float64             `json:"top_p"`
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		httpClient = &http.Client{Transport: transport}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: httpClient,
		logger:     logger,
	}
}

// CompletionsURL resolves the request URL for a configured endpoint.
func CompletionsURL(endpoint string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.HasSuffix(trimmed, CompletionsPath) {
		return trimmed
	}
	return trimmed + CompletionsPath
}

// Stream sends messages and forwards the reply to handler. Whatever happens,
// handler receives exactly one EventEnd as its final event. A request-level
// failure is delivered as a single EventError and also returned.
func (client *Client) Stream(ctx context.Context, messages []types.ChatMessage, handler Handler) (streamErr error) {
	defer handler(Event{Kind: EventEnd})
	defer func() {
		if streamErr != nil {
			handler(Event{Kind: EventError, Err: streamErr})
		}
	}()

	if client.endpoint == "" {
		return ErrEndpointNotConfigured
	}

	response, requestErr := client.send(ctx, messages)
	if requestErr != nil {
		return requestErr
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		excerpt, _ := io.ReadAll(io.LimitReader(response.Body, errorExcerptLimit))
		return fmt.Errorf(errorStatusFormat, ErrUnexpectedStatus, response.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	return client.consume(response.Body, handler)
}

func (client *Client) send(ctx context.Context, messages []types.ChatMessage) (*http.Response, error) {
	body, marshalErr := json.Marshal(chatCompletionRequest{
		Model:       client.model,
		Messages:    messages,
		Stream:      true,
		Temperature: Temperature,
		TopP:        TopP,
	})
	if marshalErr != nil {
		return nil, fmt.Errorf(errorMarshalFormat, marshalErr)
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, CompletionsURL(client.endpoint), bytes.NewReader(body))
	if requestErr != nil {
		return nil, fmt.Errorf(errorRequestFormat, requestErr)
	}
	request.Header.Set(contentTypeHeader, contentTypeJSON)
	request.Header.Set(acceptHeader, eventStreamType)
	if client.apiKey != "" {
		request.Header.Set(authorizationHeader, bearerPrefix+client.apiKey)
	}

	response, transportErr := client.httpClient.Do(request)
	if transportErr != nil {
		return nil, fmt.Errorf(errorTransportFormat, transportErr)
	}
	return response, nil
}

// consume reads the body one chunk at a time and forwards fragments as soon
// as their frame is complete. It stops at the sentinel or end of body.
func (client *Client) consume(body io.Reader, handler Handler) error {
	decoder := &FrameDecoder{}
	buffer := make([]byte, readBufferSize)
	fragmentCount := 0

	handleFrame := func(frame string) bool {
		fragment, done, parseErr := ParseFrame(frame)
		switch {
		case errors.Is(parseErr, ErrProviderError):
			client.logger.Warn(logProviderError, zap.Error(parseErr))
			handler(Event{Kind: EventError, Err: parseErr})
		case parseErr != nil:
			client.logger.Warn(logMalformedFrame, zap.Error(parseErr))
		case done:
			return true
		case fragment != "":
			fragmentCount++
			handler(Event{Kind: EventFragment, Fragment: fragment})
		}
		return false
	}

	for {
		readCount, readErr := body.Read(buffer)
		if readCount > 0 {
			for _, frame := range decoder.Write(buffer[:readCount]) {
				if handleFrame(frame) {
					client.logger.Debug(logStreamFinished, zap.Int(logFieldFragments, fragmentCount))
					return nil
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			if trailing := decoder.Flush(); trailing != "" {
				handleFrame(trailing)
			}
			client.logger.Debug(logStreamFinished, zap.Int(logFieldFragments, fragmentCount))
			return nil
		}
		if readErr != nil {
			return fmt.Errorf(errorReadFormat, readErr)
		}
	}
}
