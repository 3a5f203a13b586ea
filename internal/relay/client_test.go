package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/temirov/ctxchat/internal/relay"
	"github.com/temirov/ctxchat/internal/types"
)

type eventRecorder struct {
	events []relay.Event
}

func (recorder *eventRecorder) handle(event relay.Event) {
	recorder.events = append(recorder.events, event)
}

func (recorder *eventRecorder) fragments() []string {
	var fragments []string
	for _, event := range recorder.events {
		if event.Kind == relay.EventFragment {
			fragments = append(fragments, event.Fragment)
		}
	}
	return fragments
}

func (recorder *eventRecorder) count(kind relay.EventKind) int {
	total := 0
	for _, event := range recorder.events {
		if event.Kind == kind {
			total++
		}
	}
	return total
}

func (recorder *eventRecorder) assertEndedOnce(testingInstance *testing.T) {
	testingInstance.Helper()
	if recorder.count(relay.EventEnd) != 1 {
		testingInstance.Fatalf("expected exactly one end event, got %+v", recorder.events)
	}
	if recorder.events[len(recorder.events)-1].Kind != relay.EventEnd {
		testingInstance.Fatalf("end event must be last, got %+v", recorder.events)
	}
}

var testMessages = []types.ChatMessage{
	{Role: types.ChatRoleSystem, Content: "context"},
	{Role: types.ChatRoleUser, Content: "question"},
}

func TestStreamForwardsFragmentsInOrder(testingInstance *testing.T) {
	var receivedBody map[string]any
	var receivedAuthorization string
	var receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedPath = request.URL.Path
		receivedAuthorization = request.Header.Get("Authorization")
		if err := json.NewDecoder(request.Body).Decode(&receivedBody); err != nil {
			testingInstance.Errorf("decode request: %v", err)
		}
		writer.Header().Set("Content-Type", "text/event-stream")
		flusher := writer.(http.Flusher)
		for _, piece := range []string{
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n",
			"\ndata: {\"choices\":[{\"delta\":{\"con",
			"tent\":\"lo\"}}]}\n\n",
			"data: [DONE]\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n\n",
		} {
			_, _ = writer.Write([]byte(piece))
			flusher.Flush()
		}
	}))
	defer server.Close()

	recorder := &eventRecorder{}
	client := relay.NewClient(relay.Config{Endpoint: server.URL, APIKey: "secret", Model: "local"})
	if err := client.Stream(context.Background(), testMessages, recorder.handle); err != nil {
		testingInstance.Fatalf("Stream: %v", err)
	}

	if !reflect.DeepEqual(recorder.fragments(), []string{"Hel", "lo"}) {
		testingInstance.Fatalf("unexpected fragments %v", recorder.fragments())
	}
	recorder.assertEndedOnce(testingInstance)
	if recorder.count(relay.EventError) != 0 {
		testingInstance.Fatalf("unexpected error events %+v", recorder.events)
	}

	if receivedPath != relay.CompletionsPath {
		testingInstance.Fatalf("unexpected path %q", receivedPath)
	}
	if receivedAuthorization != "Bearer secret" {
		testingInstance.Fatalf("unexpected authorization %q", receivedAuthorization)
	}
	if receivedBody["stream"] != true || receivedBody["temperature"] != 0.1 || receivedBody["top_p"] != 0.95 || receivedBody["model"] != "local" {
		testingInstance.Fatalf("unexpected request body %v", receivedBody)
	}
	messages, ok := receivedBody["messages"].([]any)
	if !ok || len(messages) != 2 {
		testingInstance.Fatalf("unexpected messages %v", receivedBody["messages"])
	}
}

func TestStreamSkipsMalformedFrames(testingInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
				"data: {broken\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	recorder := &eventRecorder{}
	if err := relay.NewClient(relay.Config{Endpoint: server.URL}).Stream(context.Background(), testMessages, recorder.handle); err != nil {
		testingInstance.Fatalf("Stream: %v", err)
	}
	if !reflect.DeepEqual(recorder.fragments(), []string{"a", "b"}) {
		testingInstance.Fatalf("unexpected fragments %v", recorder.fragments())
	}
	if recorder.count(relay.EventError) != 0 {
		testingInstance.Fatalf("malformed frames must not surface as errors: %+v", recorder.events)
	}
	recorder.assertEndedOnce(testingInstance)
}

func TestStreamWithoutSentinelEndsAtEOF(testingInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"y\"}}]}"))
	}))
	defer server.Close()

	recorder := &eventRecorder{}
	if err := relay.NewClient(relay.Config{Endpoint: server.URL}).Stream(context.Background(), testMessages, recorder.handle); err != nil {
		testingInstance.Fatalf("Stream: %v", err)
	}
	if !reflect.DeepEqual(recorder.fragments(), []string{"x", "y"}) {
		testingInstance.Fatalf("unexpected fragments %v", recorder.fragments())
	}
	recorder.assertEndedOnce(testingInstance)
}

func TestStreamReportsNonSuccessStatus(testingInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	recorder := &eventRecorder{}
	err := relay.NewClient(relay.Config{Endpoint: server.URL}).Stream(context.Background(), testMessages, recorder.handle)
	if !errors.Is(err, relay.ErrUnexpectedStatus) {
		testingInstance.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
	if recorder.count(relay.EventError) != 1 {
		testingInstance.Fatalf("expected one error event, got %+v", recorder.events)
	}
	if !strings.Contains(recorder.events[0].Err.Error(), "503") || !strings.Contains(recorder.events[0].Err.Error(), "model not loaded") {
		testingInstance.Fatalf("error should carry status and body: %v", recorder.events[0].Err)
	}
	recorder.assertEndedOnce(testingInstance)
}

func TestStreamWithoutEndpointIssuesNoRequest(testingInstance *testing.T) {
	recorder := &eventRecorder{}
	err := relay.NewClient(relay.Config{Endpoint: "  "}).Stream(context.Background(), testMessages, recorder.handle)
	if !errors.Is(err, relay.ErrEndpointNotConfigured) {
		testingInstance.Fatalf("expected ErrEndpointNotConfigured, got %v", err)
	}
	if len(recorder.events) != 2 || recorder.events[0].Kind != relay.EventError {
		testingInstance.Fatalf("expected error then end, got %+v", recorder.events)
	}
	recorder.assertEndedOnce(testingInstance)
}

func TestStreamReportsTransportFailure(testingInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	recorder := &eventRecorder{}
	if err := relay.NewClient(relay.Config{Endpoint: endpoint}).Stream(context.Background(), testMessages, recorder.handle); err == nil {
		testingInstance.Fatalf("expected transport error")
	}
	if recorder.count(relay.EventError) != 1 {
		testingInstance.Fatalf("expected one error event, got %+v", recorder.events)
	}
	recorder.assertEndedOnce(testingInstance)
}

func TestCompletionsURL(testingInstance *testing.T) {
	testCases := []struct {
		endpoint string
		expected string
	}{
		{endpoint: "http://localhost:8080", expected: "http://localhost:8080/v1/chat/completions"},
		{endpoint: "http://localhost:8080/", expected: "http://localhost:8080/v1/chat/completions"},
		{endpoint: "http://host/v1/chat/completions", expected: "http://host/v1/chat/completions"},
	}
	for _, testCase := range testCases {
		if actual := relay.CompletionsURL(testCase.endpoint); actual != testCase.expected {
			testingInstance.Fatalf("CompletionsURL(%q) = %q, want %q", testCase.endpoint, actual, testCase.expected)
		}
	}
}

func TestStreamOutlivesHeaderTimeout(testingInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "text/event-stream")
		flusher := writer.(http.Flusher)
		_, _ = writer.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"slow\"}}]}\n\n"))
		flusher.Flush()
		time.Sleep(300 * time.Millisecond)
		_, _ = writer.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\" reply\"}}]}\n\ndata: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer server.Close()

	recorder := &eventRecorder{}
	client := relay.NewClient(relay.Config{Endpoint: server.URL, Timeout: 100 * time.Millisecond})
	if err := client.Stream(context.Background(), testMessages, recorder.handle); err != nil {
		testingInstance.Fatalf("a body streaming past the timeout must not fail: %v", err)
	}
	if !reflect.DeepEqual(recorder.fragments(), []string{"slow", " reply"}) {
		testingInstance.Fatalf("unexpected fragments %v", recorder.fragments())
	}
	recorder.assertEndedOnce(testingInstance)
}

func TestStreamTimesOutWaitingForHeaders(testingInstance *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-release:
		case <-request.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	recorder := &eventRecorder{}
	client := relay.NewClient(relay.Config{Endpoint: server.URL, Timeout: 50 * time.Millisecond})
	if err := client.Stream(context.Background(), testMessages, recorder.handle); err == nil {
		testingInstance.Fatalf("expected a header timeout")
	}
	if recorder.count(relay.EventError) != 1 {
		testingInstance.Fatalf("expected one error event, got %+v", recorder.events)
	}
	recorder.assertEndedOnce(testingInstance)
}
