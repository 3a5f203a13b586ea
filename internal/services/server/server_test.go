package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/temirov/ctxchat/internal/assembler"
	"github.com/temirov/ctxchat/internal/chat"
	"github.com/temirov/ctxchat/internal/relay"
	"github.com/temirov/ctxchat/internal/selection"
	"github.com/temirov/ctxchat/internal/services/server"
	"github.com/temirov/ctxchat/internal/types"
)

type fixedStreamer struct {
	fragments []string
}

func (streamer fixedStreamer) Stream(ctx context.Context, messages []types.ChatMessage, handler relay.Handler) error {
	defer handler(relay.Event{Kind: relay.EventEnd})
	for _, fragment := range streamer.fragments {
		handler(relay.Event{Kind: relay.EventFragment, Fragment: fragment})
	}
	return nil
}

type testHarness struct {
	root       string
	store      *selection.Store
	httpServer *httptest.Server
}

func newHarness(t *testing.T) testHarness {
	t.Helper()
	root := t.TempDir()
	for relativePath, content := range map[string]string{
		"a.py":   "def f(x):\n    return x\n",
		"b/c.js": "function g(a) {\n  return a\n}\n",
	} {
		fullPath := filepath.Join(root, filepath.FromSlash(relativePath))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	store := selection.NewStore(selection.StoreOptions{})
	session := chat.NewSession(chat.Options{
		Root:      root,
		Store:     store,
		Assembler: assembler.New(assembler.Options{Policies: store}),
		Streamer:  fixedStreamer{fragments: []string{"Hi", " there"}},
	})
	apiServer := server.NewServer(server.Config{Operations: session, Changes: store.Notifier()})
	httpServer := httptest.NewServer(apiServer.Handler())
	t.Cleanup(httpServer.Close)
	return testHarness{root: root, store: store, httpServer: httpServer}
}

func (harness testHarness) post(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	response, err := http.Post(harness.httpServer.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPolicyRoutes(t *testing.T) {
	harness := newHarness(t)

	var cycled struct {
		Path   string `json:"path"`
		Policy string `json:"policy"`
	}
	response := harness.post(t, "/policy/cycle", map[string]string{"path": "a.py"})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	decodeBody(t, response, &cycled)
	if cycled.Policy != "fullContent" {
		t.Fatalf("expected fullContent, got %q", cycled.Policy)
	}

	var setResult struct {
		Paths  []string `json:"paths"`
		Policy string   `json:"policy"`
	}
	response = harness.post(t, "/policy/set", map[string]any{"paths": []string{"b"}, "policy": "sig"})
	decodeBody(t, response, &setResult)
	expectedPaths := []string{filepath.Join(harness.root, "b", "c.js")}
	if !reflect.DeepEqual(setResult.Paths, expectedPaths) || setResult.Policy != "signatures" {
		t.Fatalf("unexpected set result %+v", setResult)
	}

	response = harness.post(t, "/policy/set", map[string]any{"paths": []string{"b"}, "policy": "excluded", "recursive": false})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	policyResponse, err := http.Get(harness.httpServer.URL + "/policy?path=b/c.js")
	if err != nil {
		t.Fatalf("GET /policy: %v", err)
	}
	defer policyResponse.Body.Close()
	var effective struct {
		Policy string `json:"policy"`
	}
	decodeBody(t, policyResponse, &effective)
	if effective.Policy != "excluded" {
		t.Fatalf("directory exclusion should cascade, got %q", effective.Policy)
	}

	response = harness.post(t, "/policy/set", map[string]any{"paths": []string{"a.py"}, "policy": "bogus"})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown policy, got %d", response.StatusCode)
	}
}

func TestContextAndChatRoutes(t *testing.T) {
	harness := newHarness(t)

	response := harness.post(t, "/chat", map[string]string{"text": "hello"})
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("chat before context should conflict, got %d", response.StatusCode)
	}

	harness.store.Set(filepath.Join(harness.root, "a.py"), types.PolicyFullContent)
	response = harness.post(t, "/context", map[string]string{"prompt": "Review"})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	var document types.ContextDocument
	decodeBody(t, response, &document)
	if !strings.Contains(document.Markdown, "Review") || len(document.Files) != 1 {
		t.Fatalf("unexpected document %+v", document)
	}

	response = harness.post(t, "/chat", map[string]string{"text": "hello"})
	if response.StatusCode != http.StatusOK || response.Header.Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("unexpected chat response %d %q", response.StatusCode, response.Header.Get("Content-Type"))
	}
	var lines []string
	scanner := bufio.NewScanner(response.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	expected := []string{`{"fragment":"Hi"}`, `{"fragment":" there"}`, `{"end":true}`}
	if !reflect.DeepEqual(lines, expected) {
		t.Fatalf("unexpected chat lines %v", lines)
	}

	response = harness.post(t, "/remove", map[string]string{"path": "a.py"})
	decodeBody(t, response, &document)
	if len(document.Files) != 0 {
		t.Fatalf("remove should leave no content sections, got %+v", document.Files)
	}
}

func TestEventsRouteStreamsChanges(t *testing.T) {
	harness := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, harness.httpServer.URL+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer response.Body.Close()

	target := filepath.Join(harness.root, "a.py")
	harness.store.Cycle(target)

	lineCh := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(response.Body)
		line, _ := reader.ReadString('\n')
		lineCh <- strings.TrimSpace(line)
	}()
	select {
	case line := <-lineCh:
		var event struct {
			Paths  []string `json:"paths"`
			Reload bool     `json:"reload"`
		}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		if !reflect.DeepEqual(event.Paths, []string{target}) || event.Reload {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no change event received")
	}
}

func TestRequestValidation(t *testing.T) {
	harness := newHarness(t)

	testCases := []struct {
		name     string
		method   string
		path     string
		body     string
		expected int
	}{
		{name: "cycle requires post", method: http.MethodGet, path: "/policy/cycle", expected: http.StatusMethodNotAllowed},
		{name: "cycle requires path", method: http.MethodPost, path: "/policy/cycle", body: `{}`, expected: http.StatusBadRequest},
		{name: "invalid json", method: http.MethodPost, path: "/context", body: `{`, expected: http.StatusBadRequest},
		{name: "policy requires path", method: http.MethodGet, path: "/policy", expected: http.StatusBadRequest},
		{name: "set requires paths", method: http.MethodPost, path: "/policy/set", body: `{"policy":"full"}`, expected: http.StatusBadRequest},
		{name: "empty chat", method: http.MethodPost, path: "/chat", body: `{"text":" "}`, expected: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/nope", expected: http.StatusNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request, err := http.NewRequest(testCase.method, harness.httpServer.URL+testCase.path, strings.NewReader(testCase.body))
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			response, err := http.DefaultClient.Do(request)
			if err != nil {
				t.Fatalf("perform request: %v", err)
			}
			defer response.Body.Close()
			if response.StatusCode != testCase.expected {
				t.Fatalf("expected %d, got %d", testCase.expected, response.StatusCode)
			}
		})
	}
}

func TestServerRunExposesCapabilities(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := chat.NewSession(chat.Options{Root: t.TempDir(), Store: selection.NewStore(selection.StoreOptions{})})
	apiServer := server.NewServer(server.Config{Address: "127.0.0.1:0", Operations: session})
	addressCh := make(chan string, 1)
	errorCh := make(chan error, 1)

	go func() {
		errorCh <- apiServer.Run(ctx, func(address string) {
			addressCh <- address
		})
	}()

	select {
	case address := <-addressCh:
		client := http.Client{Timeout: 2 * time.Second}
		response, err := client.Get("http://" + address + "/capabilities")
		if err != nil {
			t.Fatalf("perform request: %v", err)
		}
		defer response.Body.Close()

		if response.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d", response.StatusCode)
		}
		var body struct {
			Root         string              `json:"root"`
			Capabilities []server.Capability `json:"capabilities"`
		}
		if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Root != session.Root() {
			t.Fatalf("expected root %q, got %q", session.Root(), body.Root)
		}
		if !reflect.DeepEqual(body.Capabilities, server.DefaultCapabilities()) {
			t.Fatalf("unexpected capabilities %+v", body.Capabilities)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not start")
	}

	cancel()
	if err := <-errorCh; err != nil {
		t.Fatalf("server error: %v", err)
	}
}
