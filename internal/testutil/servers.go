package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// FakeOllama is an httptest server speaking the Ollama generate and
// embeddings endpoints, with canned responses and call recording.
type FakeOllama struct {
	Server *httptest.Server

	// GenerateResponse is returned for every /api/generate call.
	GenerateResponse string

	// EmbedDim sizes the vectors returned by /api/embeddings.
	EmbedDim int

	mu            sync.Mutex
	generateCalls []map[string]any
	embedCalls    []string
	unloads       []string
}

// NewFakeOllama starts a fake model host. The server is shut down with the
// test.
func NewFakeOllama(t *testing.T) *FakeOllama {
	t.Helper()

	f := &FakeOllama{
		GenerateResponse: "generated response",
		EmbedDim:         8,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", f.handleGenerate)
	mux.HandleFunc("POST /api/embeddings", f.handleEmbed)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake host.
func (f *FakeOllama) URL() string { return f.Server.URL }

// GenerateCalls returns the recorded generate request bodies, excluding
// unload signals.
func (f *FakeOllama) GenerateCalls() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.generateCalls...)
}

// EmbedCalls returns the texts sent for embedding, in order.
func (f *FakeOllama) EmbedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.embedCalls...)
}

// Unloads returns the models for which an unload signal was received.
func (f *FakeOllama) Unloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unloads...)
}

func (f *FakeOllama) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if keepAlive, ok := body["keep_alive"]; ok && keepAlive == float64(0) {
		f.unloads = append(f.unloads, body["model"].(string))
	} else {
		f.generateCalls = append(f.generateCalls, body)
	}
	f.mu.Unlock()

	writeJSON(w, map[string]any{"response": f.GenerateResponse, "done": true})
}

func (f *FakeOllama) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.embedCalls = append(f.embedCalls, body.Prompt)
	f.mu.Unlock()

	embedder := NewFakeEmbedder(f.EmbedDim)
	vec, _ := embedder.Embed(r.Context(), body.Prompt)
	writeJSON(w, map[string]any{"embedding": vec})
}

// NewFakePartition starts a partition service stub that answers every request
// with the given element payload (already-marshaled JSON array). Status can
// be forced for failure tests.
func NewFakePartition(t *testing.T, status int, elementsJSON []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "partition failed", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(elementsJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
