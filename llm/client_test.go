package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/narrative/llm"
	_ "github.com/veridoc/narrative/llm/providers"
)

func testPrompt() llm.Prompt {
	return llm.Prompt{
		System:  "You are a compliance officer.",
		User:    "Case facts: worker Amira Hassan, CoS COS-2025-0042.",
		Version: "v2.1",
	}
}

func ollamaModel(url string) llm.ModelConfig {
	return llm.ModelConfig{
		Name:        "local",
		Provider:    "ollama",
		URL:         url,
		Model:       "qwen2.5:14b",
		Temperature: 0.2,
		MaxTokens:   2000,
	}
}

func chatResponse(content string) string {
	resp := map[string]any{
		"model": "qwen2.5:14b",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestComplete_Success(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("The assessment narrative.")))
	}))
	defer server.Close()

	client := llm.NewClient()
	content, err := client.Complete(context.Background(), testPrompt(), ollamaModel(server.URL+"/v1"))

	require.NoError(t, err)
	assert.Equal(t, "The assessment narrative.", content)
	assert.Equal(t, "qwen2.5:14b", gotBody["model"])

	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
}

func TestComplete_RateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := llm.NewClient()
	_, err := client.Complete(context.Background(), testPrompt(), ollamaModel(server.URL+"/v1"))

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.False(t, llm.IsFatal(err))
}

func TestComplete_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := llm.NewClient()
	_, err := client.Complete(context.Background(), testPrompt(), ollamaModel(server.URL+"/v1"))

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestComplete_AuthErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := llm.NewClient()
	_, err := client.Complete(context.Background(), testPrompt(), ollamaModel(server.URL+"/v1"))

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Contains(t, err.Error(), "status 401")
}

func TestComplete_UnknownProviderIsFatal(t *testing.T) {
	client := llm.NewClient()
	model := llm.ModelConfig{Name: "bad", Provider: "no-such-provider"}

	_, err := client.Complete(context.Background(), testPrompt(), model)

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestComplete_MalformedResponseIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := llm.NewClient()
	_, err := client.Complete(context.Background(), testPrompt(), ollamaModel(server.URL+"/v1"))

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestComplete_ContextCancellation(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client disconnects; otherwise Close hangs.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := llm.NewClient()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Complete(ctx, testPrompt(), ollamaModel(server.URL+"/v1"))
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, llm.IsTransient(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Complete did not return after cancellation")
	}
}

func TestPrompt_Messages(t *testing.T) {
	msgs := testPrompt().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)

	// A prompt without a system part yields only the user message.
	msgs = llm.Prompt{User: "facts"}.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}
