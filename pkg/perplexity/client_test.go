package perplexity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestChatCompletion(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pplx-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sonar-pro", req.Model)
		assert.Equal(t, []string{"annauniv.edu"}, req.SearchDomainFilter)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "CS3491")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "sonar-pro",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Unit 2 recurs every year."}, "finish_reason": "stop"}],
			"citations": ["https://example.edu/qp-2023"],
			"search_results": [{"title": "QP 2023", "url": "https://example.edu/qp-2023"}, {"title": "QP 2022", "url": "https://example.edu/qp-2022"}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 120}
		}`))
	})

	c := NewClient("pplx-key", WithBaseURL(srv.URL+"/"))
	resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages:           []Message{{Role: "user", Content: "CS3491 exam trends"}},
		SearchDomainFilter: []string{"annauniv.edu"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Unit 2 recurs every year.", resp.Content())
	assert.Equal(t, []string{"https://example.edu/qp-2023", "https://example.edu/qp-2022"}, resp.Sources())
	assert.Equal(t, 40, resp.Usage.PromptTokens)
	assert.Equal(t, 120, resp.Usage.CompletionTokens)
}

func TestChatCompletion_ModelSelection(t *testing.T) {
	var got []string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = append(got, req.Model)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	msgs := []Message{{Role: "user", Content: "q"}}

	_, err := NewClient("k", WithBaseURL(srv.URL), WithModel("sonar")).ChatCompletion(context.Background(), ChatCompletionRequest{Messages: msgs})
	require.NoError(t, err)
	_, err = NewClient("k", WithBaseURL(srv.URL), WithModel("")).ChatCompletion(context.Background(), ChatCompletionRequest{Messages: msgs})
	require.NoError(t, err)
	_, err = NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{Model: "sonar-reasoning", Messages: msgs})
	require.NoError(t, err)

	assert.Equal(t, []string{"sonar", "sonar-pro", "sonar-reasoning"}, got)
}

func TestChatCompletion_RequiresMessages(t *testing.T) {
	_, err := NewClient("k").ChatCompletion(context.Background(), ChatCompletionRequest{})
	assert.Error(t, err)
}

func TestChatCompletion_APIError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"Insufficient credits","type":"billing"}}` + strings.Repeat(" ", 4000)))
	})

	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{Messages: []Message{{Role: "user", Content: "q"}}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "Insufficient credits", apiErr.Message())
	assert.LessOrEqual(t, len(apiErr.Body), 2048)
	assert.Contains(t, err.Error(), "status 402")
}

func TestAPIError_MessageFallsBackToBody(t *testing.T) {
	e := &APIError{StatusCode: 502, Body: "<html>bad gateway</html>"}
	assert.Equal(t, "<html>bad gateway</html>", e.Message())
}

func TestChatCompletion_BadJSON(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":`))
	})
	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{Messages: []Message{{Role: "user", Content: "q"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestChatCompletion_ContextCancelled(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(ctx, ChatCompletionRequest{Messages: []Message{{Role: "user", Content: "q"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c := NewClient("k", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Equal(t, defaultModel, c.model)
}

func TestContentEmpty(t *testing.T) {
	assert.Empty(t, (&ChatCompletionResponse{}).Content())
	assert.Empty(t, (&ChatCompletionResponse{}).Sources())
}
