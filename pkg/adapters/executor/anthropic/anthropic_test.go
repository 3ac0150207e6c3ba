package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/pkg/domain"
)

const reply = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "content": [{"type": "text", "text": "pong"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 7, "output_tokens": 1}
}`

func TestPerform(t *testing.T) {
	var request map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &request))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, reply)
	}))
	defer srv.Close()

	e, err := NewExecutor(Config{
		APIKey:       "test-key",
		DefaultModel: "claude-test",
		Options:      []option.RequestOption{option.WithBaseURL(srv.URL), option.WithMaxRetries(0)},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	job := domain.NewJob("w1", json.RawMessage(`{"prompt":"ping","system":"be brief"}`))
	require.NoError(t, e.Perform(context.Background(), job))

	assert.Equal(t, "claude-test", request["model"])
	assert.EqualValues(t, 1024, request["max_tokens"])

	var res Result
	require.NoError(t, json.Unmarshal(job.Result, &res))
	assert.Equal(t, "pong", res.Text)
	assert.Equal(t, int64(7), res.InputTokens)
	assert.Equal(t, "end_turn", res.StopReason)
}

func TestNewExecutorValidates(t *testing.T) {
	_, err := NewExecutor(Config{DefaultModel: "m"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewExecutor(Config{APIKey: "k"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestPerformRejectsEmptyPrompt(t *testing.T) {
	e, err := NewExecutor(Config{APIKey: "k", DefaultModel: "m"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Error(t, e.Perform(context.Background(), domain.NewJob("w1", json.RawMessage(`{"prompt":"  "}`))))
}
