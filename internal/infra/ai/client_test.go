package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatRequest is the subset of the request body the tests inspect.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature    float64 `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{
		BaseURL:           server.URL + "/v1/",
		APIKey:            "test_key",
		Model:             "test-model",
		Temperature:       0.8,
		RequestsPerMinute: 60000,
	})
	require.NoError(t, err)
	return client
}

func answer(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	body, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	_, _ = w.Write(body)
}

func TestNew(t *testing.T) {
	_, err := New(Config{Model: "m"})
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k"})
	assert.Error(t, err)

	c, err := New(Config{APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestSelectNextSong(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test_key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		answer(w, `{"artist": " Portishead ", "title": "Roads", "rationale": "slow and moody"}`)
	})

	rec, err := client.SelectNextSong(context.Background(), SelectRequest{
		PersonaStyle: "late-night trip-hop",
		History: []HistoryItem{
			{Artist: "Massive Attack", Title: "Teardrop", SelectedBy: "user"},
		},
		Exclusions:   []string{"Tricky - Hell Is Round the Corner"},
		AvoidRepeats: true,
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Portishead", rec.Artist)
	assert.Equal(t, "Roads", rec.Title)
	assert.Equal(t, "slow and moody", rec.Rationale)

	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.8, got.Temperature, 0.001)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	user := got.Messages[1].Content
	assert.Contains(t, user, "late-night trip-hop")
	assert.Contains(t, user, "Massive Attack - Teardrop (picked by user)")
	assert.Contains(t, user, "Tricky - Hell Is Round the Corner")
	assert.Contains(t, user, "MUST NOT appear")
}

func TestSelectNextSong_FencedAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		answer(w, "```json\n{\"artist\": \"Bonobo\", \"title\": \"Kerala\"}\n```")
	})

	rec, err := client.SelectNextSong(context.Background(), SelectRequest{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Bonobo", rec.Artist)
}

func TestSelectNextSong_IncompleteAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		answer(w, `{"artist": "", "title": "Kerala"}`)
	})

	rec, err := client.SelectNextSong(context.Background(), SelectRequest{})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSelectNextSong_APIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true},
		{name: "server error", status: http.StatusBadGateway, transient: true},
		{name: "bad request", status: http.StatusBadRequest, transient: false},
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": {"message": "nope", "type": "invalid_request_error"}}`)
			})

			_, err := client.SelectNextSong(context.Background(), SelectRequest{})
			require.Error(t, err)

			var apiErr *openai.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.HTTPStatusCode)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestGenerateDirectionChange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		answer(w, `{"prompt": "move towards 90s jungle", "label": "Jungle turn"}`)
	})

	d, err := client.GenerateDirectionChange(context.Background(), "drum and bass head", nil)
	require.NoError(t, err)
	assert.Equal(t, "move towards 90s jungle", d.Prompt)
	assert.Equal(t, "Jungle turn", d.Label)
}

func TestGenerateDirectionChange_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		answer(w, `{"prompt": ""}`)
	})

	_, err := client.GenerateDirectionChange(context.Background(), "any", nil)
	assert.Error(t, err)
}

func TestJudgeFit(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		answer(w, `{"fits": false, "reason": "too upbeat"}`)
	})

	v, err := client.JudgeFit(context.Background(), "ABBA", "Dancing Queen", "funeral doom")
	require.NoError(t, err)
	assert.False(t, v.Fits)
	assert.Equal(t, "too upbeat", v.Reason)
	assert.Equal(t, float64(0), got.Temperature)
}

func TestSelectNextSong_UnreadableAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		answer(w, "I would play some Bonobo")
	})

	_, err := client.SelectNextSong(context.Background(), SelectRequest{})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestSelectNextSong_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(Config{BaseURL: url, APIKey: "k", Model: "m", RequestsPerMinute: 60000})
	require.NoError(t, err)

	_, err = client.SelectNextSong(context.Background(), SelectRequest{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.Wrap(context.DeadlineExceeded, "select")))
	assert.False(t, IsTransient(errors.New("failed to parse model answer")))
	assert.True(t, IsTransient(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))
	assert.True(t, IsTransient(errors.Wrap(&openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}, "chat")))
	assert.True(t, IsTransient(&openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")}))
	assert.False(t, IsTransient(&openai.RequestError{HTTPStatusCode: http.StatusForbidden, Err: errors.New("forbidden")}))
}

func TestBuildSelectPrompt_HistoryWindow(t *testing.T) {
	history := make([]HistoryItem, 0, 30)
	for i := 0; i < 30; i++ {
		history = append(history, HistoryItem{Artist: fmt.Sprintf("Artist %d", i), Title: "T", SelectedBy: "ai"})
	}

	p := buildSelectPrompt(SelectRequest{History: history, Direction: "faster", RejectionReason: "too long"})
	assert.NotContains(t, p, "Artist 9 ")
	assert.Contains(t, p, "Artist 29 - T")
	assert.Contains(t, p, "faster")
	assert.Contains(t, p, "too long")
}
