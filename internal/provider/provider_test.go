package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	id        string
	available bool
	resp      Response
	delay     time.Duration
	calls     atomic.Int32
}

func (f *fakeProvider) ID() string      { return f.id }
func (f *fakeProvider) Available() bool { return f.available }

func (f *fakeProvider) Chat(ctx context.Context, _, _ string) Response {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Response{Error: ctx.Err().Error()}
		}
	}
	return f.resp
}

func TestRegistry_BuildsOnceAndCaches(t *testing.T) {
	var built atomic.Int32
	factory := func(spec ModelSpec, _ time.Duration) (Provider, error) {
		built.Add(1)
		return &fakeProvider{id: spec.ID, available: true}, nil
	}
	r := NewRegistry([]ModelSpec{{ID: "a"}, {ID: "b"}}, WithFactory(factory))

	p1, err := r.Get("a")
	require.NoError(t, err)
	p2, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, int32(1), built.Load())

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestRegistry_FactoryErrorNotCached(t *testing.T) {
	r := NewRegistry([]ModelSpec{{ID: "x", Backend: "carrier-pigeon"}})
	_, err := r.Get("x")
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.Empty(t, r.Available())
}

func TestRegistry_AvailableSkipsMissingCredentials(t *testing.T) {
	r := NewRegistry([]ModelSpec{
		{ID: "gpt", Backend: BackendOpenAI, Model: "gpt-4o", APIKey: "k"},
		{ID: "claude", Backend: BackendAnthropic, Model: "claude-sonnet-4-5"},
		{ID: "gemini", Backend: BackendGemini, Model: "gemini-2.5-pro", APIKey: "g"},
	})
	var ids []string
	for _, p := range r.Available() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"gpt", "gemini"}, ids)
}

func TestRegistry_FanOutCollectsEveryResult(t *testing.T) {
	r := NewRegistry(nil)
	ok := &fakeProvider{id: "ok", available: true, resp: Response{Success: true, Content: "{}"}, delay: 20 * time.Millisecond}
	bad := &fakeProvider{id: "bad", available: true, resp: Response{Error: "boom"}}
	off := &fakeProvider{id: "off"}
	r.Register(ok)
	r.Register(bad)
	r.Register(off)

	results := r.FanOut(context.Background(), "sys", "user")
	require.Len(t, results, 2)
	assert.Equal(t, "ok", results[0].ModelID)
	assert.True(t, results[0].Response.Success)
	assert.Equal(t, "bad", results[1].ModelID)
	assert.Equal(t, "boom", results[1].Response.Error)
	assert.Equal(t, int32(0), off.calls.Load())
}

func TestRegistry_RegisterReplacesCached(t *testing.T) {
	r := NewRegistry([]ModelSpec{{ID: "a", Backend: BackendOpenAI}})
	fake := &fakeProvider{id: "a", available: true}
	r.Register(fake)

	p, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, Provider(fake), p)
	assert.Equal(t, []string{"a"}, r.IDs())
}

func TestOpenAI_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-chat", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "be brief", body.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"actions\":[]}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(ModelSpec{ID: "deepseek", Model: "deepseek-chat", BaseURL: srv.URL + "/", APIKey: "sk-test"}, time.Second)
	require.True(t, p.Available())

	resp := p.Chat(context.Background(), "be brief", "decide")
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, `{"actions":[]}`, resp.Content)
	assert.Equal(t, 20, resp.TokensUsed)
}

func TestOpenAI_ServerErrorIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid key","type":"auth"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(ModelSpec{ID: "gpt", Model: "gpt-4o", BaseURL: srv.URL, APIKey: "bad"}, time.Second)
	resp := p.Chat(context.Background(), "s", "u")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "openai api error")
}

func TestOpenAI_TimeoutIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewOpenAI(ModelSpec{ID: "slow", Model: "m", BaseURL: srv.URL, APIKey: "k"}, 50*time.Millisecond)
	resp := p.Chat(context.Background(), "s", "u")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "timed out")
	assert.Less(t, resp.LatencyMs, int64(2000))
}

func TestMissingCredentialNeverCallsOut(t *testing.T) {
	for _, p := range []Provider{
		NewOpenAI(ModelSpec{ID: "gpt"}, time.Second),
		NewAnthropic(ModelSpec{ID: "claude"}, time.Second),
		NewGemini(ModelSpec{ID: "gemini"}, time.Second, nil),
	} {
		assert.False(t, p.Available(), p.ID())
		resp := p.Chat(context.Background(), "s", "u")
		assert.False(t, resp.Success, p.ID())
		assert.Contains(t, resp.Error, "missing credential", p.ID())
	}
}

func TestAnthropic_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"hold"}],"stop_reason":"end_turn","usage":{"input_tokens":30,"output_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewAnthropic(ModelSpec{ID: "claude", Model: "claude-sonnet-4-5", BaseURL: srv.URL, APIKey: "ak"}, time.Second)
	resp := p.Chat(context.Background(), "s", "u")
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "hold", resp.Content)
	assert.Equal(t, 34, resp.TokensUsed)
}

func TestGemini_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-pro:generateContent", r.URL.Path)
		assert.Equal(t, "gk", r.Header.Get("x-goog-api-key"))

		var body struct {
			SystemInstruction struct {
				Parts []struct{ Text string } `json:"parts"`
			} `json:"systemInstruction"`
			Contents []struct {
				Role  string                  `json:"role"`
				Parts []struct{ Text string } `json:"parts"`
			} `json:"contents"`
			GenerationConfig struct {
				MaxOutputTokens int `json:"maxOutputTokens"`
			} `json:"generationConfig"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body.SystemInstruction.Parts)
		assert.Equal(t, "sys", body.SystemInstruction.Parts[0].Text)
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "user", body.Contents[0].Role)
		assert.Equal(t, "hello", body.Contents[0].Parts[0].Text)
		assert.Positive(t, body.GenerationConfig.MaxOutputTokens)

		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"actions\""},{"text":":[]}"}]}}],"usageMetadata":{"totalTokenCount":77}}`)
	}))
	defer srv.Close()

	p := NewGemini(ModelSpec{ID: "gemini", Model: "gemini-2.5-pro", BaseURL: srv.URL, APIKey: "gk"}, time.Second, srv.Client())
	resp := p.Chat(context.Background(), "sys", "hello")
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, `{"actions":[]}`, resp.Content)
	assert.Equal(t, 77, resp.TokensUsed)
}

func TestGemini_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	p := NewGemini(ModelSpec{ID: "gemini", Model: "m", BaseURL: srv.URL, APIKey: "gk"}, time.Second, nil)
	resp := p.Chat(context.Background(), "s", "u")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "gemini status 400: API key not valid")
}

func TestGemini_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	p := NewGemini(ModelSpec{ID: "gemini", Model: "m", BaseURL: srv.URL, APIKey: "gk"}, time.Second, nil)
	resp := p.Chat(context.Background(), "s", "u")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "empty response")
}

func TestNew_Backends(t *testing.T) {
	for backend, want := range map[string]any{
		BackendOpenAI:    &OpenAI{},
		BackendAnthropic: &Anthropic{},
		BackendGemini:    &Gemini{},
	} {
		p, err := New(ModelSpec{ID: backend, Backend: backend}, 0)
		require.NoError(t, err)
		assert.IsType(t, want, p)
	}
}

func TestDefaultCatalog_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range DefaultCatalog() {
		assert.False(t, seen[s.ID], s.ID)
		seen[s.ID] = true
		assert.NotEmpty(t, s.APIKeyEnv)
		_, err := New(s, time.Second)
		assert.NoError(t, err)
	}
}
