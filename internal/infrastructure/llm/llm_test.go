package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	apperrors "storyforge-api/pkg/errors"
)

var testMessages = []entity.PromptMessage{
	{Role: entity.RoleSystem, Content: "You are a novelist."},
	{Role: entity.RoleUser, Content: "Continue the scene."},
}

func drain(t *testing.T, r TokenReader) ([]string, error) {
	t.Helper()
	var tokens []string
	for {
		tok, err := r.Recv()
		if err == io.EOF {
			return tokens, nil
		}
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
	}
}

func sseServer(t *testing.T, status int, body string, capture *chatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if capture != nil {
			_ = json.NewDecoder(r.Body).Decode(capture)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSSE(url string) *SSEProvider {
	return NewSSEProvider("openrouter", config.ProviderConfig{BaseURL: url, APIKey: "sk-test", Model: "default-model"})
}

func TestSSEProviderDecodesTokens(t *testing.T) {
	body := ": keep-alive\n\n" +
		`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":" "}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"world"},"finish_reason":"stop"}]}` + "\n\n" +
		`data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3}}` + "\n\n" +
		"data: [DONE]\n\n"
	var captured chatCompletionRequest
	srv := sseServer(t, http.StatusOK, body, &captured)

	resp, err := newSSE(srv.URL).Stream(context.Background(), &Request{Messages: testMessages, Temperature: 0.7, MaxTokens: 256})
	require.NoError(t, err)
	require.True(t, resp.OK())
	defer resp.Close()

	tokens, err := drain(t, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " ", "world"}, tokens)

	assert.Equal(t, "default-model", captured.Model)
	assert.True(t, captured.Stream)
	assert.Equal(t, 256, captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
}

func TestSSEProviderTruncatedFrameIsFramingError(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"con`
	srv := sseServer(t, http.StatusOK, body, nil)

	resp, err := newSSE(srv.URL).Stream(context.Background(), &Request{Messages: testMessages})
	require.NoError(t, err)
	defer resp.Close()

	tokens, err := drain(t, resp.Body)
	assert.Equal(t, []string{"Hel"}, tokens)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStreamFraming))

	_, again := resp.Body.Recv()
	assert.Equal(t, err, again)
}

func TestSSEProviderEndWithoutCompletionIsFramingError(t *testing.T) {
	srv := sseServer(t, http.StatusOK, `data: {"choices":[{"delta":{"content":"Hi"}}]}`+"\n\n", nil)

	resp, err := newSSE(srv.URL).Stream(context.Background(), &Request{Messages: testMessages})
	require.NoError(t, err)
	defer resp.Close()

	_, err = drain(t, resp.Body)
	assert.True(t, errors.Is(err, apperrors.ErrStreamFraming))
}

func TestSSEProviderInBandError(t *testing.T) {
	srv := sseServer(t, http.StatusOK, `data: {"error":{"message":"overloaded"}}`+"\n\n", nil)

	resp, err := newSSE(srv.URL).Stream(context.Background(), &Request{Messages: testMessages})
	require.NoError(t, err)
	defer resp.Close()

	_, err = drain(t, resp.Body)
	assert.True(t, errors.Is(err, apperrors.ErrTransport))
}

func TestSSEProviderNonSuccessStatus(t *testing.T) {
	srv := sseServer(t, http.StatusUnauthorized, `{"error":"bad key"}`, nil)

	resp, err := newSSE(srv.URL).Stream(context.Background(), &Request{Messages: testMessages, Model: "m"})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Nil(t, resp.Body)
	assert.Contains(t, resp.ErrorMessage, "bad key")
	assert.Equal(t, "m", resp.Model)
}

func TestSSEProviderCancelledContext(t *testing.T) {
	srv := sseServer(t, http.StatusOK, "data: [DONE]\n\n", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSSE(srv.URL).Stream(ctx, &Request{Messages: testMessages})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func ollamaServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.EqualValues(t, 128, req.Options["num_predict"])
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNDJSONProviderDecodesTokens(t *testing.T) {
	body := strings.Join([]string{
		`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
		`{"message":{"role":"assistant","content":" "},"done":false}`,
		`{"message":{"role":"assistant","content":"world"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":9,"eval_count":3}`,
	}, "\n") + "\n"
	srv := ollamaServer(t, body)
	p := NewNDJSONProvider("ollama", config.ProviderConfig{BaseURL: srv.URL, Model: "llama3"})

	resp, err := p.Stream(context.Background(), &Request{Messages: testMessages, MaxTokens: 128})
	require.NoError(t, err)
	defer resp.Close()

	tokens, err := drain(t, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", strings.Join(tokens, ""))
}

func TestNDJSONProviderMissingDoneIsFramingError(t *testing.T) {
	srv := ollamaServer(t, `{"message":{"content":"Hello"},"done":false}`+"\n"+`{"message":{"content":" wor`)
	p := NewNDJSONProvider("ollama", config.ProviderConfig{BaseURL: srv.URL, Model: "llama3"})

	resp, err := p.Stream(context.Background(), &Request{Messages: testMessages, MaxTokens: 128})
	require.NoError(t, err)
	defer resp.Close()

	tokens, err := drain(t, resp.Body)
	assert.Equal(t, []string{"Hello"}, tokens)
	assert.True(t, errors.Is(err, apperrors.ErrStreamFraming))
}

type fakeChatModel struct {
	chunks []*schema.Message
	err    error
	opts   *model.Options
	input  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.input = input
	f.opts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray(f.chunks), nil
}

func TestEinoProviderAdaptsMessageStream(t *testing.T) {
	fake := &fakeChatModel{chunks: []*schema.Message{
		schema.AssistantMessage("Hello", nil),
		schema.AssistantMessage("", nil),
		schema.AssistantMessage(" world", nil),
	}}
	p := NewEinoProvider("openai", "gpt-4o-mini", fake)

	resp, err := p.Stream(context.Background(), &Request{Messages: testMessages, Temperature: 0.5, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gpt-4o-mini", resp.Model)

	tokens, err := drain(t, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " world"}, tokens)
	require.NoError(t, resp.Close())

	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	require.NotNil(t, fake.opts.Temperature)
	assert.InDelta(t, 0.5, *fake.opts.Temperature, 1e-6)
	require.NotNil(t, fake.opts.MaxTokens)
	assert.Equal(t, 64, *fake.opts.MaxTokens)
}

func TestEinoProviderStreamError(t *testing.T) {
	p := NewEinoProvider("openai", "gpt-4o-mini", &fakeChatModel{err: errors.New("dial tcp: refused")})
	_, err := p.Stream(context.Background(), &Request{Messages: testMessages})
	assert.Error(t, err)
}

func TestRegistryResolvesConfiguredTypes(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "local",
		Providers: map[string]config.ProviderConfig{
			"local":  {Type: TypeOllama, BaseURL: "http://localhost:11434", Model: "llama3"},
			"router": {Type: TypeOpenAISSE, BaseURL: "https://example.invalid/v1", Model: "m"},
			"compat": {Type: TypeGoOpenAI, BaseURL: "https://example.invalid/v1", Model: "m"},
			"weird":  {Type: "carrier_pigeon"},
		},
	}}
	r := NewRegistry(cfg)
	ctx := context.Background()

	p, err := r.Get(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &NDJSONProvider{}, p)
	assert.Equal(t, "local", p.Name())

	again, err := r.Get(ctx, "local")
	require.NoError(t, err)
	assert.Same(t, p, again)

	p, err = r.Get(ctx, "router")
	require.NoError(t, err)
	assert.IsType(t, &SSEProvider{}, p)

	p, err = r.Get(ctx, "compat")
	require.NoError(t, err)
	assert.IsType(t, &GoOpenAIProvider{}, p)

	_, err = r.Get(ctx, "weird")
	assert.Error(t, err)
	_, err = r.Get(ctx, "missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"compat", "local", "router", "weird"}, r.Names())
	assert.Equal(t, "local", r.Default())
}

func TestGoOpenAIProviderDecodesTokens(t *testing.T) {
	body := `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}

data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}

data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}

data: [DONE]

`
	var captured chatCompletionRequest
	srv := sseServer(t, http.StatusOK, body, &captured)
	p := NewGoOpenAIProvider("compat", config.ProviderConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "default-model"})

	resp, err := p.Stream(context.Background(), &Request{Messages: testMessages, Temperature: 0.7, MaxTokens: 32})
	require.NoError(t, err)
	defer resp.Close()
	require.True(t, resp.OK())
	assert.Equal(t, "default-model", resp.Model)

	tokens, err := drain(t, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)

	assert.Equal(t, "default-model", captured.Model)
	assert.True(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
}

func TestGoOpenAIProviderNonSuccessStatus(t *testing.T) {
	srv := sseServer(t, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, nil)
	p := NewGoOpenAIProvider("compat", config.ProviderConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m"})

	resp, err := p.Stream(context.Background(), &Request{Messages: testMessages})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.Contains(t, resp.ErrorMessage, "slow down")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 64))

	s := "雾港" + strings.Repeat("夜", 30)
	got := truncate(s, 7)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "雾港...", got)

	detail := apperrors.AsAppError(framingError("truncated event: " + truncate(s, 64))).Detail
	assert.True(t, utf8.ValidString(detail))
}

func TestSSEProviderErrorBodyIsBounded(t *testing.T) {
	srv := sseServer(t, http.StatusBadRequest, strings.Repeat("错", maxErrorBody), nil)
	resp, err := newSSE(srv.URL).Stream(context.Background(), &Request{Messages: testMessages})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.ErrorMessage), maxErrorBody+len("..."))
	assert.True(t, utf8.ValidString(resp.ErrorMessage))
}
