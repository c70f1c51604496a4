package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyforge-api/internal/config"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/metrics"
)

// SSEProvider OpenAI 兼容的 Chat Completions 流式接口（text/event-stream）
type SSEProvider struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

// NewSSEProvider 创建 SSE 提供商
func NewSSEProvider(name string, cfg config.ProviderConfig) *SSEProvider {
	return &SSEProvider{
		name:   name,
		cfg:    cfg,
		client: newStreamingClient(cfg.Timeout),
	}
}

func (p *SSEProvider) Name() string         { return p.name }
func (p *SSEProvider) DefaultModel() string { return p.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	StreamOptions map[string]any `json:"stream_options,omitempty"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream 发起请求并返回 SSE 解码器
func (p *SSEProvider) Stream(ctx context.Context, req *Request) (*Response, error) {
	modelName := resolveModel(req, p)

	body := chatCompletionRequest{
		Model:         modelName,
		Messages:      make([]chatMessage, 0, len(req.Messages)),
		Stream:        true,
		MaxTokens:     req.MaxTokens,
		StreamOptions: map[string]any{"include_usage": true},
	}
	temperature := req.Temperature
	body.Temperature = &temperature
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResponse(resp, p.name, modelName), nil
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Provider:   p.name,
		Model:      modelName,
		Body: &sseTokenReader{
			body:     resp.Body,
			lines:    newLineReader(resp.Body),
			provider: p.name,
			model:    modelName,
		},
	}, nil
}

// sseTokenReader 将 data: 帧解码为 token
type sseTokenReader struct {
	body     io.Closer
	lines    *lineReader
	provider string
	model    string

	finished bool
	err      error
}

func (r *sseTokenReader) Recv() (string, error) {
	if r.err != nil {
		return "", r.err
	}
	token, err := r.next()
	if err != nil {
		r.err = err
	}
	return token, err
}

func (r *sseTokenReader) next() (string, error) {
	for {
		line, partial, err := r.lines.next()
		if err == io.EOF {
			if r.finished {
				return "", io.EOF
			}
			return "", framingError("event stream ended before completion")
		}
		if err != nil {
			return "", err
		}

		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			if partial && line != "" {
				return "", framingError("truncated event: " + truncate(line, 64))
			}
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			r.finished = true
			return "", io.EOF
		}
		if partial {
			return "", framingError("truncated data frame: " + truncate(data, 64))
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", framingError("malformed data frame: " + truncate(data, 64))
		}
		if chunk.Error != nil {
			return "", apperrors.ErrTransport.WithDetail(chunk.Error.Message)
		}
		if chunk.Usage != nil {
			metrics.LLMTokensUsed.WithLabelValues(r.provider, r.model, "prompt").Add(float64(chunk.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(r.provider, r.model, "completion").Add(float64(chunk.Usage.CompletionTokens))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			r.finished = true
		}
		if choice.Delta.Content != "" {
			return choice.Delta.Content, nil
		}
	}
}

func (r *sseTokenReader) Close() error {
	return r.body.Close()
}

// newStreamingClient 流式响应可能持续很久，只限制等待响应头的时间
func newStreamingClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	return &http.Client{Transport: transport}
}
