package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"storyforge-api/internal/config"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/metrics"
)

// NDJSONProvider Ollama /api/chat 流式接口，每行一个 JSON 对象
type NDJSONProvider struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

// NewNDJSONProvider 创建 Ollama 提供商
func NewNDJSONProvider(name string, cfg config.ProviderConfig) *NDJSONProvider {
	return &NDJSONProvider{
		name:   name,
		cfg:    cfg,
		client: newStreamingClient(cfg.Timeout),
	}
}

func (p *NDJSONProvider) Name() string         { return p.name }
func (p *NDJSONProvider) DefaultModel() string { return p.cfg.Model }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// Stream 发起请求并返回 NDJSON 解码器
func (p *NDJSONProvider) Stream(ctx context.Context, req *Request) (*Response, error) {
	modelName := resolveModel(req, p)

	body := ollamaChatRequest{
		Model:    modelName,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   true,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		Body: &ndjsonTokenReader{
			body:     resp.Body,
			lines:    newLineReader(resp.Body),
			provider: p.name,
			model:    modelName,
		},
	}, nil
}

type ndjsonTokenReader struct {
	body     io.Closer
	lines    *lineReader
	provider string
	model    string

	done bool
	err  error
}

func (r *ndjsonTokenReader) Recv() (string, error) {
	if r.err != nil {
		return "", r.err
	}
	token, err := r.next()
	if err != nil {
		r.err = err
	}
	return token, err
}

func (r *ndjsonTokenReader) next() (string, error) {
	for {
		if r.done {
			return "", io.EOF
		}
		line, partial, err := r.lines.next()
		if err == io.EOF {
			return "", framingError("stream ended before done marker")
		}
		if err != nil {
			return "", err
		}
		if partial {
			return "", framingError("truncated json line: " + truncate(line, 64))
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var chunk ollamaChatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", framingError("malformed json line: " + truncate(line, 64))
		}
		if chunk.Error != "" {
			return "", apperrors.ErrTransport.WithDetail(chunk.Error)
		}
		if chunk.Done {
			r.done = true
			metrics.LLMTokensUsed.WithLabelValues(r.provider, r.model, "prompt").Add(float64(chunk.PromptEvalCount))
			metrics.LLMTokensUsed.WithLabelValues(r.provider, r.model, "completion").Add(float64(chunk.EvalCount))
		}
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
}

func (r *ndjsonTokenReader) Close() error {
	return r.body.Close()
}
