package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	apperrors "storyforge-api/pkg/errors"
)

// GoOpenAIProvider 使用 go-openai 客户端的 OpenAI 兼容提供商。
// 与 EinoProvider 不同，它能拿到非 2xx 的状态码。
type GoOpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewGoOpenAIProvider 创建 go-openai 提供商
func NewGoOpenAIProvider(name string, cfg config.ProviderConfig) *GoOpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = newStreamingClient(cfg.Timeout)

	return &GoOpenAIProvider{
		name:   name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (p *GoOpenAIProvider) Name() string         { return p.name }
func (p *GoOpenAIProvider) DefaultModel() string { return p.model }

// Stream 建立 chat completion 流
func (p *GoOpenAIProvider) Stream(ctx context.Context, req *Request) (*Response, error) {
	modelName := resolveModel(req, p)

	body := openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openai.ChatCompletionMessage{Role: goOpenAIRole(m.Role), Content: m.Content})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, body)
	if err != nil {
		if status, msg, ok := statusFromGoOpenAI(err); ok {
			return &Response{StatusCode: status, Provider: p.name, Model: modelName, ErrorMessage: msg}, nil
		}
		return nil, err
	}

	return &Response{
		StatusCode: http.StatusOK,
		Provider:   p.name,
		Model:      modelName,
		Body:       &goOpenAITokenReader{stream: stream},
	}, nil
}

func goOpenAIRole(r entity.MessageRole) string {
	switch r {
	case entity.RoleSystem:
		return openai.ChatMessageRoleSystem
	case entity.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// statusFromGoOpenAI 提取客户端错误中的 HTTP 状态
func statusFromGoOpenAI(err error) (int, string, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, truncate(apiErr.Message, maxErrorBody), true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = truncate(reqErr.Err.Error(), maxErrorBody)
		}
		return reqErr.HTTPStatusCode, msg, true
	}
	return 0, "", false
}

type goOpenAITokenReader struct {
	stream *openai.ChatCompletionStream
}

func (r *goOpenAITokenReader) Recv() (string, error) {
	for {
		chunk, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", apperrors.ErrTransport.WithError(err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				return choice.Delta.Content, nil
			}
		}
	}
}

func (r *goOpenAITokenReader) Close() error {
	return r.stream.Close()
}
