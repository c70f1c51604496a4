package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	apperrors "storyforge-api/pkg/errors"
)

// EinoProvider 通过 Eino ChatModel 组件调用生成服务。
// Eino 不暴露 HTTP 状态码，建立流成功即视为 200。
type EinoProvider struct {
	name         string
	defaultModel string
	chatModel    model.BaseChatModel
}

// NewEinoProvider 包装一个已创建的 ChatModel
func NewEinoProvider(name, defaultModel string, chatModel model.BaseChatModel) *EinoProvider {
	return &EinoProvider{
		name:         name,
		defaultModel: defaultModel,
		chatModel:    chatModel,
	}
}

// NewEinoOpenAIProvider 使用 Eino 的 OpenAI 适配器创建提供商
func NewEinoOpenAIProvider(ctx context.Context, name string, cfg config.ProviderConfig) (*EinoProvider, error) {
	modelCfg := &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelCfg.MaxTokens = &maxTokens
	}
	if cfg.Temperature > 0 {
		modelCfg.Temperature = ptrFloat32(float32(cfg.Temperature))
	}

	chatModel, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", name, err)
	}
	return NewEinoProvider(name, cfg.Model, chatModel), nil
}

func (p *EinoProvider) Name() string         { return p.name }
func (p *EinoProvider) DefaultModel() string { return p.defaultModel }

// Stream 调用 ChatModel.Stream，并把消息流适配为 token 流
func (p *EinoProvider) Stream(ctx context.Context, req *Request) (*Response, error) {
	modelName := resolveModel(req, p)

	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if modelName != "" {
		opts = append(opts, model.WithModel(modelName))
	}

	reader, err := p.chatModel.Stream(ctx, toSchemaMessages(req.Messages), opts...)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: http.StatusOK,
		Provider:   p.name,
		Model:      modelName,
		Body:       &einoTokenReader{reader: reader},
	}, nil
}

func toSchemaMessages(messages []entity.PromptMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case entity.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case entity.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

type einoTokenReader struct {
	reader *schema.StreamReader[*schema.Message]
}

func (r *einoTokenReader) Recv() (string, error) {
	for {
		msg, err := r.reader.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", apperrors.ErrTransport.WithError(err)
		}
		if msg != nil && msg.Content != "" {
			return msg.Content, nil
		}
	}
}

func (r *einoTokenReader) Close() error {
	r.reader.Close()
	return nil
}

func ptrFloat32(f float32) *float32 {
	return &f
}
