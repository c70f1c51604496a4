package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/service"
	"storyforge-api/internal/infrastructure/llm"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
	"storyforge-api/pkg/tracer"
)

// ProviderSource 按标识解析提供商（llm.Registry 实现）
type ProviderSource interface {
	Get(ctx context.Context, name string) (llm.Provider, error)
}

// Dispatcher 生成请求的薄边界：选择提供商、记录诊断信息、持有最近一次调用的取消句柄。
// 不做参数校验，也不重试。
type Dispatcher struct {
	providers    ProviderSource
	previewRunes int

	mu     sync.Mutex
	cancel context.CancelFunc
	// pending 在第一次调用建立取消句柄之前收到的取消请求
	pending bool
}

func NewDispatcher(providers ProviderSource, previewRunes int) *Dispatcher {
	if previewRunes <= 0 {
		previewRunes = 100
	}
	return &Dispatcher{providers: providers, previewRunes: previewRunes}
}

// Generate 发起流式生成。
// 网络故障与非 2xx 状态返回 TransportError；在提供商响应前被 AbortActiveStream 取消时返回状态 204 的响应。
func (d *Dispatcher) Generate(ctx context.Context, params Params, messages []entity.PromptMessage) (*llm.Response, error) {
	callCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.pending {
		d.pending = false
		d.mu.Unlock()
		cancel()
		logger.Info(ctx, "generation cancelled before dispatch", "provider", params.Provider)
		return &llm.Response{StatusCode: http.StatusNoContent, Provider: params.Provider, Model: params.Model}, nil
	}
	d.cancel = cancel
	d.mu.Unlock()

	provider, err := d.providers.Get(callCtx, params.Provider)
	if callCtx.Err() != nil && ctx.Err() == nil {
		cancel()
		logger.Info(ctx, "generation cancelled before dispatch", "provider", params.Provider)
		return &llm.Response{StatusCode: http.StatusNoContent, Provider: params.Provider, Model: params.Model}, nil
	}
	if err != nil {
		cancel()
		return nil, apperrors.ErrInvalidParam.WithDetail(err.Error())
	}
	modelName := params.Model
	if modelName == "" {
		modelName = provider.DefaultModel()
	}

	ctx = service.WithProvider(ctx, provider.Name())
	ctx, span := tracer.Start(ctx, "generation.Dispatcher.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", provider.Name()),
		attribute.String("llm.model", modelName),
		attribute.Int("llm.message_count", len(messages)),
	)

	logger.Info(ctx, "dispatching generation request",
		"provider", provider.Name(),
		"model", modelName,
		"temperature", params.Temperature,
		"max_tokens", params.MaxTokens,
		"message_count", len(messages),
		"first_message_preview", d.firstMessagePreview(messages),
	)

	if callCtx.Err() != nil && ctx.Err() == nil {
		cancel()
		metrics.LLMCallTotal.WithLabelValues(provider.Name(), modelName, "aborted").Inc()
		logger.Info(ctx, "generation cancelled before dispatch", "provider", provider.Name())
		return &llm.Response{StatusCode: http.StatusNoContent, Provider: provider.Name(), Model: modelName}, nil
	}

	start := time.Now()
	resp, err := provider.Stream(callCtx, &llm.Request{
		Messages:    messages,
		Model:       modelName,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	metrics.LLMCallDuration.WithLabelValues(provider.Name(), modelName).Observe(time.Since(start).Seconds())

	if err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			metrics.LLMCallTotal.WithLabelValues(provider.Name(), modelName, "aborted").Inc()
			logger.Info(ctx, "generation cancelled before provider responded", "provider", provider.Name())
			return &llm.Response{StatusCode: http.StatusNoContent, Provider: provider.Name(), Model: modelName}, nil
		}
		metrics.LLMCallTotal.WithLabelValues(provider.Name(), modelName, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error(ctx, "generation transport failed", err, "provider", provider.Name(), "model", modelName)
		return nil, apperrors.ErrTransport.WithError(err)
	}

	if !resp.OK() {
		cancel()
		metrics.LLMCallTotal.WithLabelValues(provider.Name(), modelName, "error").Inc()
		detail := fmt.Sprintf("provider %s returned status %d: %s", provider.Name(), resp.StatusCode, resp.ErrorMessage)
		span.SetStatus(codes.Error, detail)
		logger.Warn(ctx, "generation provider rejected request",
			"provider", provider.Name(), "status", resp.StatusCode, "error", resp.ErrorMessage)
		return nil, apperrors.ErrTransport.WithDetail(detail)
	}

	metrics.LLMCallTotal.WithLabelValues(provider.Name(), modelName, "success").Inc()
	resp.Body = &cancelOnClose{TokenReader: resp.Body, cancel: cancel}
	return resp, nil
}

// AbortActiveStream 取消最近一次调用。
// 尚未发起过调用时记录下来，下一次 Generate 直接返回 204。
func (d *Dispatcher) AbortActiveStream() {
	d.mu.Lock()
	cancel := d.cancel
	if cancel == nil {
		d.pending = true
	}
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) firstMessagePreview(messages []entity.PromptMessage) string {
	if len(messages) == 0 {
		return ""
	}
	return previewRunes(messages[0].Content, d.previewRunes)
}

// previewRunes 按字符截断，不会切断多字节字符
func previewRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// cancelOnClose 关闭响应时释放调用上下文
type cancelOnClose struct {
	llm.TokenReader
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.TokenReader.Close()
	c.cancel()
	return err
}
