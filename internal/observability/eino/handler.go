// Package eino 注册 Eino 组件的全局回调，把模型调用接入追踪与指标
package eino

import (
	"context"
	"errors"
	"io"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storyforge-api/internal/domain/service"
	"storyforge-api/pkg/metrics"
)

// startTimeKey 用于在 Context 中存储调用开始时间
type startTimeKey struct{}

// newChatModelCallbackHandler 创建模型调用回调：开启 span，结束时记录 token 用量
func newChatModelCallbackHandler() *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())

			attrs := []attribute.KeyValue{
				attribute.String("prompt.template", service.TemplateFromContext(ctx)),
				attribute.String("llm.provider", service.ProviderFromContext(ctx)),
				attribute.String("llm.model", modelNameFromInput(input)),
			}
			if input != nil {
				attrs = append(attrs, attribute.Int("llm.message_count", len(input.Messages)))
			}
			if info != nil {
				attrs = append(attrs,
					attribute.String("eino.node_name", info.Name),
					attribute.String("eino.type", info.Type),
				)
			}

			ctx, _ = otel.Tracer("eino").Start(ctx, "llm.stream", trace.WithAttributes(attrs...))
			return ctx
		},

		OnEnd: func(ctx context.Context, _ *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			finishModelSpan(ctx, output)
			return ctx
		},

		// 流式输出的副本必须被读完并关闭
		OnEndWithStreamOutput: func(ctx context.Context, _ *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			go func() {
				defer output.Close()
				var last *model.CallbackOutput
				for {
					chunk, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						recordSpanError(ctx, err)
						return
					}
					if chunk != nil && chunk.TokenUsage != nil {
						last = chunk
					}
				}
				finishModelSpan(ctx, last)
			}()
			return ctx
		},

		OnError: func(ctx context.Context, _ *einocb.RunInfo, err error) context.Context {
			recordSpanError(ctx, err)
			return ctx
		},
	}
}

func finishModelSpan(ctx context.Context, output *model.CallbackOutput) {
	provider := service.ProviderFromContext(ctx)
	modelName := modelNameFromOutput(output)

	span := trace.SpanFromContext(ctx)
	if output != nil && output.TokenUsage != nil {
		metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "prompt").Add(float64(output.TokenUsage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "completion").Add(float64(output.TokenUsage.CompletionTokens))
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", output.TokenUsage.PromptTokens),
			attribute.Int("llm.completion_tokens", output.TokenUsage.CompletionTokens),
		)
	}
	if d := elapsedSeconds(ctx); d > 0 {
		span.SetAttributes(attribute.Float64("llm.duration_seconds", d))
	}
	span.End()
}

func recordSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// elapsedSeconds 计算从 OnStart 到当前的时间差（秒），取不到开始时间时返回 0
func elapsedSeconds(ctx context.Context) float64 {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start).Seconds()
}

func modelNameFromInput(in *model.CallbackInput) string {
	if in == nil || in.Config == nil {
		return ""
	}
	return in.Config.Model
}

func modelNameFromOutput(out *model.CallbackOutput) string {
	if out == nil || out.Config == nil {
		return ""
	}
	return out.Config.Model
}
