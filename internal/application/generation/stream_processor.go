package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"storyforge-api/internal/infrastructure/llm"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/metrics"
)

// Tokens 把响应解码为有序的 token 序列。
//   - 204：不产生任何元素，视为空结果完成
//   - 其它非 2xx：只产生一个 TransportError
//   - 流中故障（含截断的帧）：产生一个错误后结束
//
// 序列结束或调用方提前 break 时都会关闭响应。
func Tokens(ctx context.Context, resp *llm.Response) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if resp == nil {
			yield("", apperrors.ErrTransport.WithDetail("nil response"))
			return
		}
		defer resp.Close()

		if resp.NoContent() {
			return
		}
		if !resp.OK() {
			yield("", statusError(resp))
			return
		}
		if resp.Body == nil {
			yield("", apperrors.ErrStreamFraming.WithDetail("response has no body"))
			return
		}

		tokens := metrics.StreamTokensTotal.WithLabelValues(resp.Provider)
		for {
			token, err := resp.Body.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield("", apperrors.ErrAborted.WithError(ctxErr))
					return
				}
				// 派发器的调用上下文被取消（会话 Abort），调用方的 ctx 仍然有效
				if errors.Is(err, context.Canceled) {
					yield("", apperrors.ErrAborted.WithError(err))
					return
				}
				yield("", classify(err))
				return
			}
			tokens.Inc()
			if !yield(token, nil) {
				return
			}
		}
	}
}

// Handler 回调形式的消费者。OnComplete 与 OnError 至多调用其一，且只调用一次；
// 流被取消时两者都不调用。
type Handler struct {
	OnToken    func(token string)
	OnComplete func()
	OnError    func(err error)
}

// ProcessStream 以回调形式消费响应，同步按到达顺序投递 token
func ProcessStream(ctx context.Context, resp *llm.Response, h Handler) {
	for token, err := range Tokens(ctx, resp) {
		if err != nil {
			if h.OnError != nil && !apperrors.IsAborted(err) {
				h.OnError(err)
			}
			return
		}
		if h.OnToken != nil {
			h.OnToken(token)
		}
	}
	if h.OnComplete != nil {
		h.OnComplete()
	}
}

func statusError(resp *llm.Response) error {
	detail := fmt.Sprintf("provider %s returned status %d", resp.Provider, resp.StatusCode)
	if resp.ErrorMessage != "" {
		detail += ": " + resp.ErrorMessage
	}
	return apperrors.ErrTransport.WithDetail(detail)
}

// classify 未分类的读取错误按传输故障处理
func classify(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.ErrTransport.WithError(err)
}
