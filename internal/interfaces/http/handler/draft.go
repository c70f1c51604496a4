// Package handler 提供 HTTP 请求处理器
package handler

import (
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"storyforge-api/internal/application/generation"
	"storyforge-api/internal/interfaces/http/dto"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
)

// DraftHandler 起草处理器：提示词预览与生成
type DraftHandler struct {
	svc *generation.Service
}

// NewDraftHandler 创建起草处理器
func NewDraftHandler(svc *generation.Service) *DraftHandler {
	return &DraftHandler{svc: svc}
}

// Preview 预览将要发送的消息序列
// @Summary 预览提示词
// @Description 解析模板并返回消息序列，不调用生成服务。模板无法解析时在 error 字段说明原因
// @Tags Drafts
// @Accept json
// @Produce json
// @Param body body dto.DraftRequest true "起草上下文"
// @Success 200 {object} dto.Response[dto.PreviewResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/drafts/preview [post]
func (h *DraftHandler) Preview(c *gin.Context) {
	var req dto.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	result, err := h.svc.Preview(c.Request.Context(), req.ToDraft())
	if err != nil {
		logger.Warn(c.Request.Context(), "draft preview failed", "story_id", req.StoryID, "error", err)
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.NewPreviewResponse(result))
}

// Complete 非流式生成，等待完整文本后返回
// @Summary 生成（非流式）
// @Tags Drafts
// @Accept json
// @Produce json
// @Param body body dto.GenerateRequest true "起草上下文与生成参数"
// @Success 200 {object} dto.Response[dto.CompletionResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /v1/drafts/complete [post]
func (h *DraftHandler) Complete(c *gin.Context) {
	exec, ok := h.prepare(c)
	if !ok {
		return
	}
	ctx := logger.WithContext(c.Request.Context(), logger.SessionIDKey, exec.Session.ID())

	text, err := exec.Run(ctx)
	if err != nil && !apperrors.IsAborted(err) {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, &dto.CompletionResponse{
		SessionID: exec.Session.ID(),
		Text:      text,
		State:     exec.Session.State(),
	})
}

// Generate 以 SSE 推送生成过程。
// 事件依次为 session、若干 content，最后是 done、aborted 或 error 之一。
// @Summary 生成（SSE）
// @Tags Drafts
// @Accept json
// @Produce text/event-stream
// @Param body body dto.GenerateRequest true "起草上下文与生成参数"
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/drafts/generate [post]
func (h *DraftHandler) Generate(c *gin.Context) {
	exec, ok := h.prepare(c)
	if !ok {
		return
	}
	ctx := logger.WithContext(c.Request.Context(), logger.SessionIDKey, exec.Session.ID())

	watcher := newStateWatcher()
	exec.Session.Observe(watcher.observe)

	type outcome struct {
		text string
		err  error
	}
	doneCh := make(chan outcome, 1)
	go func() {
		text, err := exec.Run(ctx)
		doneCh <- outcome{text: text, err: err}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("session", gin.H{"session_id": exec.Session.ID()})
	c.Writer.Flush()

	index := 0
	sent := 0
	emitDelta := func(text string) {
		if len(text) < sent {
			// 会话被其它请求重置
			sent = len(text)
			return
		}
		if len(text) == sent {
			return
		}
		c.SSEvent("content", gin.H{"chunk": text[sent:], "index": index})
		sent = len(text)
		index++
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-watcher.signal:
			emitDelta(watcher.latest().StreamedText)
			return true

		case out := <-doneCh:
			state := exec.Session.State()
			emitDelta(state.StreamedText)
			switch {
			case out.err == nil && state.Phase != generation.PhaseAborted:
				c.SSEvent("done", gin.H{"session_id": exec.Session.ID(), "text": out.text, "state": state})
			case out.err == nil || apperrors.IsAborted(out.err):
				c.SSEvent("aborted", gin.H{"session_id": exec.Session.ID(), "text": out.text})
			default:
				appErr := apperrors.AsAppError(out.err)
				c.SSEvent("error", gin.H{
					"session_id": exec.Session.ID(),
					"code":       appErr.Code,
					"message":    appErr.Message,
					"detail":     appErr.Detail,
				})
			}
			return false

		case <-ctx.Done():
			return false
		}
	})
}

// prepare 绑定请求并准备执行；失败时已写出响应
func (h *DraftHandler) prepare(c *gin.Context) (*generation.Execution, bool) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return nil, false
	}

	exec, cfgErr, err := h.svc.Prepare(c.Request.Context(), req.ToDraft(), req.ToParams())
	if err != nil {
		dto.AppError(c, err)
		return nil, false
	}
	if cfgErr != nil {
		appErr := cfgErr.AppError()
		dto.ErrorWithDetail(c, http.StatusUnprocessableEntity, appErr.Message, &dto.ErrorDetail{
			ErrorCode: string(appErr.Code),
			Details:   cfgErr.Reason,
			Missing:   cfgErr.Missing,
		})
		return nil, false
	}
	return exec, true
}

// stateWatcher 只保留最新快照，观察者回调永不阻塞
type stateWatcher struct {
	mu     sync.Mutex
	state  generation.StreamingState
	signal chan struct{}
}

func newStateWatcher() *stateWatcher {
	return &stateWatcher{signal: make(chan struct{}, 1)}
}

func (w *stateWatcher) observe(s generation.StreamingState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *stateWatcher) latest() generation.StreamingState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
