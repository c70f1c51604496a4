package generation

import (
	"context"
	"strings"
	"sync"
	"time"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/service"
	"storyforge-api/internal/infrastructure/llm"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

// Phase 会话状态机
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
	PhaseComplete  Phase = "complete"
	PhaseErrored   Phase = "errored"
	PhaseAborted   Phase = "aborted"
)

// StreamingState 会话对外可见的状态快照
type StreamingState struct {
	IsStreaming  bool   `json:"is_streaming"`
	StreamedText string `json:"streamed_text"`
	IsComplete   bool   `json:"is_complete"`
	// Phase 区分"被取消"与"正常完成但无内容"
	Phase Phase  `json:"phase"`
	Error string `json:"error,omitempty"`
}

// Observer 状态变更回调。不得在回调中同步调用 Abort/Reset。
type Observer func(StreamingState)

// Aborter 传输层取消
type Aborter interface {
	AbortActiveStream()
}

// Session 一次生成会话的状态持有者，同一时刻至多一个进行中的流。
// 每次进入 streaming 都会递增 epoch；流回调只有在 epoch 未变时才能修改状态，
// 因此 Abort/Reset 之后到达的 token 不会产生任何可观察的变化。
type Session struct {
	id       string
	storyID  string
	aborter  Aborter
	notifier service.Notifier

	mu        sync.Mutex
	phase     Phase
	buf       strings.Builder
	text      string
	errMsg    string
	epoch     uint64
	version   uint64
	updatedAt time.Time
	observers []Observer

	emitMu      sync.Mutex
	lastEmitted uint64
}

func NewSession(id, storyID string, aborter Aborter, notifier service.Notifier) *Session {
	return &Session{
		id:        id,
		storyID:   storyID,
		aborter:   aborter,
		notifier:  notifier,
		phase:     PhaseIdle,
		updatedAt: time.Now(),
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) StoryID() string { return s.storyID }

// Observe 注册状态观察者
func (s *Session) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// State 返回当前状态快照
func (s *Session) State() StreamingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Finished 会话是否已进入终态（供清理使用）
func (s *Session) Finished() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase != PhaseStreaming, s.updatedAt
}

// Process 消费响应并按到达顺序追加文本。
//   - 204：返回 ("", nil)，不进入 streaming，阶段记为 aborted
//   - 非 2xx：返回 TransportError，状态保持未完成，并发送一次通知
//   - 完成：返回完整文本
//   - 流中故障：返回已累积的文本与错误，并发送一次通知
//   - 被 Abort/Reset：返回冻结的文本与 ErrAborted，不通知
func (s *Session) Process(ctx context.Context, resp *llm.Response) (string, error) {
	s.mu.Lock()
	if s.phase == PhaseStreaming {
		s.mu.Unlock()
		_ = resp.Close()
		return "", apperrors.ErrSessionBusy
	}

	if resp.NoContent() {
		s.resetLocked(PhaseAborted)
		s.mu.Unlock()
		_ = resp.Close()
		metrics.StreamSessionsTotal.WithLabelValues("no_content").Inc()
		s.publish()
		return "", nil
	}

	if !resp.OK() {
		s.mu.Unlock()
		_ = resp.Close()
		err := statusError(resp)
		s.Fail(ctx, err)
		return "", err
	}

	s.resetLocked(PhaseStreaming)
	epoch := s.epoch
	metrics.ActiveStreams.Inc()
	s.mu.Unlock()
	s.publish()

	for token, err := range Tokens(ctx, resp) {
		s.mu.Lock()
		if s.epoch != epoch {
			text := s.text
			s.mu.Unlock()
			return text, apperrors.ErrAborted
		}
		if err != nil {
			if apperrors.IsAborted(err) {
				// 上下文被取消（客户端断开），按主动取消处理
				s.leaveStreamingLocked(PhaseAborted, "")
				text := s.text
				s.mu.Unlock()
				metrics.StreamSessionsTotal.WithLabelValues("aborted").Inc()
				s.publish()
				return text, err
			}
			s.leaveStreamingLocked(PhaseErrored, err.Error())
			text := s.text
			s.mu.Unlock()
			metrics.StreamSessionsTotal.WithLabelValues("error").Inc()
			s.publish()
			s.notify(ctx, err)
			return text, err
		}
		s.buf.WriteString(token)
		s.text = s.buf.String()
		s.touchLocked()
		s.mu.Unlock()
		s.publish()
	}

	s.mu.Lock()
	if s.epoch != epoch {
		text := s.text
		s.mu.Unlock()
		return text, apperrors.ErrAborted
	}
	s.leaveStreamingLocked(PhaseComplete, "")
	text := s.text
	s.mu.Unlock()
	metrics.StreamSessionsTotal.WithLabelValues("complete").Inc()
	s.publish()
	return text, nil
}

// Fail 记录流开始前的终止性故障（例如派发失败）。取消不算故障，不会通知。
func (s *Session) Fail(ctx context.Context, err error) {
	s.mu.Lock()
	if s.phase == PhaseStreaming {
		s.mu.Unlock()
		return
	}
	if apperrors.IsAborted(err) {
		s.resetLocked(PhaseAborted)
		s.mu.Unlock()
		s.publish()
		return
	}
	s.resetLocked(PhaseErrored)
	s.errMsg = err.Error()
	s.mu.Unlock()
	metrics.StreamSessionsTotal.WithLabelValues("error").Inc()
	s.publish()
	s.notify(ctx, err)
}

// Abort 乐观取消：立即把 IsStreaming 置为 false，传输层的拆除可能稍后才完成。
// 尚未开始流（Idle）时也会通知传输层，使即将发起的调用以 204 结束；已终止的会话不受影响。
func (s *Session) Abort() {
	s.mu.Lock()
	wasStreaming := s.phase == PhaseStreaming
	cancelTransport := wasStreaming || s.phase == PhaseIdle
	if wasStreaming {
		s.leaveStreamingLocked(PhaseAborted, "")
		s.epoch++
	}
	s.mu.Unlock()

	if cancelTransport && s.aborter != nil {
		s.aborter.AbortActiveStream()
	}
	if wasStreaming {
		metrics.StreamSessionsTotal.WithLabelValues("aborted").Inc()
		s.publish()
	}
}

// Reset 无条件回到初始状态；进行中的流会被取消且其后续事件被丢弃
func (s *Session) Reset() {
	s.mu.Lock()
	wasStreaming := s.phase == PhaseStreaming
	if wasStreaming {
		metrics.ActiveStreams.Dec()
	}
	s.resetLocked(PhaseIdle)
	s.mu.Unlock()

	if wasStreaming && s.aborter != nil {
		s.aborter.AbortActiveStream()
	}
	s.publish()
}

func (s *Session) snapshotLocked() StreamingState {
	return StreamingState{
		IsStreaming:  s.phase == PhaseStreaming,
		StreamedText: s.text,
		IsComplete:   s.phase == PhaseComplete,
		Phase:        s.phase,
		Error:        s.errMsg,
	}
}

// resetLocked 清空累积内容并切换阶段，同时使旧流失效
func (s *Session) resetLocked(next Phase) {
	s.phase = next
	s.buf.Reset()
	s.text = ""
	s.errMsg = ""
	s.epoch++
	s.touchLocked()
}

func (s *Session) leaveStreamingLocked(next Phase, errMsg string) {
	if s.phase == PhaseStreaming {
		metrics.ActiveStreams.Dec()
	}
	s.phase = next
	s.errMsg = errMsg
	s.touchLocked()
}

func (s *Session) touchLocked() {
	s.version++
	s.updatedAt = time.Now()
}

// publish 按版本顺序把最新快照推给观察者；并发的中间状态可能被合并，但不会乱序
func (s *Session) publish() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	version := s.version
	state := s.snapshotLocked()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if version == s.lastEmitted {
		return
	}
	s.lastEmitted = version
	for _, o := range observers {
		o(state)
	}
}

func (s *Session) notify(ctx context.Context, err error) {
	if s.notifier == nil {
		return
	}
	n := &entity.Notification{
		Level:     entity.NotificationError,
		Title:     "Failed to stream response",
		Message:   err.Error(),
		SessionID: s.id,
		StoryID:   s.storyID,
	}
	if apperrors.IsAppError(err) {
		appErr := apperrors.AsAppError(err)
		n.Code = string(appErr.Code)
		n.Message = appErr.Message
		if appErr.Detail != "" {
			n.Message += ": " + appErr.Detail
		}
	}
	// 请求可能已结束，通知不应随之取消
	if nerr := s.notifier.Notify(context.WithoutCancel(ctx), n); nerr != nil {
		logger.Warn(ctx, "notification delivery failed", "session_id", s.id, "error", nerr)
	}
}
