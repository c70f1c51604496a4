package generation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/service"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
)

// Manager 进程内会话注册表：让客户端可以按 ID 查询、取消或重置进行中的生成
type Manager struct {
	providers    ProviderSource
	notifier     service.Notifier
	previewRunes int
	retention    time.Duration

	mu       sync.RWMutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session    *Session
	dispatcher *Dispatcher
}

func NewManager(providers ProviderSource, notifier service.Notifier, cfg *config.Config) *Manager {
	retention := cfg.Generation.SessionRetention
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &Manager{
		providers:    providers,
		notifier:     notifier,
		previewRunes: cfg.Generation.LogPreviewRunes,
		retention:    retention,
		sessions:     make(map[string]*managedSession),
	}
}

// Create 新建会话，每个会话拥有独立的派发器（因此 Abort 只影响自己的调用）
func (m *Manager) Create(storyID string) (*Session, *Dispatcher) {
	d := NewDispatcher(m.providers, m.previewRunes)
	s := NewSession(uuid.NewString(), storyID, d, m.notifier)

	m.mu.Lock()
	m.sessions[s.ID()] = &managedSession{session: s, dispatcher: d}
	m.mu.Unlock()
	return s, d
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrSessionNotFound.WithDetail(id)
	}
	return ms.session, nil
}

func (m *Manager) Abort(id string) (StreamingState, error) {
	s, err := m.Get(id)
	if err != nil {
		return StreamingState{}, err
	}
	s.Abort()
	return s.State(), nil
}

func (m *Manager) Reset(id string) (StreamingState, error) {
	s, err := m.Get(id)
	if err != nil {
		return StreamingState{}, err
	}
	s.Reset()
	return s.State(), nil
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 清理已结束且超过保留期的会话
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, ms := range m.sessions {
		finished, updatedAt := ms.session.Finished()
		if finished && now.Sub(updatedAt) > m.retention {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run 周期性清理，直到 ctx 结束
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.retention / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				logger.Debug(ctx, "swept finished generation sessions", "count", n)
			}
		}
	}
}

// Shutdown 取消所有进行中的会话
func (m *Manager) Shutdown() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ms := range m.sessions {
		ms.session.Abort()
	}
}
