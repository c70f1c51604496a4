package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"storyforge-api/internal/config"
)

// 提供商类型
const (
	TypeEinoOpenAI = "eino_openai"
	TypeOpenAISSE  = "openai_sse"
	TypeOllama     = "ollama"
	TypeGoOpenAI   = "go_openai"
)

// Constructor 按配置创建某一类型的提供商
type Constructor func(ctx context.Context, name string, cfg config.ProviderConfig) (Provider, error)

// Registry 按提供商标识管理 Provider 实例（惰性创建，进程内复用）
type Registry struct {
	config       *config.LLMConfig
	constructors map[string]Constructor
	providers    map[string]Provider
	mu           sync.RWMutex
}

// NewRegistry 创建提供商注册表，并注册内置类型
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		config:       &cfg.LLM,
		constructors: make(map[string]Constructor),
		providers:    make(map[string]Provider),
	}
	r.RegisterType(TypeEinoOpenAI, func(ctx context.Context, name string, pc config.ProviderConfig) (Provider, error) {
		return NewEinoOpenAIProvider(ctx, name, pc)
	})
	r.RegisterType(TypeOpenAISSE, func(_ context.Context, name string, pc config.ProviderConfig) (Provider, error) {
		return NewSSEProvider(name, pc), nil
	})
	r.RegisterType(TypeOllama, func(_ context.Context, name string, pc config.ProviderConfig) (Provider, error) {
		return NewNDJSONProvider(name, pc), nil
	})
	r.RegisterType(TypeGoOpenAI, func(_ context.Context, name string, pc config.ProviderConfig) (Provider, error) {
		return NewGoOpenAIProvider(name, pc), nil
	})
	return r
}

// RegisterType 注册新的提供商类型
func (r *Registry) RegisterType(typ string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typ] = c
}

// Get 获取指定标识的 Provider，未指定时返回默认提供商
func (r *Registry) Get(ctx context.Context, name string) (Provider, error) {
	if name == "" {
		name = r.config.DefaultProvider
	}

	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 再次检查防止竞态
	if p, ok = r.providers[name]; ok {
		return p, nil
	}

	pc, ok := r.config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}
	typ := pc.Type
	if typ == "" {
		typ = TypeEinoOpenAI
	}
	construct, ok := r.constructors[typ]
	if !ok {
		return nil, fmt.Errorf("provider %s has unsupported type %q", name, typ)
	}

	p, err := construct(ctx, name, pc)
	if err != nil {
		return nil, err
	}
	r.providers[name] = p
	return p, nil
}

// Names 返回已配置的提供商标识（有序）
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.config.Providers))
	for name := range r.config.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default 默认提供商标识
func (r *Registry) Default() string {
	return r.config.DefaultProvider
}
