// Package service 定义跨层共享的上下文约定
package service

import (
	"context"
	"strings"
)

type llmCtxKey string

const (
	llmCtxKeyTemplate llmCtxKey = "llm_template"
	llmCtxKeyProvider llmCtxKey = "llm_provider"
)

// WithTemplate 记录本次调用所使用的 prompt 模板，供回调打点
func WithTemplate(ctx context.Context, templateID string) context.Context {
	t := strings.TrimSpace(templateID)
	if t == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyTemplate, t)
}

// WithProvider 记录本次调用的提供商标识
func WithProvider(ctx context.Context, provider string) context.Context {
	p := strings.TrimSpace(provider)
	if p == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyProvider, p)
}

func WithTemplateProvider(ctx context.Context, templateID, provider string) context.Context {
	return WithProvider(WithTemplate(ctx, templateID), provider)
}

func TemplateFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyTemplate)
}

func ProviderFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyProvider)
}

func stringFromContext(ctx context.Context, key llmCtxKey) string {
	if ctx == nil {
		return "unknown"
	}
	s, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
