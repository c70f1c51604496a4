// Package llm 提供生成服务提供商的统一抽象与各传输实现
package llm

import (
	"context"
	"io"
	"net/http"
	"strings"

	"storyforge-api/internal/domain/entity"
)

// Request 一次流式生成请求
type Request struct {
	Messages    []entity.PromptMessage
	Model       string
	Temperature float64
	MaxTokens   int
}

// TokenReader 解码后的纯文本 token 序列。
// Recv 在自然结束时返回 io.EOF；帧被截断时返回 ErrStreamFraming。
type TokenReader interface {
	Recv() (string, error)
	Close() error
}

// Response 提供商返回的流式响应句柄
type Response struct {
	StatusCode int
	Provider   string
	Model      string
	// Body 仅在 2xx 时非空
	Body TokenReader
	// ErrorMessage 非 2xx 时提供商返回的错误摘要
	ErrorMessage string
}

// OK 是否为成功状态
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// NoContent 是否为 204（调用在提供商响应前被取消）
func (r *Response) NoContent() bool {
	return r != nil && r.StatusCode == http.StatusNoContent
}

// Close 释放底层连接
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Provider 生成服务提供商能力接口，每种后端一个实现
type Provider interface {
	// Name 提供商标识（配置中的 key）
	Name() string
	// DefaultModel 请求未指定模型时使用的模型
	DefaultModel() string
	// Stream 发起流式生成。网络故障返回 error；
	// 非 2xx 状态以 Response.StatusCode 表达，由调用方决定如何处理。
	Stream(ctx context.Context, req *Request) (*Response, error)
}

const maxErrorBody = 512

// readErrorBody 读取并截断错误响应体
func readErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody+1))
	return truncate(strings.TrimSpace(string(data)), maxErrorBody)
}

// errorResponse 构造非 2xx 响应，并关闭原始 body
func errorResponse(resp *http.Response, provider, model string) *Response {
	defer resp.Body.Close()
	msg := readErrorBody(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Response{
		StatusCode:   resp.StatusCode,
		Provider:     provider,
		Model:        model,
		ErrorMessage: msg,
	}
}

func resolveModel(req *Request, p Provider) string {
	if req.Model != "" {
		return req.Model
	}
	return p.DefaultModel()
}
