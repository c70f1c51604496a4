package generation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/infrastructure/llm"
)

type chunk struct {
	token string
	err   error
}

// chanReader 由测试逐个推送 token；关闭通道表示自然结束
type chanReader struct {
	ch     chan chunk
	closed atomic.Bool
}

func newChanReader(buffer int) *chanReader {
	return &chanReader{ch: make(chan chunk, buffer)}
}

func (r *chanReader) Recv() (string, error) {
	c, ok := <-r.ch
	if !ok {
		return "", io.EOF
	}
	return c.token, c.err
}

func (r *chanReader) Close() error {
	r.closed.Store(true)
	return nil
}

// sliceReader 预先给定的 token 序列，可选以错误结束
type sliceReader struct {
	tokens []string
	tail   error
	pos    int
	closed atomic.Bool
}

func (r *sliceReader) Recv() (string, error) {
	if r.pos < len(r.tokens) {
		t := r.tokens[r.pos]
		r.pos++
		return t, nil
	}
	if r.tail != nil {
		return "", r.tail
	}
	return "", io.EOF
}

func (r *sliceReader) Close() error {
	r.closed.Store(true)
	return nil
}

func okResponse(body llm.TokenReader) *llm.Response {
	return &llm.Response{StatusCode: http.StatusOK, Provider: "fake", Model: "m", Body: body}
}

type fakeProvider struct {
	name   string
	stream func(ctx context.Context, req *llm.Request) (*llm.Response, error)

	mu      sync.Mutex
	lastReq *llm.Request
}

func (p *fakeProvider) Name() string         { return p.name }
func (p *fakeProvider) DefaultModel() string { return "fake-model" }

func (p *fakeProvider) Stream(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.lastReq = req
	p.mu.Unlock()
	return p.stream(ctx, req)
}

func (p *fakeProvider) LastRequest() *llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

type fakeSource map[string]llm.Provider

func (s fakeSource) Get(_ context.Context, name string) (llm.Provider, error) {
	if name == "" {
		name = "fake"
	}
	p, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return p, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []*entity.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, item *entity.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return nil
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

type countingAborter struct {
	calls atomic.Int32
}

func (a *countingAborter) AbortActiveStream() { a.calls.Add(1) }

// gatedSource 在 Get 中阻塞，直到测试放行
type gatedSource struct {
	next    ProviderSource
	entered chan struct{}
	release chan struct{}
}

func newGatedSource(next ProviderSource) *gatedSource {
	return &gatedSource{next: next, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSource) Get(ctx context.Context, name string) (llm.Provider, error) {
	close(g.entered)
	<-g.release
	return g.next.Get(ctx, name)
}
