package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"storyforge-api/internal/config"
	"storyforge-api/internal/interfaces/http/handler"
	prompttpl "storyforge-api/internal/workflow/prompt"
)

type staticCatalog struct{}

func (staticCatalog) Names() []string { return []string{"local"} }
func (staticCatalog) Default() string { return "local" }

func TestRouterRegistersSystemAndV1Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.App.Name = "storyforge-test"
	cfg.Observability.Metrics.Enabled = true
	cfg.Observability.Metrics.Path = "/metrics"

	r := New(cfg, &Handlers{
		Health:       handler.NewHealthHandler("test", nil, nil),
		Draft:        handler.NewDraftHandler(nil),
		Session:      handler.NewSessionHandler(nil),
		Template:     handler.NewTemplateHandler(prompttpl.NewRegistry()),
		Provider:     handler.NewProviderHandler(staticCatalog{}),
		ChapterCache: handler.NewChapterCacheHandler(nil),
	}, nil)

	for _, path := range []string{"/health", "/live", "/metrics", "/v1/templates", "/v1/providers"} {
		w := httptest.NewRecorder()
		r.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	routes := map[string]bool{}
	for _, info := range r.Engine().Routes() {
		routes[info.Method+" "+info.Path] = true
	}
	for _, want := range []string{
		"POST /v1/drafts/preview",
		"POST /v1/drafts/generate",
		"POST /v1/drafts/complete",
		"GET /v1/sessions/:sid",
		"DELETE /v1/sessions/:sid",
		"POST /v1/sessions/:sid/abort",
		"POST /v1/sessions/:sid/reset",
		"DELETE /v1/stories/:story_id/chapters/cache",
	} {
		assert.True(t, routes[want], want)
	}
}
