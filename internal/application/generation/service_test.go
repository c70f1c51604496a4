package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge-api/internal/application/lorebook"
	"storyforge-api/internal/application/prompt"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/infrastructure/llm"
	prompttpl "storyforge-api/internal/workflow/prompt"
	apperrors "storyforge-api/pkg/errors"
)

type memChapters []*entity.Chapter

func (m memChapters) ListByStory(_ context.Context, storyID string) ([]*entity.Chapter, error) {
	var out []*entity.Chapter
	for _, c := range m {
		if c.StoryID == storyID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m memChapters) GetByID(_ context.Context, id string) (*entity.Chapter, error) {
	for _, c := range m {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

type memLorebook []*entity.LorebookEntry

func (m memLorebook) ListByStory(_ context.Context, _ string) ([]*entity.LorebookEntry, error) {
	return m, nil
}

func (m memLorebook) GetByIDs(_ context.Context, _ string, ids []string) ([]*entity.LorebookEntry, error) {
	var out []*entity.LorebookEntry
	for _, id := range ids {
		for _, e := range m {
			if e.ID == id {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func serviceConfig() *config.Config {
	return &config.Config{
		Prompt: config.PromptConfig{
			DefaultTemplate:   string(prompttpl.PromptContinueV1),
			DefaultPOVType:    entity.DefaultPOVType,
			LorebookScanDepth: 1,
		},
		Generation: config.GenerationConfig{
			LogPreviewRunes:  40,
			MaxTemperature:   2,
			MaxTokensLimit:   4096,
			SessionRetention: time.Minute,
		},
	}
}

type serviceFixture struct {
	svc      *Service
	manager  *Manager
	provider *fakeProvider
	notifier *recordingNotifier
}

func newServiceFixture(stream func(ctx context.Context, req *llm.Request) (*llm.Response, error)) *serviceFixture {
	cfg := serviceConfig()
	chapters := memChapters{
		{ID: "c1", StoryID: "s1", Order: 1, Title: "Arrival", Summary: "The crew arrives.", Content: "The fortress loomed over the bay."},
		{ID: "c2", StoryID: "s1", Order: 2, Title: "Night", Content: "Ann waited by the fire.", POVType: entity.POVFirstPerson, POVCharacter: "Ann"},
	}
	entries := memLorebook{
		{ID: "e1", Name: "Ann", Category: entity.LorebookCharacter, Description: "A smuggler."},
		{ID: "e2", Name: "Black Keep", Tags: pq.StringArray{"fortress"}, Category: entity.LorebookLocation, Description: "An old prison."},
		{ID: "e3", Name: "Rook", Category: entity.LorebookCharacter, Description: "A harbor spy."},
	}

	provider := &fakeProvider{name: "fake", stream: stream}
	notifier := &recordingNotifier{}
	manager := NewManager(fakeSource{"fake": provider}, notifier, cfg)
	parser := prompt.NewParser(prompt.NewContextBuilder(chapters, cfg), prompttpl.NewRegistry(), cfg)
	svc := NewService(parser, lorebook.NewMatcher(entries), chapters, manager, cfg)
	return &serviceFixture{svc: svc, manager: manager, provider: provider, notifier: notifier}
}

func tokensStream(tokens ...string) func(context.Context, *llm.Request) (*llm.Response, error) {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return okResponse(&sliceReader{tokens: tokens}), nil
	}
}

var defaultParams = Params{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}

func TestPreviewMatchesExecutedMessages(t *testing.T) {
	f := newServiceFixture(tokensStream("The", " door", " opened."))
	req := DraftRequest{Config: prompt.ParserConfig{StoryID: "s1", ChapterID: "c2", Instruction: "Rook arrives."}}

	preview, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, preview.Err)

	exec, cfgErr, err := f.svc.Prepare(context.Background(), req, defaultParams)
	require.NoError(t, err)
	require.Nil(t, cfgErr)
	assert.Equal(t, preview.Messages, exec.Messages)

	text, err := exec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "The door opened.", text)
	assert.Equal(t, preview.Messages, f.provider.LastRequest().Messages)

	state := exec.Session.State()
	assert.True(t, state.IsComplete)
	assert.Equal(t, "The door opened.", state.StreamedText)
}

func TestPrepareReturnsConfigurationErrorWithoutSession(t *testing.T) {
	f := newServiceFixture(tokensStream("unused"))
	req := DraftRequest{Config: prompt.ParserConfig{StoryID: "s1", TemplateID: prompttpl.PromptContinueV1}}

	exec, cfgErr, err := f.svc.Prepare(context.Background(), req, defaultParams)
	require.NoError(t, err)
	assert.Nil(t, exec)
	require.NotNil(t, cfgErr)
	assert.Equal(t, prompttpl.PromptContinueV1, cfgErr.TemplateID)
	assert.Zero(t, f.manager.Len())
}

func TestPrepareRejectsInvalidParams(t *testing.T) {
	f := newServiceFixture(tokensStream("unused"))
	req := DraftRequest{Config: prompt.ParserConfig{StoryID: "s1", ChapterID: "c2"}}

	_, _, err := f.svc.Prepare(context.Background(), req, Params{Temperature: 3, MaxTokens: 10})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidParam))
	assert.Zero(t, f.manager.Len())
}

func TestPreviewMergesLorebookEntries(t *testing.T) {
	f := newServiceFixture(tokensStream())
	req := DraftRequest{
		Config:            prompt.ParserConfig{StoryID: "s1", ChapterID: "c2"},
		LorebookIDs:       []string{"e3"},
		AutoMatchLorebook: true,
	}

	result, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, result.Err)

	system := result.Messages[0].Content
	assert.Contains(t, system, "Rook (character)")
	assert.Contains(t, system, "Ann (character)")
	// 前一章中的标签同样触发匹配
	assert.Contains(t, system, "Black Keep (location)")
}

func TestPreviewWithoutLorebookOptionsLeavesEntriesAlone(t *testing.T) {
	f := newServiceFixture(tokensStream())
	result, err := f.svc.Preview(context.Background(), DraftRequest{Config: prompt.ParserConfig{StoryID: "s1", ChapterID: "c2"}})
	require.NoError(t, err)
	require.Nil(t, result.Err)
	assert.NotContains(t, result.Messages[0].Content, "Story reference")
}

func TestRunDispatchFailureNotifiesOnce(t *testing.T) {
	f := newServiceFixture(func(context.Context, *llm.Request) (*llm.Response, error) {
		return nil, errors.New("connection refused")
	})
	exec, _, err := f.svc.Prepare(context.Background(), DraftRequest{Config: prompt.ParserConfig{StoryID: "s1", ChapterID: "c2"}}, defaultParams)
	require.NoError(t, err)

	text, err := exec.Run(context.Background())
	assert.Empty(t, text)
	assert.True(t, errors.Is(err, apperrors.ErrTransport))
	assert.Equal(t, 1, f.notifier.Count())

	state := exec.Session.State()
	assert.False(t, state.IsStreaming)
	assert.False(t, state.IsComplete)
	assert.Empty(t, state.StreamedText)
}

func TestManagerAbortStopsRunningExecution(t *testing.T) {
	body := newChanReader(2)
	f := newServiceFixture(func(context.Context, *llm.Request) (*llm.Response, error) {
		return okResponse(body), nil
	})
	exec, _, err := f.svc.Prepare(context.Background(), DraftRequest{Config: prompt.ParserConfig{StoryID: "s1", ChapterID: "c2"}}, defaultParams)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := exec.Run(context.Background())
		done <- err
	}()
	body.ch <- chunk{token: "Ann"}
	require.Eventually(t, func() bool { return exec.Session.State().StreamedText == "Ann" }, time.Second, 5*time.Millisecond)

	state, err := f.manager.Abort(exec.Session.ID())
	require.NoError(t, err)
	assert.False(t, state.IsStreaming)
	assert.Equal(t, "Ann", state.StreamedText)

	close(body.ch)
	select {
	case err := <-done:
		assert.True(t, apperrors.IsAborted(err))
	case <-time.After(time.Second):
		t.Fatal("execution did not stop")
	}
	assert.Zero(t, f.notifier.Count())
}

func TestAbortDuringProviderLookupStopsExecution(t *testing.T) {
	provider := &fakeProvider{name: "fake", stream: tokensStream("never shown")}
	source := newGatedSource(fakeSource{"fake": provider})
	notifier := &recordingNotifier{}
	cfg := serviceConfig()
	manager := NewManager(source, notifier, cfg)
	chapters := memChapters{{ID: "c1", StoryID: "s1", Order: 1, Title: "Arrival", Content: "The bay was quiet."}}
	parser := prompt.NewParser(prompt.NewContextBuilder(chapters, cfg), prompttpl.NewRegistry(), cfg)
	svc := NewService(parser, nil, chapters, manager, cfg)

	exec, cfgErr, err := svc.Prepare(context.Background(), DraftRequest{Config: prompt.ParserConfig{StoryID: "s1", ChapterID: "c1"}}, defaultParams)
	require.NoError(t, err)
	require.Nil(t, cfgErr)

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := exec.Run(context.Background())
		done <- result{text, err}
	}()

	<-source.entered
	_, err = manager.Abort(exec.Session.ID())
	require.NoError(t, err)
	close(source.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(time.Second):
		t.Fatal("execution did not stop")
	}
	require.NoError(t, res.err)
	assert.Empty(t, res.text)
	assert.Nil(t, provider.LastRequest())

	state := exec.Session.State()
	assert.Equal(t, PhaseAborted, state.Phase)
	assert.False(t, state.IsComplete)
	assert.Empty(t, state.StreamedText)
	assert.Zero(t, notifier.Count())
}

func TestManagerLookupAndSweep(t *testing.T) {
	m := NewManager(fakeSource{}, nil, serviceConfig())

	finished, _ := m.Create("s1")
	streaming, _ := m.Create("s1")
	assert.Equal(t, 2, m.Len())
	assert.NotEqual(t, finished.ID(), streaming.ID())

	got, err := m.Get(finished.ID())
	require.NoError(t, err)
	assert.Same(t, finished, got)

	_, err = m.Get("missing")
	assert.True(t, errors.Is(err, apperrors.ErrSessionNotFound))
	_, err = m.Abort("missing")
	assert.True(t, errors.Is(err, apperrors.ErrSessionNotFound))
	_, err = m.Reset("missing")
	assert.True(t, errors.Is(err, apperrors.ErrSessionNotFound))

	body := newChanReader(0)
	done := startStreaming(t, streaming, body)

	assert.Zero(t, m.Sweep(time.Now()))
	assert.Equal(t, 1, m.Sweep(time.Now().Add(2*time.Minute)))
	_, err = m.Get(finished.ID())
	assert.Error(t, err)
	_, err = m.Get(streaming.ID())
	assert.NoError(t, err)

	state, err := m.Reset(streaming.ID())
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, state.Phase)
	close(body.ch)
	<-done

	m.Remove(streaming.ID())
	assert.Zero(t, m.Len())
}

func TestManagerShutdownAbortsStreams(t *testing.T) {
	m := NewManager(fakeSource{}, nil, serviceConfig())
	s, _ := m.Create("s1")
	body := newChanReader(0)
	done := startStreaming(t, s, body)

	m.Shutdown()
	assert.False(t, s.State().IsStreaming)
	close(body.ch)
	res := <-done
	assert.True(t, apperrors.IsAborted(res.err))
}
