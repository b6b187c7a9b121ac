package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bainianlaoyao/stream-note/internal/extractor"
	"github.com/bainianlaoyao/stream-note/internal/llm"
	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/richtext"
	"github.com/bainianlaoyao/stream-note/internal/store"
)

// stubExtractor returns a task for every line containing "todo" and fails
// on lines containing "boom".
type stubExtractor struct {
	mu    sync.Mutex
	calls []string
	fail  error
	hook  func(text string)
}

func (s *stubExtractor) Extract(_ context.Context, text string) ([]extractor.Task, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	hook, fail := s.hook, s.fail
	s.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	if fail != nil {
		return nil, fail
	}
	if strings.Contains(text, "boom") {
		return nil, &extractor.AIServiceError{Attempts: 2, Err: errors.New("upstream 503")}
	}
	if strings.Contains(text, "todo") {
		expr := "tomorrow 3pm"
		return []extractor.Task{{Text: text, HasTime: true, TimeExpr: &expr}}, nil
	}
	return nil, nil
}

func (s *stubExtractor) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fixture struct {
	store *store.SQLiteStore
	queue *Queue
	ext   *stubExtractor
	doc   *model.Document

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Idle = 0
	cfg.Poll = 10 * time.Millisecond
	return cfg
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, ext: &stubExtractor{}, now: time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)}
	s.SetClock(f.Now)
	f.queue = NewQueue(s, cfg, func(context.Context, string) (TaskExtractor, error) {
		return f.ext, nil
	}, zerolog.Nop())

	require.NoError(t, s.Update(context.Background(), func(tx *store.Tx) error {
		f.doc, err = tx.EnsureDocument(context.Background(), "alice")
		return err
	}))
	return f
}

// write stores content on the document and enqueues it, as a save would.
func (f *fixture) write(t *testing.T, lines ...string) {
	t.Helper()
	ctx := context.Background()
	content := richtext.FromText(strings.Join(lines, "\n"))
	require.NoError(t, f.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetDocumentContent(ctx, f.doc.ID, content)
	}))
	require.NoError(t, f.queue.Enqueue(ctx, f.doc.ID, "alice", content))
}

func (f *fixture) job(t *testing.T) model.Job {
	t.Helper()
	var jobs []model.Job
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		jobs, err = tx.ListJobs(context.Background(), "alice")
		return err
	}))
	require.Len(t, jobs, 1)
	return jobs[0]
}

func (f *fixture) blocks(t *testing.T) []model.Block {
	t.Helper()
	var blocks []model.Block
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		blocks, err = tx.ListBlocks(context.Background(), f.doc.ID)
		return err
	}))
	return blocks
}

func (f *fixture) tasks(t *testing.T) []model.Task {
	t.Helper()
	var tasks []model.Task
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		tasks, err = tx.ListTasks(context.Background(), store.TaskFilter{OwnerID: "alice", IncludeHidden: true})
		return err
	}))
	return tasks
}

func (f *fixture) process(t *testing.T) bool {
	t.Helper()
	did, err := f.queue.ProcessOne(context.Background())
	require.NoError(t, err)
	return did
}

func TestRetryDelay(t *testing.T) {
	cfg := Config{RetryBase: 4 * time.Second}
	assert.Equal(t, 4*time.Second, cfg.RetryDelay(0))
	assert.Equal(t, 4*time.Second, cfg.RetryDelay(1))
	assert.Equal(t, 8*time.Second, cfg.RetryDelay(2))
	assert.Equal(t, 16*time.Second, cfg.RetryDelay(3))
}

func TestEnqueue_Coalesces(t *testing.T) {
	cfg := testConfig()
	cfg.Idle = 6 * time.Second
	f := newFixture(t, cfg)

	f.write(t, "first")
	f.Advance(2 * time.Second)
	f.write(t, "second")

	j := f.job(t)
	assert.Equal(t, model.JobPending, j.Status)
	assert.Equal(t, 0, j.Attempts)
	assert.Equal(t, richtext.Hash(richtext.FromText("second")), j.ContentHash)
	require.NotNil(t, j.NextRetryAt)
	assert.True(t, f.Now().Add(6*time.Second).Equal(*j.NextRetryAt))

	// The due time slid forward, so nothing runs yet.
	f.Advance(5 * time.Second)
	assert.False(t, f.process(t))
	f.Advance(time.Second)
	assert.True(t, f.process(t))
	assert.Equal(t, []string{"second"}, f.ext.Calls())
}

func TestEnqueue_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	f := newFixture(t, cfg)
	f.write(t, "todo: call mom")

	var jobs []model.Job
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		jobs, err = tx.ListJobs(context.Background(), "")
		return err
	}))
	assert.Empty(t, jobs)
}

func TestProcessOne_ExtractsTasks(t *testing.T) {
	f := newFixture(t, testConfig())
	f.write(t, "todo: buy milk", "nice weather")

	assert.True(t, f.process(t))
	assert.Equal(t, model.JobDone, f.job(t).Status)

	blocks := f.blocks(t)
	require.Len(t, blocks, 2)
	assert.True(t, blocks[0].IsTask)
	assert.True(t, blocks[0].IsAnalyzed)
	assert.False(t, blocks[1].IsTask)
	assert.True(t, blocks[1].IsAnalyzed)

	tasks := f.tasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, "todo: buy milk", tasks[0].Text)
	assert.Equal(t, "tomorrow 3pm", tasks[0].RawTimeExpr)
	require.NotNil(t, tasks[0].DueDate)
	assert.Equal(t, 15, tasks[0].DueDate.In(time.Local).Hour())

	// Done jobs are not picked up again.
	assert.False(t, f.process(t))
}

func TestReconcile_DeletesTrailingBlocks(t *testing.T) {
	f := newFixture(t, testConfig())
	f.write(t, "alpha", "todo beta")
	require.True(t, f.process(t))
	before := f.blocks(t)
	require.Len(t, before, 2)
	require.Len(t, f.tasks(t), 1)

	f.write(t, "alpha")
	require.True(t, f.process(t))

	after := f.blocks(t)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID, "unchanged block keeps its identity")
	assert.True(t, after[0].IsAnalyzed)
	assert.Empty(t, f.tasks(t))
	// alpha was already analyzed, so the second run extracts nothing.
	assert.Equal(t, []string{"alpha", "todo beta"}, f.ext.Calls())
}

func TestReconcile_ChangedBlockResetsFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.write(t, "todo one")
	require.True(t, f.process(t))

	content := richtext.FromText("todo two")
	var pending []model.Block
	require.NoError(t, f.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.SetDocumentContent(ctx, f.doc.ID, content); err != nil {
			return err
		}
		doc, err := tx.Document(ctx, "alice", f.doc.ID)
		if err != nil {
			return err
		}
		pending, err = Reconcile(ctx, tx, doc, 10)
		return err
	}))
	require.Len(t, pending, 1)
	assert.Equal(t, "todo two", pending[0].Content)
	assert.False(t, pending[0].IsTask)
	assert.False(t, pending[0].IsAnalyzed)
}

func TestProcessOne_PartialFailureKeepsEarlierTasks(t *testing.T) {
	f := newFixture(t, testConfig())
	f.write(t, "todo: pay rent", "boom", "todo: later")

	assert.True(t, f.process(t))

	j := f.job(t)
	assert.Equal(t, model.JobFailed, j.Status)
	assert.Contains(t, j.LastError, "upstream 503")
	require.Len(t, f.tasks(t), 1)
	assert.Equal(t, []string{"todo: pay rent", "boom"}, f.ext.Calls())

	blocks := f.blocks(t)
	assert.True(t, blocks[0].IsAnalyzed)
	assert.False(t, blocks[1].IsAnalyzed)
	assert.False(t, blocks[2].IsAnalyzed)
}

func TestProcessOne_BackoffThenGiveUp(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetry = 4
	cfg.RetryBase = 4 * time.Second
	f := newFixture(t, cfg)
	f.ext.fail = errors.New("connection refused")
	f.write(t, "todo: anything")

	for _, wait := range []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second} {
		require.True(t, f.process(t))
		j := f.job(t)
		assert.Equal(t, model.JobFailed, j.Status)
		require.NotNil(t, j.NextRetryAt)
		assert.Equal(t, wait, j.NextRetryAt.Sub(f.Now()))

		// Not due a moment early.
		f.Advance(wait - time.Millisecond)
		assert.False(t, f.process(t))
		f.Advance(time.Millisecond)
	}

	require.True(t, f.process(t))
	j := f.job(t)
	assert.Equal(t, model.JobFailed, j.Status)
	assert.Equal(t, 4, j.Attempts)
	assert.Nil(t, j.NextRetryAt)
	assert.Equal(t, "connection refused", j.LastError)

	f.Advance(time.Hour)
	assert.False(t, f.process(t))

	// A new save revives the job.
	f.ext.fail = nil
	f.write(t, "todo: anything else")
	assert.True(t, f.process(t))
	assert.Equal(t, model.JobDone, f.job(t).Status)
}

func TestProcessOne_SupersededFailureRequeues(t *testing.T) {
	cfg := testConfig()
	cfg.Idle = 6 * time.Second
	f := newFixture(t, cfg)
	f.write(t, "boom")
	f.Advance(cfg.Idle)

	f.ext.hook = func(string) {
		f.ext.hook = nil
		content := richtext.FromText("todo: fixed")
		require.NoError(t, f.queue.Enqueue(context.Background(), f.doc.ID, "alice", content))
	}
	require.True(t, f.process(t))

	j := f.job(t)
	assert.Equal(t, model.JobPending, j.Status)
	assert.Empty(t, j.LastError)
	require.NotNil(t, j.NextRetryAt)
	assert.Equal(t, cfg.Idle, j.NextRetryAt.Sub(f.Now()))
}

func TestProcessOne_SupersededSuccessRequeues(t *testing.T) {
	f := newFixture(t, testConfig())
	f.write(t, "todo: first")

	f.ext.hook = func(string) {
		f.ext.hook = nil
		content := richtext.FromText("todo: second")
		require.NoError(t, f.queue.Enqueue(context.Background(), f.doc.ID, "alice", content))
	}
	require.True(t, f.process(t))
	assert.Equal(t, model.JobPending, f.job(t).Status)
}

func TestProcessOne_RemainingBlocksRunNext(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	f := newFixture(t, cfg)
	f.write(t, "one", "two", "three")

	require.True(t, f.process(t))
	j := f.job(t)
	assert.Equal(t, model.JobPending, j.Status)
	assert.Equal(t, 1, j.Attempts, "claimed attempts carry over to the next batch")
	require.NotNil(t, j.NextRetryAt)
	assert.True(t, f.Now().Equal(*j.NextRetryAt))

	require.True(t, f.process(t))
	j = f.job(t)
	assert.Equal(t, model.JobDone, j.Status)
	assert.Equal(t, 0, j.Attempts)
	assert.Equal(t, []string{"one", "two", "three"}, f.ext.Calls())
}

func TestProcessOne_ExtractorSourceError(t *testing.T) {
	f := newFixture(t, testConfig())
	f.queue.extractors = func(context.Context, string) (TaskExtractor, error) {
		return nil, errors.New("no provider")
	}
	f.write(t, "todo")

	require.True(t, f.process(t))
	j := f.job(t)
	assert.Equal(t, model.JobFailed, j.Status)
	assert.Contains(t, j.LastError, "no provider")
}

func TestProcessOne_MissingDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	require.NoError(t, f.store.Update(ctx, func(tx *store.Tx) error {
		return tx.UpsertJob(ctx, "alice", "gone", "hash", tx.Now())
	}))

	require.True(t, f.process(t))
	var jobs []model.Job
	require.NoError(t, f.store.View(ctx, func(tx *store.Tx) error {
		var err error
		jobs, err = tx.ListJobs(ctx, "alice")
		return err
	}))
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobDone, jobs[0].Status)
	assert.Empty(t, f.ext.Calls())
}

func TestAnalyzeNow(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetDocumentContent(ctx, f.doc.ID, richtext.FromText("todo: email bob\nhello"))
	}))

	res, err := f.queue.AnalyzeNow(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Analyzed)
	assert.Equal(t, 1, res.TasksFound)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "todo: email bob", res.Tasks[0].BlockContent)

	res, err = f.queue.AnalyzeNow(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, res.Analyzed)
	assert.NotNil(t, res.Tasks)

	_, err = f.queue.AnalyzeNow(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWorker_DrainsQueueAndStops(t *testing.T) {
	f := newFixture(t, testConfig())
	f.write(t, "todo: water plants")

	w := NewWorker(f.queue, zerolog.Nop())
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Stop(time.Second) })

	require.Eventually(t, func() bool {
		return f.job(t).Status == model.JobDone
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, w.Stop(time.Second))
	assert.True(t, w.Stop(time.Second), "second stop is a no-op")
}

func TestWorker_ResetsOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.write(t, "todo: orphan")

	var claimed *model.Job
	require.NoError(t, f.store.Update(ctx, func(tx *store.Tx) error {
		due, err := tx.NextDueJob(ctx)
		if err != nil {
			return err
		}
		claimed, err = tx.ClaimJob(ctx, due.ID)
		return err
	}))
	require.NotNil(t, claimed)
	assert.False(t, f.process(t), "running jobs are not due")

	n, err := f.queue.ResetOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a claim within its lease is left alone")
	assert.Equal(t, model.JobRunning, f.job(t).Status)

	f.Advance(f.queue.Config().Lease + time.Second)
	w := NewWorker(f.queue, zerolog.Nop())
	require.NoError(t, w.Start(ctx))
	defer w.Stop(time.Second)

	require.Eventually(t, func() bool {
		return f.job(t).Status == model.JobDone
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_RestartWhileBatchInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })
	t.Cleanup(unblock)
	var active, peak atomic.Int32
	f.ext.hook = func(string) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
	}
	f.write(t, "todo: slow")

	w := NewWorker(f.queue, zerolog.Nop())
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		return active.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, w.Stop(50*time.Millisecond))
	assert.ErrorIs(t, w.Start(ctx), ErrLoopRunning)

	// Another worker on the same queue must not take over the held job.
	other := NewWorker(f.queue, zerolog.Nop())
	require.NoError(t, other.Start(ctx))
	defer other.Stop(time.Second)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, model.JobRunning, f.job(t).Status)

	unblock()
	require.Eventually(t, func() bool {
		return f.job(t).Status == model.JobDone
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return w.Start(ctx) == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer w.Stop(time.Second)

	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, f.ext.Calls(), 1)
}

func TestWorker_SurvivesPanics(t *testing.T) {
	f := newFixture(t, testConfig())
	var once sync.Once
	f.ext.hook = func(string) {
		once.Do(func() { panic("extractor exploded") })
	}
	f.write(t, "todo: first")

	w := NewWorker(f.queue, zerolog.Nop())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(time.Second)

	// The panicking run leaves the job running; a new save requeues it and
	// the loop is still alive to finish it.
	require.Eventually(t, func() bool {
		return len(f.ext.Calls()) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	f.write(t, "todo: second")
	require.Eventually(t, func() bool {
		return f.job(t).Status == model.JobDone
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	f := newFixture(t, cfg)
	w := NewWorker(f.queue, zerolog.Nop())
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.Stop(0))
}

func TestSettingsFor(t *testing.T) {
	defaults := llm.Settings{
		Provider:        llm.ProviderOpenAICompatible,
		BaseURL:         "http://localhost:11434/v1",
		APIKey:          "dummy-key",
		Model:           "llama3.2",
		Timeout:         20 * time.Second,
		MaxAttempts:     2,
		DisableThinking: true,
	}
	assert.Equal(t, defaults, SettingsFor(defaults, nil))

	got := SettingsFor(defaults, &model.ProviderSetting{
		Provider:       llm.ProviderDashScope,
		Model:          "qwen-plus",
		TimeoutSeconds: 7.5,
	})
	assert.Equal(t, llm.ProviderDashScope, got.Provider)
	assert.Equal(t, "qwen-plus", got.Model)
	assert.Equal(t, defaults.BaseURL, got.BaseURL)
	assert.Equal(t, defaults.APIKey, got.APIKey)
	assert.Equal(t, 7500*time.Millisecond, got.Timeout)
	assert.Equal(t, 2, got.MaxAttempts)
	assert.False(t, got.DisableThinking)
}

type recordingClient struct {
	settings llm.Settings
}

func (c *recordingClient) Chat(context.Context, llm.ChatRequest) (string, error) {
	return "[]", nil
}

func TestProviderExtractors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	defaults := llm.Settings{Model: "default-model", MaxAttempts: 1}

	var built []llm.Settings
	source := ProviderExtractors(f.store, defaults, func(s llm.Settings) llm.Client {
		built = append(built, s)
		return &recordingClient{settings: s}
	})

	_, err := source(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, built, 1, "defaults are reused without an override")

	require.NoError(t, f.store.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.PutProviderSetting(ctx, model.ProviderSetting{OwnerID: "alice", Model: "owner-model"})
		return err
	}))
	ext, err := source(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, built, 2)
	assert.Equal(t, "owner-model", built[1].Model)

	tasks, err := ext.Extract(ctx, "hello")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
