package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/internal/book"
	"github.com/inkvoice/inkvoice/internal/manifest"
	"github.com/inkvoice/inkvoice/internal/provider"
	"github.com/inkvoice/inkvoice/internal/storage"
	"github.com/inkvoice/inkvoice/pkg/types"
)

func testPipelineConfig(t *testing.T) types.PipelineConfig {
	return types.PipelineConfig{
		WorkerPoolSize:      4,
		MaxRetries:          2,
		RetryBackoffMs:      1,
		SynthesisTimeoutSec: 5,
		MaxChunkChars:       80,
		MaxTextChars:        100000,
		ChapterMinutes:      0.04,
		DriftEpsilonMs:      50,
		TempDir:             t.TempDir(),
	}
}

type testEnv struct {
	orch      *Orchestrator
	repo      book.Repository
	manifests *manifest.Store
}

func newTestEnv(t *testing.T, tts provider.TTSProvider) *testEnv {
	t.Helper()

	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	repo := book.NewRepository(adapter)
	manifests := manifest.NewStore(adapter)

	registry := provider.NewRegistry()
	if err := registry.RegisterTTS(tts); err != nil {
		t.Fatalf("failed to register provider: %v", err)
	}

	ttsCfg := types.TTSConfig{DefaultProvider: tts.Name(), DefaultVoice: "test-voice"}
	orch := NewOrchestrator(testPipelineConfig(t), ttsCfg, repo, manifests, registry, zap.NewNop())

	return &testEnv{orch: orch, repo: repo, manifests: manifests}
}

func (e *testEnv) createBook(t *testing.T, text string) *types.Book {
	t.Helper()
	ctx := context.Background()

	bk := &types.Book{
		ID:               uuid.NewString(),
		Title:            "Test Book",
		Voice:            "test-voice",
		ProcessingStatus: types.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	bk.StoragePath = "books/" + bk.ID
	if err := e.repo.SaveBook(ctx, bk); err != nil {
		t.Fatalf("failed to save book: %v", err)
	}
	if err := e.repo.SaveSource(ctx, bk.ID, text); err != nil {
		t.Fatalf("failed to save source: %v", err)
	}
	return bk
}

func (e *testEnv) waitForTerminal(t *testing.T, bookID string) *types.Book {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		bk, err := e.repo.GetBook(context.Background(), bookID)
		if err != nil {
			t.Fatalf("failed to get book: %v", err)
		}
		if bk.Terminal() {
			return bk
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("book never reached a terminal state")
	return nil
}

const oneChapterText = "The quick brown fox jumps over the dog. A second sentence follows it. And then a third one arrives."

const multiChapterText = "First paragraph has some words in it for the opening chapter of this book.\n" +
	"Second paragraph continues the story with a few more words to speak aloud.\n" +
	"Third paragraph closes the tale with one final set of spoken words here."

func TestStartGenerationHappyPath(t *testing.T) {
	stub := provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	env := newTestEnv(t, stub)
	bk := env.createBook(t, oneChapterText)
	ctx := context.Background()

	if err := env.orch.StartGeneration(ctx, bk.ID); err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}

	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusReady {
		t.Fatalf("status = %s (error: %s), want ready", final.ProcessingStatus, final.ProcessingError)
	}
	if final.TotalDuration <= 0 || final.TotalSegments <= 0 {
		t.Errorf("totals not recorded: duration=%f segments=%d", final.TotalDuration, final.TotalSegments)
	}

	m, err := env.manifests.Get(ctx, bk.ID)
	if err != nil {
		t.Fatalf("manifest missing for ready book: %v", err)
	}
	if m.TotalChapters != len(m.Chapters) || len(m.Chapters) == 0 {
		t.Fatalf("bad manifest: %+v", m)
	}

	for _, ch := range m.Chapters {
		text, err := env.repo.GetChapterText(ctx, bk.ID, ch.ID)
		if err != nil || text == "" {
			t.Errorf("chapter %s text missing: %v", ch.ID, err)
		}
		segs, err := env.repo.GetAlignment(ctx, bk.ID, ch.ID)
		if err != nil || len(segs) == 0 {
			t.Errorf("chapter %s alignment missing: %v", ch.ID, err)
		}
		audio, format, err := env.repo.GetChapterAudio(ctx, bk.ID, ch.ID)
		if err != nil || len(audio) == 0 {
			t.Errorf("chapter %s audio missing: %v", ch.ID, err)
		}
		if format != "wav" {
			t.Errorf("chapter %s format = %s", ch.ID, format)
		}
	}
}

func TestGenerationCreatesMissingTempDir(t *testing.T) {
	stub := provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	env := newTestEnv(t, stub)
	// Nothing pre-creates the configured temp dir on a fresh install
	env.orch.cfg.TempDir = filepath.Join(t.TempDir(), "missing", "nested")
	bk := env.createBook(t, oneChapterText)

	if err := env.orch.StartGeneration(context.Background(), bk.ID); err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}
	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusReady {
		t.Fatalf("status = %s (error: %q), want ready", final.ProcessingStatus, final.ProcessingError)
	}
}

func TestSegmentIDsAreGloballyMonotonic(t *testing.T) {
	stub := provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	env := newTestEnv(t, stub)
	bk := env.createBook(t, multiChapterText)
	ctx := context.Background()

	if err := env.orch.StartGeneration(ctx, bk.ID); err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}
	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusReady {
		t.Fatalf("status = %s (error: %s)", final.ProcessingStatus, final.ProcessingError)
	}

	m, err := env.manifests.Get(ctx, bk.ID)
	if err != nil {
		t.Fatalf("failed to get manifest: %v", err)
	}
	if len(m.Chapters) < 2 {
		t.Fatalf("expected multiple chapters, got %d", len(m.Chapters))
	}

	nextID := 0
	for _, ch := range m.Chapters {
		segs, err := env.repo.GetAlignment(ctx, bk.ID, ch.ID)
		if err != nil {
			t.Fatalf("failed to get alignment for %s: %v", ch.ID, err)
		}
		prevEnd := 0.0
		for _, s := range segs {
			if s.ID != nextID {
				t.Fatalf("chapter %s: segment ID %d, want %d", ch.ID, s.ID, nextID)
			}
			nextID++
			if s.Start < prevEnd {
				t.Errorf("chapter %s: segment %d overlaps previous", ch.ID, s.ID)
			}
			if s.End > ch.Duration+0.051 {
				t.Errorf("chapter %s: segment %d ends at %f past chapter duration %f", ch.ID, s.ID, s.End, ch.Duration)
			}
			prevEnd = s.End
		}
	}
	if nextID != final.TotalSegments {
		t.Errorf("book records %d segments, alignments hold %d", final.TotalSegments, nextID)
	}
}

// slowProvider holds every synthesis call until released or canceled.
type slowProvider struct {
	*provider.StubTTSProvider
	release chan struct{}
}

func newSlowProvider() *slowProvider {
	return &slowProvider{
		StubTTSProvider: provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "slow"}),
		release:         make(chan struct{}),
	}
}

func (p *slowProvider) Synthesize(ctx context.Context, req provider.TTSRequest) (*provider.TTSResult, error) {
	select {
	case <-p.release:
		return p.StubTTSProvider.Synthesize(ctx, req)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStartGenerationSingleAccept(t *testing.T) {
	slow := newSlowProvider()
	env := newTestEnv(t, slow)
	bk := env.createBook(t, oneChapterText)
	ctx := context.Background()

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = env.orch.StartGeneration(ctx, bk.ID)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrAlreadyProcessing):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("%d requests accepted, want exactly 1", accepted)
	}

	close(slow.release)
	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusReady {
		t.Fatalf("status = %s (error: %s)", final.ProcessingStatus, final.ProcessingError)
	}
}

func TestStartGenerationRejectsTerminalStates(t *testing.T) {
	stub := provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	env := newTestEnv(t, stub)
	ctx := context.Background()

	for _, status := range []string{types.StatusReady, types.StatusFailed} {
		t.Run(status, func(t *testing.T) {
			bk := env.createBook(t, oneChapterText)
			bk.ProcessingStatus = status
			if err := env.repo.UpdateBook(ctx, bk); err != nil {
				t.Fatal(err)
			}
			err := env.orch.StartGeneration(ctx, bk.ID)
			if !errors.Is(err, ErrTerminalState) {
				t.Fatalf("expected ErrTerminalState, got %v", err)
			}
		})
	}
}

func TestStartGenerationRejectsInvalidInput(t *testing.T) {
	stub := provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	env := newTestEnv(t, stub)
	ctx := context.Background()

	bk := env.createBook(t, "   \n\n  ")
	err := env.orch.StartGeneration(ctx, bk.ID)
	if err == nil {
		t.Fatal("expected error for empty source")
	}
	got, getErr := env.repo.GetBook(ctx, bk.ID)
	if getErr != nil {
		t.Fatal(getErr)
	}
	if got.ProcessingStatus != types.StatusPending {
		t.Errorf("rejected book moved to %s, should stay pending", got.ProcessingStatus)
	}
}

// failingProvider permanently rejects chunks containing a marker word.
type failingProvider struct {
	*provider.StubTTSProvider
	marker string

	mu    sync.Mutex
	calls int
}

func newFailingProvider(marker string) *failingProvider {
	return &failingProvider{
		StubTTSProvider: provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "failing"}),
		marker:          marker,
	}
}

func (p *failingProvider) Synthesize(ctx context.Context, req provider.TTSRequest) (*provider.TTSResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if strings.Contains(req.Text, p.marker) {
		return nil, provider.Permanent(fmt.Errorf("voice rejected input"))
	}
	return p.StubTTSProvider.Synthesize(ctx, req)
}

func TestPermanentFailureFailsBook(t *testing.T) {
	failing := newFailingProvider("POISON")
	env := newTestEnv(t, failing)
	bk := env.createBook(t, "A fine first sentence. The POISON word is here. A fine last sentence.")
	ctx := context.Background()

	if err := env.orch.StartGeneration(ctx, bk.ID); err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}

	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusFailed {
		t.Fatalf("status = %s, want failed", final.ProcessingStatus)
	}
	if final.ProcessingError == "" {
		t.Error("failed book has no error message")
	}
	if strings.Contains(final.ProcessingError, "POISON") {
		t.Errorf("error message leaks chunk text: %q", final.ProcessingError)
	}

	if _, err := env.manifests.Get(ctx, bk.ID); err == nil {
		t.Error("failed book must not have a manifest")
	}
}

// flakyProvider fails each chunk a fixed number of times before succeeding.
type flakyProvider struct {
	*provider.StubTTSProvider
	failuresPerChunk int

	mu   sync.Mutex
	seen map[string]int
}

func newFlakyProvider(failures int) *flakyProvider {
	return &flakyProvider{
		StubTTSProvider:  provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "flaky"}),
		failuresPerChunk: failures,
		seen:             make(map[string]int),
	}
}

func (p *flakyProvider) Synthesize(ctx context.Context, req provider.TTSRequest) (*provider.TTSResult, error) {
	p.mu.Lock()
	p.seen[req.Text]++
	attempt := p.seen[req.Text]
	p.mu.Unlock()
	if attempt <= p.failuresPerChunk {
		return nil, provider.Transient(fmt.Errorf("upstream hiccup on attempt %d", attempt))
	}
	return p.StubTTSProvider.Synthesize(ctx, req)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	flaky := newFlakyProvider(2) // config allows 2 retries, so third attempt lands
	env := newTestEnv(t, flaky)
	bk := env.createBook(t, oneChapterText)
	ctx := context.Background()

	if err := env.orch.StartGeneration(ctx, bk.ID); err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}
	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusReady {
		t.Fatalf("status = %s (error: %s), want ready after retries", final.ProcessingStatus, final.ProcessingError)
	}
}

// stallingProvider hangs until the per-attempt deadline fires for the first
// N calls, then synthesizes normally.
type stallingProvider struct {
	*provider.StubTTSProvider
	stalls int

	mu    sync.Mutex
	calls int
}

func newStallingProvider(stalls int) *stallingProvider {
	return &stallingProvider{
		StubTTSProvider: provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stalling"}),
		stalls:          stalls,
	}
}

func (p *stallingProvider) Synthesize(ctx context.Context, req provider.TTSRequest) (*provider.TTSResult, error) {
	p.mu.Lock()
	p.calls++
	stall := p.calls <= p.stalls
	p.mu.Unlock()
	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.StubTTSProvider.Synthesize(ctx, req)
}

func TestTimeoutsAreRetried(t *testing.T) {
	stalling := newStallingProvider(2)
	env := newTestEnv(t, stalling)
	// single chunk so both timeouts hit the same synthesis, 1s per attempt
	env.orch.cfg.MaxChunkChars = 1000
	env.orch.cfg.SynthesisTimeoutSec = 1
	bk := env.createBook(t, oneChapterText)

	if err := env.orch.StartGeneration(context.Background(), bk.ID); err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}
	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusReady {
		t.Fatalf("status = %s (error: %s), want ready after timed-out attempts", final.ProcessingStatus, final.ProcessingError)
	}

	stalling.mu.Lock()
	calls := stalling.calls
	stalling.mu.Unlock()
	if calls != 3 {
		t.Errorf("expected 2 timed-out attempts and 1 success, got %d calls", calls)
	}
}

func TestCancelStopsGeneration(t *testing.T) {
	slow := newSlowProvider()
	env := newTestEnv(t, slow)
	bk := env.createBook(t, oneChapterText)
	ctx := context.Background()

	if err := env.orch.StartGeneration(ctx, bk.ID); err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}
	if !env.orch.Active(bk.ID) {
		t.Fatal("job not active after accepted start")
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.orch.Cancel(cancelCtx, bk.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if env.orch.Active(bk.ID) {
		t.Error("job still active after Cancel returned")
	}

	final := env.waitForTerminal(t, bk.ID)
	if final.ProcessingStatus != types.StatusFailed {
		t.Fatalf("status = %s, want failed after cancel", final.ProcessingStatus)
	}

	// canceling a book with no job is a no-op
	if err := env.orch.Cancel(ctx, "no-such-book"); err != nil {
		t.Errorf("Cancel on idle book returned %v", err)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	stub := provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	env := newTestEnv(t, stub)
	ctx := context.Background()

	stuck := env.createBook(t, oneChapterText)
	stuck.ProcessingStatus = types.StatusProcessing
	if err := env.repo.UpdateBook(ctx, stuck); err != nil {
		t.Fatal(err)
	}
	ready := env.createBook(t, oneChapterText)
	ready.ProcessingStatus = types.StatusReady
	if err := env.repo.UpdateBook(ctx, ready); err != nil {
		t.Fatal(err)
	}

	if err := env.orch.RecoverInterrupted(ctx); err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}

	got, err := env.repo.GetBook(ctx, stuck.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessingStatus != types.StatusFailed || got.ProcessingError == "" {
		t.Errorf("stuck book = %s (%q), want failed with message", got.ProcessingStatus, got.ProcessingError)
	}

	got, err = env.repo.GetBook(ctx, ready.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessingStatus != types.StatusReady {
		t.Errorf("ready book was touched by recovery: %s", got.ProcessingStatus)
	}
}

func TestUserMessageHidesInternals(t *testing.T) {
	err := fmt.Errorf("chapter ch001: %w",
		provider.Transient(fmt.Errorf("POST http://internal-host:9999/audio/speech: connection refused")))
	msg := userMessage(err)
	if strings.Contains(msg, "internal-host") {
		t.Errorf("user message leaks internals: %q", msg)
	}
}
