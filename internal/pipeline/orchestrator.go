// Package pipeline runs the audiobook generation pipeline: chapter planning,
// chunked synthesis, alignment, concatenation, and the final manifest flip.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/internal/alignment"
	"github.com/inkvoice/inkvoice/internal/audio"
	"github.com/inkvoice/inkvoice/internal/book"
	"github.com/inkvoice/inkvoice/internal/manifest"
	"github.com/inkvoice/inkvoice/internal/provider"
	"github.com/inkvoice/inkvoice/internal/segmenter"
	"github.com/inkvoice/inkvoice/internal/util"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// ErrAlreadyProcessing is returned when generation is requested for a book
// that already has an active or durably recorded processing run.
var ErrAlreadyProcessing = errors.New("book is already processing")

// ErrTerminalState is returned when generation is requested for a book whose
// run has already finished. Terminal states are never re-entered.
var ErrTerminalState = errors.New("book processing has already finished")

// Orchestrator owns the per-book generation jobs. At most one job runs per
// book; chunk-level synthesis within a chapter is parallel, chapters are
// sequential so segment IDs stay globally monotonic.
type Orchestrator struct {
	cfg       types.PipelineConfig
	tts       types.TTSConfig
	repo      book.Repository
	manifests *manifest.Store
	providers *provider.Registry
	logger    *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(
	cfg types.PipelineConfig,
	tts types.TTSConfig,
	repo book.Repository,
	manifests *manifest.Store,
	providers *provider.Registry,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		tts:       tts,
		repo:      repo,
		manifests: manifests,
		providers: providers,
		logger:    logger.Named("pipeline"),
		jobs:      make(map[string]*job),
	}
}

// StartGeneration validates a pending book and launches its generation job.
// Exactly one concurrent request wins; the rest get ErrAlreadyProcessing.
func (o *Orchestrator) StartGeneration(ctx context.Context, bookID string) error {
	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	if _, active := o.jobs[bookID]; active {
		o.mu.Unlock()
		cancel()
		return ErrAlreadyProcessing
	}
	o.jobs[bookID] = j
	o.mu.Unlock()

	release := func() {
		cancel()
		o.mu.Lock()
		delete(o.jobs, bookID)
		o.mu.Unlock()
		close(j.done)
	}

	bk, err := o.repo.GetBook(ctx, bookID)
	if err != nil {
		release()
		return fmt.Errorf("failed to get book: %w", err)
	}

	switch bk.ProcessingStatus {
	case types.StatusProcessing:
		// A durable processing record without a live job means a previous
		// run died; recovery marks those failed at startup, so here it is
		// either live elsewhere or about to be recovered.
		release()
		return ErrAlreadyProcessing
	case types.StatusReady, types.StatusFailed:
		release()
		return fmt.Errorf("%w (status: %s)", ErrTerminalState, bk.ProcessingStatus)
	}

	providerName := o.tts.DefaultProvider
	tts, err := o.providers.GetTTS(providerName)
	if err != nil {
		release()
		return fmt.Errorf("failed to get TTS provider: %w", err)
	}

	source, err := o.repo.GetSource(ctx, bookID)
	if err != nil {
		release()
		return fmt.Errorf("failed to get book source: %w", err)
	}

	cleaned := segmenter.CleanMarkdown(source)
	if err := segmenter.Validate(cleaned, o.cfg.MaxTextChars); err != nil {
		release()
		return err
	}

	bk.ProcessingStatus = types.StatusProcessing
	bk.ProcessingError = ""
	if err := o.repo.UpdateBook(ctx, bk); err != nil {
		release()
		return fmt.Errorf("failed to update book status: %w", err)
	}

	o.logger.Info("starting generation",
		zap.String("book_id", bookID),
		zap.String("provider", providerName),
		zap.Int("source_chars", len(cleaned)))

	go o.run(jobCtx, j, bk, tts, cleaned)
	return nil
}

// Cancel stops the active job for a book, if any, and waits for it to exit.
func (o *Orchestrator) Cancel(ctx context.Context, bookID string) error {
	o.mu.Lock()
	j, ok := o.jobs[bookID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	j.cancel()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports whether a generation job is currently running for a book.
func (o *Orchestrator) Active(bookID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.jobs[bookID]
	return ok
}

// RecoverInterrupted marks books stuck in processing as failed. Call it at
// startup, before any new jobs launch: a processing record with no live job
// is a run the previous process never finished.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) error {
	books, err := o.repo.ListBooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list books: %w", err)
	}

	for _, bk := range books {
		if bk.ProcessingStatus != types.StatusProcessing || o.Active(bk.ID) {
			continue
		}
		bk.ProcessingStatus = types.StatusFailed
		bk.ProcessingError = "processing interrupted by server restart"
		if err := o.repo.UpdateBook(ctx, bk); err != nil {
			o.logger.Error("failed to mark interrupted book",
				zap.String("book_id", bk.ID), zap.Error(err))
			continue
		}
		o.logger.Warn("marked interrupted book as failed", zap.String("book_id", bk.ID))
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, j *job, bk *types.Book, tts provider.TTSProvider, text string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panic",
				zap.String("book_id", bk.ID), zap.Any("panic", r))
			o.fail(bk, fmt.Errorf("panic: %v", r))
		}
		o.mu.Lock()
		delete(o.jobs, bk.ID)
		o.mu.Unlock()
		close(j.done)
	}()

	if err := o.process(ctx, bk, tts, text); err != nil {
		o.fail(bk, err)
		return
	}

	o.logger.Info("book ready",
		zap.String("book_id", bk.ID),
		zap.Float64("total_duration", bk.TotalDuration),
		zap.Int("total_segments", bk.TotalSegments))
}

// process runs the whole pipeline for one book. On success the manifest is
// written before the status flips to ready, so a reader who sees ready
// always finds a complete manifest.
func (o *Orchestrator) process(ctx context.Context, bk *types.Book, tts provider.TTSProvider, text string) error {
	chapterTexts := segmenter.PlanChapters(text, o.cfg.ChapterMinutes)
	if len(chapterTexts) == 0 {
		return &segmenter.InvalidInputError{Reason: "text contains no speakable content"}
	}

	aligner := alignment.NewBuilder(o.cfg.DriftEpsilonMs)
	m := &types.Manifest{
		BookID:    bk.ID,
		BookTitle: bk.Title,
		CreatedAt: time.Now().UTC(),
	}

	segmentBase := 0
	for i, chapterText := range chapterTexts {
		if err := ctx.Err(); err != nil {
			return err
		}
		number := i + 1
		chapter, segCount, err := o.processChapter(ctx, bk, tts, aligner, number, chapterText, segmentBase)
		if err != nil {
			return fmt.Errorf("chapter %s: %w", util.ChapterID(number), err)
		}
		segmentBase += segCount
		m.Chapters = append(m.Chapters, chapter)
		m.TotalDuration += chapter.Duration
		m.TotalWords += chapter.Words
	}
	m.TotalChapters = len(m.Chapters)

	if err := o.manifests.Write(ctx, m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	bk.ProcessingStatus = types.StatusReady
	bk.ProcessingError = ""
	bk.TotalDuration = m.TotalDuration
	bk.TotalSegments = segmentBase
	if err := o.repo.UpdateBook(ctx, bk); err != nil {
		return fmt.Errorf("failed to mark book ready: %w", err)
	}
	return nil
}

// processChapter synthesizes, aligns, and persists one chapter. Segment IDs
// start at baseID; the count of produced segments is returned so the caller
// can advance the book-global counter.
func (o *Orchestrator) processChapter(
	ctx context.Context,
	bk *types.Book,
	tts provider.TTSProvider,
	aligner *alignment.Builder,
	number int,
	chapterText string,
	baseID int,
) (types.Chapter, int, error) {
	chapterID := util.ChapterID(number)
	started := time.Now()

	chunks, err := segmenter.Split(chapterText, o.cfg.MaxChunkChars)
	if err != nil {
		return types.Chapter{}, 0, err
	}

	results, err := o.synthesizeChunks(ctx, tts, bk.Voice, chunks)
	if err != nil {
		return types.Chapter{}, 0, err
	}

	format := results[0].Format
	for i, r := range results {
		if r.Format != format {
			return types.Chapter{}, 0, fmt.Errorf("chunk %d returned format %q, chapter started with %q", i, r.Format, format)
		}
	}
	engine := audio.ForFormat(format)

	// MkdirTemp fails when its parent is missing, so make sure it exists
	if err := os.MkdirAll(o.cfg.TempDir, 0o755); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	tempDir, err := os.MkdirTemp(o.cfg.TempDir, "inkvoice-"+bk.ID+"-"+chapterID+"-")
	if err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	clipPaths := make([]string, len(results))
	for i, r := range results {
		clipPaths[i] = filepath.Join(tempDir, fmt.Sprintf("chunk_%04d.%s", i, format))
		if err := os.WriteFile(clipPaths[i], r.Audio, 0644); err != nil {
			return types.Chapter{}, 0, fmt.Errorf("failed to write chunk clip: %w", err)
		}
	}

	// Providers that report no duration get their clips measured with the
	// same engine that will measure the merged chapter, so the running
	// offsets and the final reconciliation agree by construction.
	chunkResults := make([]alignment.ChunkResult, len(results))
	for i, r := range results {
		duration := r.Duration
		if duration == 0 {
			duration, err = engine.Probe(ctx, clipPaths[i])
			if err != nil {
				return types.Chapter{}, 0, err
			}
		}
		chunkResults[i] = alignment.ChunkResult{
			Index:    chunks[i].Index,
			Text:     chunks[i].Text,
			Duration: duration,
			Words:    r.Words,
		}
	}

	mergedPath := filepath.Join(tempDir, chapterID+"."+format)
	if err := engine.Concat(ctx, clipPaths, mergedPath); err != nil {
		return types.Chapter{}, 0, err
	}

	measured, err := engine.Probe(ctx, mergedPath)
	if err != nil {
		return types.Chapter{}, 0, err
	}

	segments, _, err := aligner.BuildChapter(chunkResults, measured, baseID)
	if err != nil {
		return types.Chapter{}, 0, err
	}

	storedText := segmenter.Normalize(chapterText)
	if err := o.repo.SaveChapterText(ctx, bk.ID, chapterID, storedText); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to save chapter text: %w", err)
	}
	if err := o.repo.SaveAlignment(ctx, bk.ID, chapterID, segments); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to save alignment: %w", err)
	}

	merged, err := os.Open(mergedPath)
	if err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to open merged audio: %w", err)
	}
	err = o.repo.SaveChapterAudio(ctx, bk.ID, chapterID, format, merged)
	merged.Close()
	if err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to save chapter audio: %w", err)
	}

	stats := segmenter.CountTokens(storedText)
	chapter := types.Chapter{
		ID:        chapterID,
		Title:     fmt.Sprintf("Chapter %d", number),
		Duration:  roundMs(measured),
		Words:     stats.Words(),
		AudioFile: fmt.Sprintf("%s_audio.%s", chapterID, format),
		AlignFile: chapterID + "_align.json",
		TextFile:  chapterID + "_text.txt",
	}

	o.logger.Info("chapter complete",
		zap.String("book_id", bk.ID),
		zap.String("chapter", chapterID),
		zap.Int("chunks", len(chunks)),
		zap.Int("segments", len(segments)),
		zap.Float64("duration", chapter.Duration),
		zap.Duration("took", time.Since(started)))

	return chapter, len(segments), nil
}

// synthesizeChunks runs chunk synthesis through a bounded worker pool.
// Results are placed by chunk index, never by completion order. The first
// failure cancels the remaining work for the chapter.
func (o *Orchestrator) synthesizeChunks(
	ctx context.Context,
	tts provider.TTSProvider,
	voice string,
	chunks []segmenter.Chunk,
) ([]*provider.TTSResult, error) {
	chapterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*provider.TTSResult, len(chunks))
	semaphore := make(chan struct{}, o.cfg.WorkerPoolSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, chunk := range chunks {
		wg.Add(1)
		go func(idx int, c segmenter.Chunk) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-chapterCtx.Done():
				return
			}
			defer func() { <-semaphore }()

			res, err := o.synthesizeChunk(chapterCtx, tts, voice, c)
			if err != nil {
				mu.Lock()
				// a sibling's cancellation is fallout, not the cause
				if firstErr == nil && !(errors.Is(err, context.Canceled) && chapterCtx.Err() != nil) {
					firstErr = fmt.Errorf("chunk %d: %w", idx, err)
				}
				mu.Unlock()
				cancel()
				return
			}

			mu.Lock()
			results[idx] = res
			mu.Unlock()
		}(i, chunk)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("chunk %d produced no result", i)
		}
	}
	return results, nil
}

// synthesizeChunk calls the provider for one chunk with a per-attempt
// deadline and exponential backoff on retryable failures.
func (o *Orchestrator) synthesizeChunk(
	ctx context.Context,
	tts provider.TTSProvider,
	voice string,
	c segmenter.Chunk,
) (*provider.TTSResult, error) {
	timeout := time.Duration(o.cfg.SynthesisTimeoutSec) * time.Second
	var result *provider.TTSResult

	err := retry.Do(
		func() error {
			callCtx, cancelCall := context.WithTimeout(ctx, timeout)
			defer cancelCall()

			res, err := tts.Synthesize(callCtx, provider.TTSRequest{Text: c.Text, VoiceID: voice})
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					return fmt.Errorf("synthesis timed out after %s: %w", timeout, context.DeadlineExceeded)
				}
				return err
			}
			if len(res.Audio) == 0 {
				return provider.Permanent(errors.New("provider returned empty audio"))
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.cfg.MaxRetries)+1),
		retry.Delay(time.Duration(o.cfg.RetryBackoffMs)*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(30*time.Second),
		retry.RetryIf(provider.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Warn("retrying chunk synthesis",
				zap.Int("chunk", c.Index),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fail flips a book to the failed terminal state with a user-safe message.
// Partially produced assets stay in storage but nothing references them.
func (o *Orchestrator) fail(bk *types.Book, cause error) {
	o.logger.Error("book processing failed",
		zap.String("book_id", bk.ID), zap.Error(cause))

	bk.ProcessingStatus = types.StatusFailed
	bk.ProcessingError = userMessage(cause)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.repo.UpdateBook(ctx, bk); err != nil {
		o.logger.Error("failed to record failure",
			zap.String("book_id", bk.ID), zap.Error(err))
	}
}

// userMessage converts a pipeline error into a message safe to store on the
// book and show to clients. Internal details stay in the logs.
func userMessage(err error) string {
	var invalid *segmenter.InvalidInputError
	if errors.As(err, &invalid) {
		return invalid.Error()
	}
	var drift *alignment.DriftError
	if errors.As(err, &drift) {
		return "audio and alignment drifted beyond tolerance"
	}
	var enc *audio.EncodingError
	if errors.As(err, &enc) {
		return "audio encoding failed"
	}
	var perm *provider.PermanentError
	if errors.As(err, &perm) {
		return "synthesis was rejected by the TTS provider"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "synthesis timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "generation was canceled"
	}
	return "processing failed"
}

func roundMs(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
