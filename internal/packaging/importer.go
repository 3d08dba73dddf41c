// Package packaging ingests pre-produced audiobooks. An upload archive holds
// numbered chapter triples (audio, text, alignment) produced elsewhere; the
// importer validates them, normalizes segment IDs, and publishes the book as
// ready without running the synthesis pipeline.
package packaging

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/internal/audio"
	"github.com/inkvoice/inkvoice/internal/book"
	"github.com/inkvoice/inkvoice/internal/manifest"
	"github.com/inkvoice/inkvoice/internal/segmenter"
	"github.com/inkvoice/inkvoice/internal/util"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// ErrInvalidArchive marks an upload the importer rejected. Callers can map
// it to a client error.
var ErrInvalidArchive = errors.New("invalid book archive")

// supported audio container extensions for archive chapters
var archiveAudioExts = map[string]bool{"mp3": true, "wav": true, "ogg": true, "flac": true}

// Importer ingests uploaded book archives.
type Importer struct {
	repo      book.Repository
	manifests *manifest.Store
	tempDir   string
	logger    *zap.Logger
}

// NewImporter creates an archive importer
func NewImporter(repo book.Repository, manifests *manifest.Store, tempDir string, logger *zap.Logger) *Importer {
	return &Importer{
		repo:      repo,
		manifests: manifests,
		tempDir:   tempDir,
		logger:    logger.Named("packaging"),
	}
}

// chapterTriple collects the three files of one numbered chapter
type chapterTriple struct {
	number int
	audio  *zip.File
	text   *zip.File
	align  *zip.File
	format string
}

// Import reads a ZIP of numbered chapter triples and publishes it as a ready
// book. Every chapter needs all three parts; numbering gives chapter order.
func (im *Importer) Import(ctx context.Context, title, author, ownerID string, archive []byte) (*types.Book, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a readable ZIP: %v", ErrInvalidArchive, err)
	}

	triples, err := collectTriples(reader)
	if err != nil {
		return nil, err
	}

	bk := &types.Book{
		ID:               uuid.NewString(),
		Title:            title,
		Author:           author,
		OwnerID:          ownerID,
		ProcessingStatus: types.StatusProcessing,
		CreatedAt:        time.Now().UTC(),
	}
	bk.StoragePath = util.BookPath(bk.ID)

	m := &types.Manifest{
		BookID:    bk.ID,
		BookTitle: title,
		CreatedAt: time.Now().UTC(),
	}

	// abandon the partial ingest on any failure; nothing references these
	// assets until the ready book is saved
	cleanup := func() {
		if cleanupErr := im.repo.DeleteBook(context.Background(), bk.ID); cleanupErr != nil {
			im.logger.Warn("failed to clean up rejected import",
				zap.String("book_id", bk.ID), zap.Error(cleanupErr))
		}
	}

	segmentBase := 0
	for i, triple := range triples {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}
		chapter, segCount, err := im.importChapter(ctx, bk.ID, i+1, triple, segmentBase)
		if err != nil {
			cleanup()
			return nil, err
		}
		segmentBase += segCount
		m.Chapters = append(m.Chapters, chapter)
		m.TotalDuration += chapter.Duration
		m.TotalWords += chapter.Words
	}
	m.TotalChapters = len(m.Chapters)

	if err := im.manifests.Write(ctx, m); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	bk.ProcessingStatus = types.StatusReady
	bk.TotalDuration = m.TotalDuration
	bk.TotalSegments = segmentBase
	if err := im.repo.SaveBook(ctx, bk); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to save book: %w", err)
	}

	im.logger.Info("archive imported",
		zap.String("book_id", bk.ID),
		zap.Int("chapters", m.TotalChapters),
		zap.Float64("total_duration", m.TotalDuration))
	return bk, nil
}

// collectTriples groups archive entries by their numeric base name and
// verifies each chapter has audio, text, and alignment.
func collectTriples(reader *zip.Reader) ([]chapterTriple, error) {
	byNumber := make(map[int]*chapterTriple)

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(filepath.ToSlash(f.Name))
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(base)), ".")
		stem := strings.TrimSuffix(base, path.Ext(base))
		number, err := strconv.Atoi(stem)
		if err != nil {
			// ignore stray files such as cover art or READMEs
			continue
		}

		t, ok := byNumber[number]
		if !ok {
			t = &chapterTriple{number: number}
			byNumber[number] = t
		}
		switch {
		case archiveAudioExts[ext]:
			if t.audio != nil {
				return nil, fmt.Errorf("%w: chapter %d has multiple audio files", ErrInvalidArchive, number)
			}
			t.audio = f
			t.format = ext
		case ext == "txt":
			t.text = f
		case ext == "json":
			t.align = f
		}
	}

	if len(byNumber) == 0 {
		return nil, fmt.Errorf("%w: no numbered chapter files found", ErrInvalidArchive)
	}

	triples := make([]chapterTriple, 0, len(byNumber))
	for _, t := range byNumber {
		if t.audio == nil || t.text == nil || t.align == nil {
			return nil, fmt.Errorf("%w: chapter %d is missing audio, text, or alignment", ErrInvalidArchive, t.number)
		}
		triples = append(triples, *t)
	}
	sort.Slice(triples, func(i, j int) bool { return triples[i].number < triples[j].number })
	return triples, nil
}

func (im *Importer) importChapter(ctx context.Context, bookID string, number int, t chapterTriple, baseID int) (types.Chapter, int, error) {
	chapterID := util.ChapterID(number)

	audioData, err := readZipFile(t.audio)
	if err != nil {
		return types.Chapter{}, 0, fmt.Errorf("%w: chapter %d audio: %v", ErrInvalidArchive, t.number, err)
	}
	textData, err := readZipFile(t.text)
	if err != nil {
		return types.Chapter{}, 0, fmt.Errorf("%w: chapter %d text: %v", ErrInvalidArchive, t.number, err)
	}
	alignData, err := readZipFile(t.align)
	if err != nil {
		return types.Chapter{}, 0, fmt.Errorf("%w: chapter %d alignment: %v", ErrInvalidArchive, t.number, err)
	}

	duration, err := im.probe(ctx, audioData, t.format)
	if err != nil {
		return types.Chapter{}, 0, fmt.Errorf("%w: chapter %d audio is not playable: %v", ErrInvalidArchive, t.number, err)
	}

	var segments []types.Segment
	if err := json.Unmarshal(alignData, &segments); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("%w: chapter %d alignment is not valid JSON: %v", ErrInvalidArchive, t.number, err)
	}
	if err := validateSegments(segments, duration); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("%w: chapter %d: %v", ErrInvalidArchive, t.number, err)
	}
	// archives number segments per chapter; re-base them so IDs stay
	// monotonic across the whole book
	for i := range segments {
		segments[i].ID = baseID + i
	}

	text := string(textData)
	if err := im.repo.SaveChapterText(ctx, bookID, chapterID, text); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to save chapter text: %w", err)
	}
	if err := im.repo.SaveAlignment(ctx, bookID, chapterID, segments); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to save alignment: %w", err)
	}
	if err := im.repo.SaveChapterAudio(ctx, bookID, chapterID, t.format, bytes.NewReader(audioData)); err != nil {
		return types.Chapter{}, 0, fmt.Errorf("failed to save chapter audio: %w", err)
	}

	chapter := types.Chapter{
		ID:        chapterID,
		Title:     fmt.Sprintf("Chapter %d", number),
		Duration:  duration,
		Words:     segmenter.CountTokens(text).Words(),
		AudioFile: fmt.Sprintf("%s_audio.%s", chapterID, t.format),
		AlignFile: chapterID + "_align.json",
		TextFile:  chapterID + "_text.txt",
	}
	return chapter, len(segments), nil
}

// probe measures uploaded audio by writing it to a temp file and asking the
// engine for that container.
func (im *Importer) probe(ctx context.Context, data []byte, format string) (float64, error) {
	if format == "wav" {
		return audio.WAVDuration(data)
	}

	if err := os.MkdirAll(im.tempDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	tmp, err := os.CreateTemp(im.tempDir, "inkvoice-import-*."+format)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	tmp.Close()

	return audio.ForFormat(format).Probe(ctx, tmp.Name())
}

// validateSegments checks ordering, non-overlap, and duration bounds.
// Half a second of slack covers encoder padding in uploaded audio.
func validateSegments(segments []types.Segment, duration float64) error {
	if len(segments) == 0 {
		return errors.New("alignment has no segments")
	}
	prevEnd := 0.0
	for i, s := range segments {
		if s.Start < 0 || s.End < s.Start {
			return fmt.Errorf("segment %d has invalid span [%f, %f]", i, s.Start, s.End)
		}
		if s.Start < prevEnd {
			return fmt.Errorf("segment %d overlaps its predecessor", i)
		}
		if s.End > duration+0.5 {
			return fmt.Errorf("segment %d ends at %.3fs beyond the %.3fs audio", i, s.End, duration)
		}
		prevEnd = s.End
	}
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
