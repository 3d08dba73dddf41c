// Package alignment builds chapter-level segment timelines from per-chunk
// synthesis results. Chunk start offsets come from accumulated clip
// durations, never from summing word timings, so the timeline stays glued to
// the audio that was actually produced.
package alignment

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/inkvoice/inkvoice/internal/provider"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// DefaultEpsilonMs is the permitted gap between the accumulated chunk
// durations and the measured duration of the merged chapter audio.
const DefaultEpsilonMs = 50

// ChunkResult is one synthesized chunk ready for alignment. Duration is the
// measured or provider-reported clip length; Words are clip-relative.
type ChunkResult struct {
	Index    int
	Text     string
	Duration float64
	Words    []provider.WordTimestamp
}

// DriftError reports a chapter whose accumulated chunk durations disagree
// with the measured duration of the merged audio beyond the tolerance.
type DriftError struct {
	Expected float64
	Measured float64
	Epsilon  float64
	Chunks   int
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("alignment drift: accumulated %.3fs across %d chunks but merged audio measures %.3fs (epsilon %.3fs)",
		e.Expected, e.Chunks, e.Measured, e.Epsilon)
}

// Builder assembles chapter alignments.
type Builder struct {
	// Epsilon is the reconciliation tolerance in seconds.
	Epsilon float64
}

// NewBuilder creates a Builder with the given tolerance in milliseconds.
func NewBuilder(epsilonMs int) *Builder {
	if epsilonMs <= 0 {
		epsilonMs = DefaultEpsilonMs
	}
	return &Builder{Epsilon: float64(epsilonMs) / 1000.0}
}

// BuildChapter converts ordered chunk results into a chapter segment list.
// Segment IDs start at baseID and increase by one in timeline order. The
// accumulated duration must match measured within Epsilon or a DriftError
// is returned and nothing is produced.
func (b *Builder) BuildChapter(chunks []ChunkResult, measured float64, baseID int) ([]types.Segment, float64, error) {
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("no chunk results to align")
	}

	ordered := make([]ChunkResult, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	for i, c := range ordered {
		if c.Index != ordered[0].Index+i {
			return nil, 0, fmt.Errorf("chunk results are not contiguous: missing index %d", ordered[0].Index+i)
		}
		if c.Duration <= 0 {
			return nil, 0, fmt.Errorf("chunk %d has no duration", c.Index)
		}
	}

	var total float64
	for _, c := range ordered {
		total += c.Duration
	}
	if math.Abs(total-measured) > b.Epsilon {
		return nil, 0, &DriftError{
			Expected: total,
			Measured: measured,
			Epsilon:  b.Epsilon,
			Chunks:   len(ordered),
		}
	}

	var segments []types.Segment
	offset := 0.0
	prevEnd := 0.0
	for _, c := range ordered {
		for _, seg := range chunkSegments(c, offset) {
			// enforce ordering and non-overlap against the previous segment
			if seg.Start < prevEnd {
				seg.Start = prevEnd
			}
			if seg.End < seg.Start {
				seg.End = seg.Start
			}
			seg.ID = baseID + len(segments)
			seg.Start = roundMs(seg.Start)
			seg.End = roundMs(seg.End)
			prevEnd = seg.End
			segments = append(segments, seg)
		}
		offset += c.Duration
	}

	return segments, total, nil
}

// chunkSegments expands one chunk into timeline segments. With word
// timestamps the words are grouped into sentence-sized spans; without them
// the whole chunk becomes a single segment covering its clip.
func chunkSegments(c ChunkResult, offset float64) []types.Segment {
	if len(c.Words) == 0 {
		return []types.Segment{{
			Start: offset,
			End:   offset + c.Duration,
			Text:  c.Text,
		}}
	}

	var segments []types.Segment
	var group []provider.WordTimestamp

	flush := func() {
		if len(group) == 0 {
			return
		}
		words := make([]string, len(group))
		for i, w := range group {
			words[i] = w.Word
		}
		segments = append(segments, types.Segment{
			Start: offset + clamp(group[0].Start, 0, c.Duration),
			End:   offset + clamp(group[len(group)-1].End, 0, c.Duration),
			Text:  strings.Join(words, " "),
		})
		group = group[:0]
	}

	for _, w := range c.Words {
		group = append(group, w)
		if endsSentence(w.Word) {
			flush()
		}
	}
	flush()

	return segments
}

func endsSentence(word string) bool {
	runes := []rune(strings.TrimRight(word, `"')]}”’」』`))
	if len(runes) == 0 {
		return false
	}
	switch runes[len(runes)-1] {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundMs(v float64) float64 {
	return math.Round(v*1000) / 1000
}
