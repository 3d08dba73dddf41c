// Package audio merges per-chunk clips into chapter files and measures
// durations. The same engine that measures the merged output also probes
// individual clips, so offsets and totals agree.
package audio

import (
	"context"
	"fmt"
)

// Engine concatenates ordered clips and reports measured durations.
type Engine interface {
	// Concat merges inputs, in order, into output. Inputs must share a format.
	Concat(ctx context.Context, inputs []string, output string) error

	// Probe returns the duration of the file at path in seconds.
	Probe(ctx context.Context, path string) (float64, error)
}

// EncodingError reports a corrupt or incompatible clip. It is permanent;
// retrying synthesis of other chunks cannot repair it.
type EncodingError struct {
	Path string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error in %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// ForFormat selects the engine for an audio format. WAV concatenation and
// probing are handled natively; everything else shells out to ffmpeg.
func ForFormat(format string) Engine {
	if format == "wav" {
		return &WAVEngine{}
	}
	return &FFmpegEngine{}
}
