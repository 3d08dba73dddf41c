package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FFmpegEngine concatenates and probes audio by shelling out to ffmpeg and
// ffprobe. Stream copy keeps concatenation lossless for same-codec inputs.
type FFmpegEngine struct{}

// Concat merges inputs into output using ffmpeg's concat demuxer.
func (e *FFmpegEngine) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}

	if len(inputs) == 1 {
		data, err := os.ReadFile(inputs[0])
		if err != nil {
			return fmt.Errorf("failed to read single input file: %w", err)
		}
		return os.WriteFile(output, data, 0644)
	}

	// The concat demuxer reads a list file with quoted, escaped paths.
	listPath := output + ".txt"
	var lines []string
	for _, f := range inputs {
		escapedPath := strings.ReplaceAll(f, "'", "'\\''")
		lines = append(lines, fmt.Sprintf("file '%s'", escapedPath))
	}

	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		output,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return &EncodingError{Path: output, Err: fmt.Errorf("ffmpeg failed: %w\noutput: %s", err, string(out))}
	}

	return nil
}

// Probe returns the duration of the file at path in seconds using ffprobe.
func (e *FFmpegEngine) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, &EncodingError{Path: path, Err: fmt.Errorf("ffprobe failed: %w", err)}
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &durationSec); err != nil {
		return 0, &EncodingError{Path: path, Err: fmt.Errorf("failed to parse duration: %w", err)}
	}

	return durationSec, nil
}

// CheckAvailable reports whether ffmpeg and ffprobe are on the PATH.
func (e *FFmpegEngine) CheckAvailable() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}
