package audioproc

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Editor re-renders an audio file with the given spans removed.
type Editor interface {
	RemoveIntervals(ctx context.Context, inputPath, outputPath string, cuts []Interval) error
}

// FFmpegEditor shells out to ffmpeg. The cut set is expressed as an aselect
// filter so a single pass produces the output; asetpts closes the timestamp
// gaps the dropped samples leave behind.
type FFmpegEditor struct{}

// NewFFmpegEditor returns an ffmpeg-backed editor.
func NewFFmpegEditor() *FFmpegEditor {
	return &FFmpegEditor{}
}

// RemoveIntervals renders inputPath to outputPath without the cut spans.
func (e *FFmpegEditor) RemoveIntervals(ctx context.Context, inputPath, outputPath string, cuts []Interval) error {
	conditions := make([]string, 0, len(cuts))
	for _, cut := range cuts {
		conditions = append(conditions, fmt.Sprintf("between(t,%.3f,%.3f)", cut.Start, cut.End))
	}
	filter := fmt.Sprintf("aselect='not(%s)',asetpts=N/SR/TB", strings.Join(conditions, "+"))

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-i", inputPath,
		"-af", filter,
		"-y",
		outputPath,
	)

	slog.Info("ffmpeg cut started", "input", inputPath, "cuts", len(cuts))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w, output: %s", err, string(output))
	}
	slog.Info("ffmpeg cut completed", "output", outputPath)
	return nil
}
