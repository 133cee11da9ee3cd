package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/avi"
)

// DetectVideo decodes the input video frame by frame, runs inference on each
// frame, and composites the annotated frames into a new video under
// outputDir. Returns the frame count and the absolute output path.
//
// This is the long-running operation of the system; ctx is checked between
// frames so a deadline or caller cancellation stops the loop promptly.
func (e *Engine) DetectVideo(ctx context.Context, inputPath, outputDir string) (int, string, error) {
	reader, err := avi.NewReader(inputPath)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer reader.Close()

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, base+".avi")

	writer, err := avi.NewWriter(outputPath, reader.Width(), reader.Height(), reader.FPS())
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			writer.Close()
			return frames, "", err
		}

		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writer.Close()
			return frames, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}

		detections, err := e.DetectImage(frame)
		if err != nil {
			writer.Close()
			return frames, "", err
		}

		if err := writer.WriteFrame(annotate(frame, detections)); err != nil {
			writer.Close()
			return frames, "", fmt.Errorf("failed to write annotated frame: %w", err)
		}
		frames++
	}

	if frames == 0 {
		writer.Close()
		return 0, "", fmt.Errorf("%w: video contains no frames", ErrDecode)
	}

	if err := writer.Close(); err != nil {
		return frames, "", fmt.Errorf("failed to finalize annotated video: %w", err)
	}

	e.logger.Info("Video processed",
		zap.String("output_path", outputPath),
		zap.Int("frames", frames))

	return frames, outputPath, nil
}
