// Package service coordinates each inference request: allocate a namespace,
// materialize the upload, dispatch to the right engine, and release scratch
// space on every exit path.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/artifact"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/detector"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/models"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/repository"
)

// ErrTimeout marks a video job that exceeded its configured ceiling.
var ErrTimeout = errors.New("video inference exceeded time budget")

// ImageDetector runs one inference pass over a decoded still image.
type ImageDetector interface {
	DetectImage(img image.Image) ([]models.Detection, error)
}

// VideoDetector annotates a video file into outputDir, honoring ctx.
type VideoDetector interface {
	DetectVideo(ctx context.Context, inputPath, outputDir string) (int, string, error)
}

// HealthClassifier maps a feature vector to a label and confidence.
type HealthClassifier interface {
	Classify(vector []float32) (models.HealthResult, error)
}

// Orchestrator is the HTTP-facing coordinator for all inference requests.
type Orchestrator struct {
	store        *artifact.Store
	images       ImageDetector
	videos       VideoDetector
	classifier   HealthClassifier
	jobs         *repository.JobRepository
	videoSem     *semaphore.Weighted
	videoTimeout time.Duration
	logger       *zap.Logger
}

// NewOrchestrator wires the engines, store and ledger together.
func NewOrchestrator(
	store *artifact.Store,
	images ImageDetector,
	videos VideoDetector,
	classifier HealthClassifier,
	jobs *repository.JobRepository,
	maxConcurrentVideos int64,
	videoTimeout time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	if maxConcurrentVideos < 1 {
		maxConcurrentVideos = 1
	}
	return &Orchestrator{
		store:        store,
		images:       images,
		videos:       videos,
		classifier:   classifier,
		jobs:         jobs,
		videoSem:     semaphore.NewWeighted(maxConcurrentVideos),
		videoTimeout: videoTimeout,
		logger:       logger,
	}
}

// PredictHealth classifies one sensor reading.
func (o *Orchestrator) PredictHealth(reading models.SensorReading) (models.HealthResult, error) {
	return o.classifier.Classify(reading.Vector())
}

// DetectImage materializes the upload, decodes it and runs detection. Image
// results are returned inline; no output artifact is produced.
func (o *Orchestrator) DetectImage(upload io.Reader, filename string) ([]models.Detection, error) {
	ns, err := o.store.Allocate("image")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate namespace: %w", err)
	}
	defer o.store.Release(ns)
	// Images never produce output artifacts; reclaim the namespace eagerly.
	defer o.store.DiscardOutput(ns.ID)

	if err := o.jobs.CreateJob(ns.ID, "image"); err != nil {
		o.logger.Warn("Failed to record image job", zap.Error(err))
	}

	path, err := o.store.Materialize(ns, filename, upload)
	if err != nil {
		o.failJob(ns.ID, err)
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		o.failJob(ns.ID, err)
		return nil, fmt.Errorf("failed to open scratch file: %w", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		o.failJob(ns.ID, err)
		return nil, fmt.Errorf("%w: %v", detector.ErrDecode, err)
	}

	detections, err := o.images.DetectImage(img)
	if err != nil {
		o.failJob(ns.ID, err)
		return nil, err
	}

	if err := o.jobs.CompleteJob(ns.ID, "", 0); err != nil {
		o.logger.Warn("Failed to complete image job", zap.Error(err))
	}

	o.logger.Info("Image processed",
		zap.String("request_id", ns.ID),
		zap.Int("detections", len(detections)))

	return detections, nil
}

// DetectVideo materializes the upload and runs the long video pipeline under
// the concurrency cap and the configured time ceiling. The annotated artifact
// stays in the output namespace; only its relative path is returned.
func (o *Orchestrator) DetectVideo(ctx context.Context, upload io.Reader, filename string) (models.VideoResult, error) {
	ns, err := o.store.Allocate("video")
	if err != nil {
		return models.VideoResult{}, fmt.Errorf("failed to allocate namespace: %w", err)
	}
	defer o.store.Release(ns)

	if err := o.jobs.CreateJob(ns.ID, "video"); err != nil {
		o.logger.Warn("Failed to record video job", zap.Error(err))
	}

	path, err := o.store.Materialize(ns, filename, upload)
	if err != nil {
		o.discardFailedVideo(ns.ID, err)
		return models.VideoResult{}, err
	}

	if err := o.videoSem.Acquire(ctx, 1); err != nil {
		o.discardFailedVideo(ns.ID, err)
		return models.VideoResult{}, fmt.Errorf("request cancelled while queued: %w", err)
	}
	defer o.videoSem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, o.videoTimeout)
	defer cancel()

	start := time.Now()
	frames, outputPath, err := o.videos.DetectVideo(runCtx, path, ns.OutputDir)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, o.videoTimeout)
		}
		o.discardFailedVideo(ns.ID, err)
		return models.VideoResult{}, err
	}

	relative, err := o.store.Relative(outputPath)
	if err != nil {
		o.discardFailedVideo(ns.ID, err)
		return models.VideoResult{}, fmt.Errorf("engine wrote outside output namespace: %w", err)
	}

	if err := o.jobs.CompleteJob(ns.ID, relative, frames); err != nil {
		o.logger.Warn("Failed to complete video job", zap.Error(err))
	}

	o.logger.Info("Video processed",
		zap.String("request_id", ns.ID),
		zap.Int("frames", frames),
		zap.Duration("elapsed", time.Since(start)))

	return models.VideoResult{OutputPath: relative, Frames: frames}, nil
}

// OpenOutput resolves a caller-supplied relative path inside the output root
// and opens it for streaming. The caller owns the returned file.
func (o *Orchestrator) OpenOutput(relative string) (*os.File, error) {
	full, err := o.store.Resolve(relative)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("output artifact not found: %w", err)
	}
	return f, nil
}

// Stats reports ledger counts for the capability endpoint.
func (o *Orchestrator) Stats() map[string]int {
	stats, err := o.jobs.Stats()
	if err != nil {
		o.logger.Warn("Failed to read job stats", zap.Error(err))
		return map[string]int{}
	}
	return stats
}

func (o *Orchestrator) failJob(id string, cause error) {
	if err := o.jobs.FailJob(id, cause.Error()); err != nil {
		o.logger.Warn("Failed to record job failure", zap.Error(err))
	}
}

// discardFailedVideo records the failure and removes the half-written output
// namespace; a failed request must not leave a fetchable artifact behind.
func (o *Orchestrator) discardFailedVideo(id string, cause error) {
	o.failJob(id, cause)
	if err := o.store.DiscardOutput(id); err != nil {
		o.logger.Warn("Failed to discard output namespace",
			zap.String("request_id", id), zap.Error(err))
	}
}
