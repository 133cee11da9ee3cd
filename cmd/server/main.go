package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/artifact"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/classifier"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/config"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/detector"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/handler"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/repository"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/server"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/service"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Plant Disease Prediction API...")

	// Load configuration
	cfg, err := config.LoadConfig("configs/config.yml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// The ONNX runtime environment is process-wide; both engines share it.
	if err := ort.InitializeEnvironment(); err != nil {
		logger.Fatal("Failed to initialize ONNX runtime", zap.Error(err))
	}
	defer ort.DestroyEnvironment()

	// Models are loaded once before serving traffic and never mutated.
	engine, err := detector.NewEngine(cfg.Detector.ModelPath, cfg.Detector.MetadataPath, logger)
	if err != nil {
		logger.Fatal("Failed to load detection model", zap.Error(err))
	}
	defer engine.Close()

	healthModel, err := classifier.New(cfg.Classifier.ModelPath, cfg.Classifier.MetadataPath, logger)
	if err != nil {
		logger.Fatal("Failed to load health classifier", zap.Error(err))
	}
	defer healthModel.Close()

	// Artifact store
	store, err := artifact.NewStore(cfg.Artifacts.ScratchDir, cfg.Artifacts.OutputDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	// Job ledger
	os.MkdirAll("./data", 0755)
	jobs, err := repository.NewJobRepository(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("Failed to initialize job repository", zap.Error(err))
	}
	defer jobs.Close()

	orchestrator := service.NewOrchestrator(
		store, engine, engine, healthModel, jobs,
		cfg.Video.MaxConcurrent,
		time.Duration(cfg.Video.TimeoutSeconds)*time.Second,
		logger,
	)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Retention sweep for expired output artifacts
	sweeper := service.NewSweeper(store, jobs,
		time.Duration(cfg.Artifacts.RetentionMinutes)*time.Minute,
		time.Duration(cfg.Artifacts.SweepIntervalMins)*time.Minute,
		logger,
	)
	go sweeper.Run(ctx)

	apiHandler := handler.NewHandler(orchestrator, logger)
	srv := server.New(apiHandler, cfg.Artifacts.MaxUploadMB<<20, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: srv.Router(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server is running", zap.String("port", cfg.Server.Port))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
