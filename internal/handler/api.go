// Package handler exposes the inference pipeline over HTTP. Every endpoint
// returns a well-formed JSON body, including on failure.
package handler

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/artifact"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/classifier"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/detector"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/models"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/service"
)

const streamChunkSize = 8192

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

var videoExtensions = map[string]bool{
	".avi": true,
}

// Handler handles HTTP requests
type Handler struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(orchestrator *service.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.Root)
	r.POST("/predict/health", h.PredictHealth)
	r.POST("/detect/image", h.DetectImage)
	r.POST("/detect/video", h.DetectVideo)
	r.GET("/video/*path", h.StreamVideo)
}

// Root is the liveness and capability listing.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Plant Disease Prediction API",
		"endpoints": []string{
			"POST /predict/health - Sensor data prediction",
			"POST /detect/image - Image detection",
			"POST /detect/video - Video detection",
			"GET /video/{path} - Download processed video",
		},
		"jobs": h.orchestrator.Stats(),
	})
}

// PredictHealth classifies a sensor feature vector.
func (h *Handler) PredictHealth(c *gin.Context) {
	// Plant_ID is optional and defaults to 1; binding overwrites it only
	// when the payload carries the field.
	reading := models.SensorReading{PlantID: 1}
	if err := c.ShouldBindJSON(&reading); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("Invalid sensor payload: %v", err),
		})
		return
	}

	result, err := h.orchestrator.PredictHealth(reading)
	if err != nil {
		h.writeError(c, "Prediction failed", err)
		return
	}

	c.JSON(http.StatusOK, models.HealthResponse{
		PlantHealthStatus: result.Status,
		Confidence:        fmt.Sprintf("%.2f%%", result.Confidence),
		PredictionCode:    result.Code,
	})
}

// DetectImage runs detection over an uploaded still image and returns the
// records inline.
func (h *Handler) DetectImage(c *gin.Context) {
	file, ok := h.openUpload(c, imageExtensions, "image")
	if !ok {
		return
	}
	defer file.reader.Close()

	detections, err := h.orchestrator.DetectImage(file.reader, file.name)
	if err != nil {
		h.writeError(c, "Image detection failed", err)
		return
	}
	if detections == nil {
		detections = []models.Detection{}
	}

	c.JSON(http.StatusOK, models.ImageDetectionResponse{
		Detections:      detections,
		TotalDetections: len(detections),
	})
}

// DetectVideo runs the long annotation pipeline and returns the artifact's
// relative path; the payload itself is fetched by a follow-up GET.
func (h *Handler) DetectVideo(c *gin.Context) {
	file, ok := h.openUpload(c, videoExtensions, "video")
	if !ok {
		return
	}
	defer file.reader.Close()

	result, err := h.orchestrator.DetectVideo(c.Request.Context(), file.reader, file.name)
	if err != nil {
		h.writeError(c, "Video detection failed", err)
		return
	}

	c.JSON(http.StatusOK, models.VideoDetectionResponse{
		Message:         "Video processed successfully",
		OutputVideoPath: result.OutputPath,
		TotalFrames:     result.Frames,
	})
}

// StreamVideo serves a processed artifact as an attachment in fixed-size
// chunks. A client that disconnects mid-stream just ends the loop.
func (h *Handler) StreamVideo(c *gin.Context) {
	relative := strings.TrimPrefix(c.Param("path"), "/")

	f, err := h.orchestrator.OpenOutput(relative)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: fmt.Sprintf("Video not found: %s", relative),
		})
		return
	}
	defer f.Close()

	mimeType := mime.TypeByExtension(filepath.Ext(relative))
	if mimeType == "" {
		mimeType = "video/avi"
	}

	c.Header("Content-Type", mimeType)
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(relative)))
	c.Status(http.StatusOK)

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				// Client went away; abort quietly, the artifact stays.
				h.logger.Debug("Client disconnected during stream",
					zap.String("path", relative))
				return
			}
			c.Writer.Flush()
		}
		if readErr != nil {
			return
		}
	}
}

type upload struct {
	reader multipart.File
	name   string
}

// openUpload validates the multipart payload and its declared media type
// before anything touches the artifact store.
func (h *Handler) openUpload(c *gin.Context, allowed map[string]bool, kind string) (upload, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "No file provided. Use 'file' as the form field name",
		})
		return upload{}, false
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowed[ext] {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("Unsupported %s type %q", kind, ext),
		})
		return upload{}, false
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("Failed to read upload: %v", err),
		})
		return upload{}, false
	}

	return upload{reader: f, name: fileHeader.Filename}, true
}

// writeError converts engine and store failures into the structured error
// body with a mapped status code. The process never surfaces a bare 500 page.
func (h *Handler) writeError(c *gin.Context, prefix string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, classifier.ErrSchemaMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, detector.ErrDecode):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, artifact.ErrPathEscape):
		status = http.StatusNotFound
	}

	h.logger.Error(prefix, zap.Error(err))
	c.JSON(status, models.ErrorResponse{
		Error: fmt.Sprintf("%s: %v", prefix, err),
	})
}
