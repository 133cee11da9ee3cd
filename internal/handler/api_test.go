package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/artifact"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/detector"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/models"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/repository"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/service"
)

type fakeImageDetector struct {
	detections []models.Detection
	err        error
}

func (f *fakeImageDetector) DetectImage(image.Image) ([]models.Detection, error) {
	return f.detections, f.err
}

type fakeVideoDetector struct {
	frames  int
	payload []byte
	err     error
}

func (f *fakeVideoDetector) DetectVideo(ctx context.Context, inputPath, outputDir string) (int, string, error) {
	if f.err != nil {
		return 0, "", f.err
	}
	out := filepath.Join(outputDir, "annotated.avi")
	if err := os.WriteFile(out, f.payload, 0644); err != nil {
		return 0, "", err
	}
	return f.frames, out, nil
}

type fakeClassifier struct {
	result     models.HealthResult
	err        error
	lastVector []float32
}

func (f *fakeClassifier) Classify(vector []float32) (models.HealthResult, error) {
	f.lastVector = vector
	return f.result, f.err
}

type apiEnv struct {
	router      *gin.Engine
	scratchRoot string
	outputRoot  string
}

func newAPIEnv(t *testing.T, images service.ImageDetector, videos service.VideoDetector, cls service.HealthClassifier) *apiEnv {
	t.Helper()

	root := t.TempDir()
	scratchRoot := filepath.Join(root, "scratch")
	outputRoot := filepath.Join(root, "outputs")

	logger := zap.NewNop()
	store, err := artifact.NewStore(scratchRoot, outputRoot, logger)
	require.NoError(t, err)

	jobs, err := repository.NewJobRepository(filepath.Join(root, "jobs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Close() })

	orch := service.NewOrchestrator(store, images, videos, cls, jobs, 2, time.Minute, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(orch, logger).RegisterRoutes(router)

	return &apiEnv{
		router:      router,
		scratchRoot: scratchRoot,
		outputRoot:  outputRoot,
	}
}

func multipartUpload(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func TestPredictHealthResponseShape(t *testing.T) {
	env := newAPIEnv(t, &fakeImageDetector{}, &fakeVideoDetector{},
		&fakeClassifier{result: models.HealthResult{Status: "Healthy", Confidence: 96.5, Code: 0}})

	payload := map[string]float64{
		"Plant_ID": 1, "Soil_Moisture": 25, "Ambient_Temperature": 24,
		"Soil_Temperature": 20, "Humidity": 55, "Light_Intensity": 600,
		"Soil_pH": 6.5, "Nitrogen_Level": 30, "Phosphorus_Level": 30,
		"Potassium_Level": 30, "Chlorophyll_Content": 35, "Electrochemical_Signal": 1,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict/health", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.PlantHealthStatus, "Healthy")
	assert.Regexp(t, `^\d+\.\d{2}%$`, resp.Confidence)
	assert.Equal(t, 0, resp.PredictionCode)
}

func TestPredictHealthDefaultsPlantID(t *testing.T) {
	cls := &fakeClassifier{result: models.HealthResult{Status: "Healthy", Confidence: 90, Code: 0}}
	env := newAPIEnv(t, &fakeImageDetector{}, &fakeVideoDetector{}, cls)

	// No Plant_ID in the payload; the schema default is 1, not the zero value.
	payload := map[string]float64{
		"Soil_Moisture": 25, "Ambient_Temperature": 24,
		"Soil_Temperature": 20, "Humidity": 55, "Light_Intensity": 600,
		"Soil_pH": 6.5, "Nitrogen_Level": 30, "Phosphorus_Level": 30,
		"Potassium_Level": 30, "Chlorophyll_Content": 35, "Electrochemical_Signal": 1,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict/health", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, cls.lastVector, 12)
	assert.Equal(t, float32(1), cls.lastVector[0])

	// An explicit value still wins over the default.
	payload["Plant_ID"] = 7
	body, err = json.Marshal(payload)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/predict/health", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float32(7), cls.lastVector[0])
}

func TestPredictHealthRejectsPartialVector(t *testing.T) {
	env := newAPIEnv(t, &fakeImageDetector{}, &fakeVideoDetector{}, &fakeClassifier{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict/health",
		bytes.NewReader([]byte(`{"Soil_Moisture": 25}`)))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestDetectImageEmptyResult(t *testing.T) {
	env := newAPIEnv(t, &fakeImageDetector{}, &fakeVideoDetector{}, &fakeClassifier{})

	body, contentType := multipartUpload(t, "leaf.jpg", jpegBytes(t))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect/image", body)
	req.Header.Set("Content-Type", contentType)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"detections": [], "total_detections": 0}`, w.Body.String())
}

func TestDetectImageWithDetections(t *testing.T) {
	dets := []models.Detection{
		{Class: "Angular Leafspot", Confidence: 0.91, BBox: [4]float32{10, 20, 110, 220}},
	}
	env := newAPIEnv(t, &fakeImageDetector{detections: dets}, &fakeVideoDetector{}, &fakeClassifier{})

	body, contentType := multipartUpload(t, "leaf.png", jpegBytes(t))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect/image", body)
	req.Header.Set("Content-Type", contentType)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ImageDetectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalDetections)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "Angular Leafspot", resp.Detections[0].Class)
}

func TestDetectImageRejectsUnsupportedType(t *testing.T) {
	env := newAPIEnv(t, &fakeImageDetector{}, &fakeVideoDetector{}, &fakeClassifier{})

	body, contentType := multipartUpload(t, "notes.txt", []byte("hello"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect/image", body)
	req.Header.Set("Content-Type", contentType)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	// Rejected before the artifact store was ever touched.
	entries, err := os.ReadDir(env.scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDetectVideoReturnsArtifactReference(t *testing.T) {
	payload := []byte("annotated avi bytes")
	env := newAPIEnv(t, &fakeImageDetector{},
		&fakeVideoDetector{frames: 12, payload: payload}, &fakeClassifier{})

	body, contentType := multipartUpload(t, "clip.avi", []byte("raw input"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect/video", body)
	req.Header.Set("Content-Type", contentType)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.VideoDetectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.TotalFrames)
	assert.NotEmpty(t, resp.OutputVideoPath)

	// Inference and transfer are decoupled: fetch the artifact now.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/video/"+resp.OutputVideoPath, nil)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes(), "streamed bytes must round-trip exactly")
	assert.Equal(t, `attachment; filename="annotated.avi"`,
		w.Header().Get("Content-Disposition"))
}

func TestDetectVideoCorruptUpload(t *testing.T) {
	env := newAPIEnv(t, &fakeImageDetector{},
		&fakeVideoDetector{err: fmt.Errorf("%w: not a RIFF container", detector.ErrDecode)},
		&fakeClassifier{})

	body, contentType := multipartUpload(t, "clip.avi", []byte("garbage"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect/video", body)
	req.Header.Set("Content-Type", contentType)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)

	// No scratch files left behind.
	entries, err := os.ReadDir(env.scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStreamVideoLargePayloadRoundTrip(t *testing.T) {
	// Payload larger than the chunk size, not a multiple of it.
	payload := make([]byte, 3*8192+137)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	env := newAPIEnv(t, &fakeImageDetector{},
		&fakeVideoDetector{frames: 1, payload: payload}, &fakeClassifier{})

	body, contentType := multipartUpload(t, "clip.avi", []byte("in"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect/video", body)
	req.Header.Set("Content-Type", contentType)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.VideoDetectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/video/"+resp.OutputVideoPath, nil)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	got, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStreamVideoRejectsEscapeAndMissing(t *testing.T) {
	env := newAPIEnv(t, &fakeImageDetector{}, &fakeVideoDetector{}, &fakeClassifier{})

	for _, path := range []string{"/video/../../etc/passwd", "/video/no-such-id/clip.avi"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		env.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusNotFound, w.Code, "path %q", path)

		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
	}
}

func TestRootListsCapabilities(t *testing.T) {
	env := newAPIEnv(t, &fakeImageDetector{}, &fakeVideoDetector{}, &fakeClassifier{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Message   string   `json:"message"`
		Endpoints []string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Message)
	assert.Len(t, resp.Endpoints, 4)
}
