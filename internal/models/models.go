package models

// SensorReading is the sensor payload for the tabular health model.
// Field order mirrors the trained feature schema exactly; Vector relies on it.
type SensorReading struct {
	PlantID               float32 `json:"Plant_ID"`
	SoilMoisture          float32 `json:"Soil_Moisture" binding:"required"`
	AmbientTemperature    float32 `json:"Ambient_Temperature" binding:"required"`
	SoilTemperature       float32 `json:"Soil_Temperature" binding:"required"`
	Humidity              float32 `json:"Humidity" binding:"required"`
	LightIntensity        float32 `json:"Light_Intensity" binding:"required"`
	SoilPH                float32 `json:"Soil_pH" binding:"required"`
	NitrogenLevel         float32 `json:"Nitrogen_Level" binding:"required"`
	PhosphorusLevel       float32 `json:"Phosphorus_Level" binding:"required"`
	PotassiumLevel        float32 `json:"Potassium_Level" binding:"required"`
	ChlorophyllContent    float32 `json:"Chlorophyll_Content" binding:"required"`
	ElectrochemicalSignal float32 `json:"Electrochemical_Signal" binding:"required"`
}

// Vector flattens the reading in trained-schema order.
func (s SensorReading) Vector() []float32 {
	return []float32{
		s.PlantID, s.SoilMoisture, s.AmbientTemperature,
		s.SoilTemperature, s.Humidity, s.LightIntensity,
		s.SoilPH, s.NitrogenLevel, s.PhosphorusLevel,
		s.PotassiumLevel, s.ChlorophyllContent, s.ElectrochemicalSignal,
	}
}

// HealthResult is the classifier's verdict for one sensor reading.
type HealthResult struct {
	Status     string
	Confidence float32 // percent, 0..100
	Code       int
}

// Detection is one located object instance in a frame or still image.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2 in source pixels
}

// VideoResult references the annotated artifact produced for a video upload.
// The byte payload is fetched by a follow-up GET, not returned inline.
type VideoResult struct {
	OutputPath string // relative to the output root
	Frames     int
}

type HealthResponse struct {
	PlantHealthStatus string `json:"plant_health_status"`
	Confidence        string `json:"confidence"`
	PredictionCode    int    `json:"prediction_code"`
}

type ImageDetectionResponse struct {
	Detections      []Detection `json:"detections"`
	TotalDetections int         `json:"total_detections"`
}

type VideoDetectionResponse struct {
	Message         string `json:"message"`
	OutputVideoPath string `json:"output_video_path"`
	TotalFrames     int    `json:"total_frames"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
