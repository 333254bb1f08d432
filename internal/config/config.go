// Package config loads client and server configuration from the environment.
// A .env file in the working directory is honored when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/visionflow/go-visionflow/internal/log"
)

// ClientConfig configures the capture-side process.
type ClientConfig struct {
	StreamURL  string // "0" for the default webcam, or an RTSP/file URL
	StreamID   string
	ServerHost string
	ServerPort int

	TargetFPS     float64
	FrameWidth    int
	FrameHeight   int
	JPEGQuality   int
	QueueSize     int
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	OutputDir    string
	KafkaBrokers []string // empty disables the Kafka result sink
	KafkaTopic   string

	LogLevel string
}

// ServerConfig configures the compute-side process.
type ServerConfig struct {
	ListenPort int

	ModelPath     string
	ConfThreshold float64
	NMSThreshold  float64
	InputSize     int

	QueueSize  int
	DropPolicy string // "oldest" or "newest"
	NumWorkers int

	MetricsWindow   int
	MetricsInterval time.Duration

	LogLevel string
}

// LoadClient reads ClientConfig from the environment.
func LoadClient() *ClientConfig {
	loadDotEnv()
	return &ClientConfig{
		StreamURL:     getEnv("STREAM_URL", "0"),
		StreamID:      getEnv("STREAM_ID", "cam_1"),
		ServerHost:    getEnv("SERVER_HOST", "localhost"),
		ServerPort:    getEnvInt("SERVER_PORT", 8655),
		TargetFPS:     getEnvFloat("TARGET_FPS", 30),
		FrameWidth:    getEnvInt("FRAME_WIDTH", 640),
		FrameHeight:   getEnvInt("FRAME_HEIGHT", 640),
		JPEGQuality:   getEnvInt("JPEG_QUALITY", 80),
		QueueSize:     getEnvInt("QUEUE_SIZE", 10),
		ReconnectBase: getEnvDuration("RECONNECT_BASE", 2*time.Second),
		ReconnectCap:  getEnvDuration("RECONNECT_CAP", 30*time.Second),
		OutputDir:     getEnv("OUTPUT_DIR", "output"),
		KafkaBrokers:  parseList(getEnv("RESULTS_KAFKA_BROKERS", "")),
		KafkaTopic:    getEnv("RESULTS_KAFKA_TOPIC", "detections"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// LoadServer reads ServerConfig from the environment.
func LoadServer() *ServerConfig {
	loadDotEnv()
	return &ServerConfig{
		ListenPort:      getEnvInt("LISTEN_PORT", 8655),
		ModelPath:       getEnv("MODEL_PATH", "models/yolov8n.onnx"),
		ConfThreshold:   getEnvFloat("CONF_THRESHOLD", 0.25),
		NMSThreshold:    getEnvFloat("NMS_THRESHOLD", 0.45),
		InputSize:       getEnvInt("MODEL_INPUT_SIZE", 640),
		QueueSize:       getEnvInt("MAX_QUEUE_SIZE", 20),
		DropPolicy:      getEnv("DROP_POLICY", "oldest"),
		NumWorkers:      getEnvInt("NUM_WORKERS", 4),
		MetricsWindow:   getEnvInt("METRICS_WINDOW", 100),
		MetricsInterval: getEnvDuration("METRICS_INTERVAL", 5*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug("config: no .env file found, using environment")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
