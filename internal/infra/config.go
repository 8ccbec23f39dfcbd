package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents client configuration loaded from environment variables.
type Config struct {
	AppEnv     string
	APIBaseURL string
	APIToken   string
	SubjectID  string

	// AssetHost is the owned, non-expiring media host. URLs on any other
	// host are mirrored before they are shown or re-submitted.
	AssetHost string

	// TransientHosts lists provider hosts whose URLs expire and must never
	// be handed to the UI unmirrored.
	TransientHosts []string

	MaxJobWait     time.Duration
	PollInterval   time.Duration
	UploadMaxBytes int64

	MaxVideoSeconds int
	MaxAudioSeconds int

	CreditTTL time.Duration

	HTTPTimeout time.Duration
	Locale      string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "development"),
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		APIToken:   os.Getenv("API_TOKEN"),
		SubjectID:  os.Getenv("SUBJECT_ID"),
		AssetHost:  getEnv("ASSET_HOST", "media.mina.example"),
		TransientHosts: []string{
			"dashscope-result.oss-cn-beijing.aliyuncs.com",
			"dashscope-result.oss-accelerate.aliyuncs.com",
			"storage.googleapis.com",
		},
		MaxJobWait:      time.Second * time.Duration(getEnvInt("MAX_JOB_WAIT_SECONDS", 600)),
		PollInterval:    time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 1500)),
		UploadMaxBytes:  int64(getEnvInt("UPLOAD_MAX_BYTES", 25*1024*1024)),
		MaxVideoSeconds: getEnvInt("MAX_VIDEO_SECONDS", 30),
		MaxAudioSeconds: getEnvInt("MAX_AUDIO_SECONDS", 60),
		CreditTTL:       time.Second * time.Duration(getEnvInt("CREDIT_TTL_SECONDS", 120)),
		HTTPTimeout:     time.Second * time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 45)),
		Locale:          getEnv("LOCALE", "en"),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
