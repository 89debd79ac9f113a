package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	TTS       TTSConfig
	OpenAI    OpenAIConfig
	R2        R2Config
	Prefetch  PrefetchConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	BodyLimit int // bytes
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
	GeneratePerHour   int
}

type StorageConfig struct {
	AudioBackend string // "fs" or "r2"
	AudioDir     string
	PDFDir       string
}

// TTSConfig holds the fixed narration voice and backend settings.
type TTSConfig struct {
	Provider          string // "google", "openai" or "mock"
	APIKey            string
	BaseURL           string
	LanguageCode      string
	VoiceName         string
	SpeakingRate      float64
	Pitch             float64
	MaxChars          int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type PrefetchConfig struct {
	Enabled bool
	Pages   int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("TTS_API_KEY")
	readSecret("OPENAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit", "SERVER_BODY_LIMIT")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("ratelimit.requests_per_minute", "RATE_LIMIT_REQUESTS_PER_MINUTE")
	_ = v.BindEnv("ratelimit.cleanup_interval", "RATE_LIMIT_CLEANUP_INTERVAL")
	_ = v.BindEnv("ratelimit.generate_per_hour", "RATE_LIMIT_GENERATE_PER_HOUR")
	_ = v.BindEnv("storage.audio_backend", "STORAGE_AUDIO_BACKEND")
	_ = v.BindEnv("storage.audio_dir", "STORAGE_AUDIO_DIR")
	_ = v.BindEnv("storage.pdf_dir", "STORAGE_PDF_DIR")
	_ = v.BindEnv("tts.provider", "TTS_PROVIDER")
	_ = v.BindEnv("tts.api_key", "TTS_API_KEY")
	_ = v.BindEnv("tts.base_url", "TTS_BASE_URL")
	_ = v.BindEnv("tts.language_code", "TTS_LANGUAGE_CODE")
	_ = v.BindEnv("tts.voice_name", "TTS_VOICE_NAME")
	_ = v.BindEnv("tts.speaking_rate", "TTS_SPEAKING_RATE")
	_ = v.BindEnv("tts.pitch", "TTS_PITCH")
	_ = v.BindEnv("tts.max_chars", "TTS_MAX_CHARS")
	_ = v.BindEnv("tts.timeout", "TTS_TIMEOUT")
	_ = v.BindEnv("tts.max_retries", "TTS_MAX_RETRIES")
	_ = v.BindEnv("tts.requests_per_minute", "TTS_REQUESTS_PER_MINUTE")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("openai.model", "OPENAI_TTS_MODEL")
	_ = v.BindEnv("openai.voice", "OPENAI_TTS_VOICE")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("prefetch.enabled", "PREFETCH_ENABLED")
	_ = v.BindEnv("prefetch.pages", "PREFETCH_PAGES")

	// Defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit", 200*1024*1024)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.requests_per_minute", 60)
	v.SetDefault("ratelimit.cleanup_interval", 10*time.Minute)
	v.SetDefault("ratelimit.generate_per_hour", 20)
	v.SetDefault("storage.audio_backend", "fs")
	v.SetDefault("storage.audio_dir", "./data/audio")
	v.SetDefault("storage.pdf_dir", "./data/pdfs")

	// Narration defaults
	v.SetDefault("tts.provider", "google")
	v.SetDefault("tts.base_url", "https://texttospeech.googleapis.com")
	v.SetDefault("tts.language_code", "en-US")
	v.SetDefault("tts.voice_name", "en-US-Studio-Q")
	v.SetDefault("tts.speaking_rate", 1.0)
	v.SetDefault("tts.pitch", 0.0)
	v.SetDefault("tts.max_chars", 5000)
	v.SetDefault("tts.timeout", 60*time.Second)
	v.SetDefault("tts.max_retries", 2)
	v.SetDefault("tts.requests_per_minute", 100)

	// OpenAI defaults
	v.SetDefault("openai.model", "tts-1-hd")
	v.SetDefault("openai.voice", "onyx")

	// Prefetch defaults
	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.pages", 1)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			BodyLimit: v.GetInt("server.body_limit"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: v.GetInt("ratelimit.requests_per_minute"),
			CleanupInterval:   v.GetDuration("ratelimit.cleanup_interval"),
			GeneratePerHour:   v.GetInt("ratelimit.generate_per_hour"),
		},
		Storage: StorageConfig{
			AudioBackend: strings.ToLower(v.GetString("storage.audio_backend")),
			AudioDir:     v.GetString("storage.audio_dir"),
			PDFDir:       v.GetString("storage.pdf_dir"),
		},
		TTS: TTSConfig{
			Provider:          strings.ToLower(v.GetString("tts.provider")),
			APIKey:            v.GetString("tts.api_key"),
			BaseURL:           v.GetString("tts.base_url"),
			LanguageCode:      v.GetString("tts.language_code"),
			VoiceName:         v.GetString("tts.voice_name"),
			SpeakingRate:      v.GetFloat64("tts.speaking_rate"),
			Pitch:             v.GetFloat64("tts.pitch"),
			MaxChars:          v.GetInt("tts.max_chars"),
			Timeout:           v.GetDuration("tts.timeout"),
			MaxRetries:        v.GetInt("tts.max_retries"),
			RequestsPerMinute: v.GetInt("tts.requests_per_minute"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			BaseURL: v.GetString("openai.base_url"),
			Model:   v.GetString("openai.model"),
			Voice:   v.GetString("openai.voice"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Prefetch: PrefetchConfig{
			Enabled: v.GetBool("prefetch.enabled"),
			Pages:   v.GetInt("prefetch.pages"),
		},
	}

	return cfg, nil
}
