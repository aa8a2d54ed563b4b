package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/d1nch8g/theranotes/audio"
)

type AudioConfig struct {
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	FramesPerBuffer  int    `yaml:"frames_per_buffer"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	Format           string `yaml:"format"`
	TimerResolution  int    `yaml:"timer_resolution_ms"`
}

type PlaybackConfig struct {
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

type TranscriptionConfig struct {
	Backend   string `yaml:"backend"`
	Endpoint  string `yaml:"endpoint"`
	Timeout   int    `yaml:"timeout_seconds"`
	MaxSizeMB int    `yaml:"max_file_size_mb"`
}

type YandexConfig struct {
	IamToken string `yaml:"iam_token"`
	FolderID string `yaml:"folder_id"`
	Language string `yaml:"language"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Bind string `yaml:"bind"`
}

type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Yandex        YandexConfig        `yaml:"yandex"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	DownloadDir   string              `yaml:"download_dir"`
	HistorySize   int                 `yaml:"history_size"`
}

func Default() Config {
	constraints := audio.DefaultConstraints()
	return Config{
		Audio: AudioConfig{
			SampleRate:       constraints.SampleRate,
			Channels:         constraints.Channels,
			FramesPerBuffer:  constraints.FramesPerBuffer,
			EchoCancellation: constraints.EchoCancellation,
			NoiseSuppression: constraints.NoiseSuppression,
			Format:           "auto",
			TimerResolution:  10,
		},
		Playback: PlaybackConfig{
			FramesPerBuffer: 1024,
		},
		Transcription: TranscriptionConfig{
			Backend:   "http",
			Endpoint:  "http://localhost:8000",
			Timeout:   120,
			MaxSizeMB: 25,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		DownloadDir: ".",
		HistorySize: 10,
	}
}

// LoadConfig reads .env (when present), then the optional YAML file at path,
// then environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Constraints converts the audio section into capture constraints
func (c AudioConfig) Constraints() audio.Constraints {
	return audio.Constraints{
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		SampleRate:       c.SampleRate,
		Channels:         c.Channels,
		FramesPerBuffer:  c.FramesPerBuffer,
	}
}

func (c AudioConfig) TimerResolutionDuration() time.Duration {
	return time.Duration(c.TimerResolution) * time.Millisecond
}

func (c TranscriptionConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c TranscriptionConfig) MaxUploadBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

func applyEnvOverrides(cfg *Config) {
	overrideInt(&cfg.Audio.SampleRate, "SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "INPUT_CHANNELS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "FRAMES_PER_BUFFER")
	overrideBool(&cfg.Audio.EchoCancellation, "ECHO_CANCELLATION")
	overrideBool(&cfg.Audio.NoiseSuppression, "NOISE_SUPPRESSION")
	overrideString(&cfg.Audio.Format, "RECORD_FORMAT")
	overrideInt(&cfg.Audio.TimerResolution, "TIMER_RESOLUTION_MS")
	overrideInt(&cfg.Playback.FramesPerBuffer, "OUTPUT_FRAMES_PER_BUFFER")
	overrideString(&cfg.Transcription.Backend, "TRANSCRIBE_BACKEND")
	overrideString(&cfg.Transcription.Endpoint, "TRANSCRIBE_ENDPOINT")
	overrideInt(&cfg.Transcription.Timeout, "TRANSCRIBE_TIMEOUT_SECONDS")
	overrideInt(&cfg.Transcription.MaxSizeMB, "MAX_FILE_SIZE_MB")
	overrideString(&cfg.Yandex.IamToken, "IAM_TOKEN")
	overrideString(&cfg.Yandex.FolderID, "FOLDER_ID")
	overrideString(&cfg.Yandex.Language, "LANGUAGE")
	overrideString(&cfg.Logging.Level, "LOG_LEVEL")
	overrideBool(&cfg.Logging.Development, "LOG_DEVELOPMENT")
	overrideString(&cfg.Metrics.Bind, "METRICS_BIND")
	overrideString(&cfg.DownloadDir, "DOWNLOAD_DIR")
	overrideInt(&cfg.HistorySize, "HISTORY_SIZE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	switch cfg.Audio.Format {
	case "auto", "wav":
	default:
		return errors.New("audio.format must be one of auto|wav")
	}
	if cfg.Audio.TimerResolution <= 0 {
		return errors.New("audio.timer_resolution_ms must be positive")
	}
	if cfg.Playback.FramesPerBuffer <= 0 {
		return errors.New("playback.frames_per_buffer must be positive")
	}
	switch cfg.Transcription.Backend {
	case "http":
		if strings.TrimSpace(cfg.Transcription.Endpoint) == "" {
			return errors.New("transcription.endpoint must be set when backend=http")
		}
	case "yandex":
		if cfg.Yandex.IamToken == "" || cfg.Yandex.FolderID == "" {
			return errors.New("IAM_TOKEN and FOLDER_ID must be set when backend=yandex")
		}
	default:
		return errors.New("transcription.backend must be one of http|yandex")
	}
	if cfg.Transcription.Timeout <= 0 {
		return errors.New("transcription.timeout_seconds must be positive")
	}
	if cfg.Transcription.MaxSizeMB <= 0 {
		return errors.New("transcription.max_file_size_mb must be positive")
	}
	if cfg.HistorySize <= 0 {
		return errors.New("history_size must be positive")
	}
	return nil
}
