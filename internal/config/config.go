package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server"`      // HTTP server settings
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Storage     StorageConfig     `toml:"storage"`     // Settings persistence
	Recognition RecognitionConfig `toml:"recognition"` // Speech capture settings
	Translation TranslationConfig `toml:"translation"` // Translation service settings
	Overlay     OverlayConfig     `toml:"overlay"`     // Subtitle overlay geometry
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the server
	Host             string `toml:"host"`                  // Host address to bind to
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, needed for websockets)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticFilesDir   string `toml:"static_files_dir"`      // Directory to serve the settings/overlay UI from
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains settings persistence configuration
type StorageConfig struct {
	SQLiteBasePath string `toml:"sqlite_base_path"` // Directory for the settings database file
}

// RecognitionConfig contains speech capture settings
type RecognitionConfig struct {
	// Engine selection: "vosk" for local microphone recognition, "stub" for
	// a scriptable engine (development and tests)
	Engine string `toml:"engine"`

	// Default session languages, overridable per start command and persisted
	// on every start/stop
	InputLang  string `toml:"input_lang"`  // BCP-47 capture language (default "en-US")
	OutputLang string `toml:"output_lang"` // Translation target language (default "es")

	// Vosk engine settings (used when engine = "vosk")
	VoskModelPath string `toml:"vosk_model_path"` // Path to the Vosk model directory
	SampleRate    int    `toml:"sample_rate"`     // Capture sample rate in Hz (default 16000)
	Channels      int    `toml:"channels"`        // Capture channels (default 1)
	BufferFrames  int    `toml:"buffer_frames"`   // Device period size in frames (default 4096)

	// Recovery
	RestartDelayMs int `toml:"restart_delay_ms"` // Delay before silent engine restart after a recoverable error (default 1000)
}

// TranslationConfig contains translation service settings
type TranslationConfig struct {
	Provider       string `toml:"provider"`        // "google" (web endpoint) or "gemini"
	Endpoint       string `toml:"endpoint"`        // Override for the google web endpoint (optional)
	TimeoutSeconds int    `toml:"timeout_seconds"` // HTTP timeout for translation requests (default 10)
	GeminiAPIKey   string `toml:"gemini_api_key"`  // API key (used when provider = "gemini")
	GeminiModel    string `toml:"gemini_model"`    // Model name (used when provider = "gemini")
}

// OverlayConfig contains subtitle overlay geometry settings
type OverlayConfig struct {
	ViewportWidth  float64 `toml:"viewport_width"`  // Assumed viewport width until a client reports one
	ViewportHeight float64 `toml:"viewport_height"` // Assumed viewport height until a client reports one
	CompactWidth   float64 `toml:"compact_width"`   // Panel width in compact mode
	ExpandedWidth  float64 `toml:"expanded_width"`  // Panel width in expanded mode
	Height         float64 `toml:"height"`          // Panel height
	InitialX       float64 `toml:"initial_x"`       // Initial panel position
	InitialY       float64 `toml:"initial_y"`
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	// Storage
	if c.Storage.SQLiteBasePath == "" {
		c.Storage.SQLiteBasePath = "data"
	}

	// Recognition
	switch c.Recognition.Engine {
	case "":
		c.Recognition.Engine = "vosk"
	case "vosk", "stub":
	default:
		return fmt.Errorf("invalid recognition engine: %s (must be 'vosk' or 'stub')", c.Recognition.Engine)
	}
	if c.Recognition.Engine == "vosk" && c.Recognition.VoskModelPath == "" {
		return fmt.Errorf("vosk_model_path is required when recognition engine is 'vosk'")
	}
	if c.Recognition.InputLang == "" {
		c.Recognition.InputLang = "en-US"
	}
	if c.Recognition.OutputLang == "" {
		c.Recognition.OutputLang = "es"
	}
	if c.Recognition.SampleRate <= 0 {
		c.Recognition.SampleRate = 16000
	}
	if c.Recognition.Channels <= 0 {
		c.Recognition.Channels = 1
	}
	if c.Recognition.BufferFrames <= 0 {
		c.Recognition.BufferFrames = 4096
	}
	if c.Recognition.RestartDelayMs <= 0 {
		c.Recognition.RestartDelayMs = 1000
	}

	// Translation
	switch c.Translation.Provider {
	case "":
		c.Translation.Provider = "google"
	case "google":
	case "gemini":
		if c.Translation.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required when translation provider is 'gemini'")
		}
	default:
		return fmt.Errorf("invalid translation provider: %s (must be 'google' or 'gemini')", c.Translation.Provider)
	}
	if c.Translation.TimeoutSeconds <= 0 {
		c.Translation.TimeoutSeconds = 10
	}

	// Overlay
	if c.Overlay.ViewportWidth <= 0 {
		c.Overlay.ViewportWidth = 1920
	}
	if c.Overlay.ViewportHeight <= 0 {
		c.Overlay.ViewportHeight = 1080
	}
	if c.Overlay.CompactWidth <= 0 {
		c.Overlay.CompactWidth = 400
	}
	if c.Overlay.ExpandedWidth <= 0 {
		c.Overlay.ExpandedWidth = 800
	}
	if c.Overlay.Height <= 0 {
		c.Overlay.Height = 180
	}

	return nil
}
