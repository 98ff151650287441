// Package config handles Sidekick configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/sidekick/config.yaml, /etc/sidekick/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sidekick", "config.yaml"))
	}

	paths = append(paths, "/etc/sidekick/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Sidekick configuration.
type Config struct {
	// Username is how the assistant addresses the operator in its persona.
	Username string `yaml:"username"`
	// AssistantName is the name the assistant introduces itself with.
	AssistantName string `yaml:"assistant_name"`

	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text (default) or json

	Listen      ListenConfig      `yaml:"listen"`
	Groq        GroqConfig        `yaml:"groq"`
	Models      ModelsConfig      `yaml:"models"`
	Search      SearchConfig      `yaml:"search"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
	Images      ImagesConfig      `yaml:"images"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GroqConfig defines the chat-completion provider connection. The API is
// OpenAI-compatible; BaseURL may point at any compatible host.
type GroqConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Timeout bounds a whole streamed completion, headers to [DONE].
	Timeout time.Duration `yaml:"timeout"`
}

// Configured reports whether an API key is set.
func (c GroqConfig) Configured() bool {
	return c.APIKey != ""
}

// ModelsConfig defines per-mode model selection and sampling settings.
type ModelsConfig struct {
	Chat            string  `yaml:"chat"`
	Search          string  `yaml:"search"`
	ChatMaxTokens   int     `yaml:"chat_max_tokens"`
	SearchMaxTokens int     `yaml:"search_max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
}

// SearchConfig selects and configures the web search backend used by
// search mode.
type SearchConfig struct {
	// Provider is the primary backend: google (default), brave, or searxng.
	Provider string        `yaml:"provider"`
	Count    int           `yaml:"count"`
	Timeout  time.Duration `yaml:"timeout"`
	Google   GoogleConfig  `yaml:"google"`
	Brave    BraveConfig   `yaml:"brave"`
	SearXNG  SearXNGConfig `yaml:"searxng"`
}

// GoogleConfig holds Google Custom Search credentials.
type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
	CX     string `yaml:"cx"`
}

// Configured reports whether both the key and the engine ID are set.
func (c GoogleConfig) Configured() bool {
	return c.APIKey != "" && c.CX != ""
}

// BraveConfig holds configuration for the Brave Search provider.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool {
	return c.APIKey != ""
}

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}

// HuggingFaceConfig defines the text-to-image inference endpoint.
type HuggingFaceConfig struct {
	APIKey   string        `yaml:"api_key"`
	ModelURL string        `yaml:"model_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Configured reports whether an API key is set.
func (c HuggingFaceConfig) Configured() bool {
	return c.APIKey != ""
}

// ImagesConfig defines the image job queue and worker behavior.
type ImagesConfig struct {
	// Dir receives generated images. Defaults to data_dir.
	Dir string `yaml:"dir"`
	// ControlFile is the one-slot job file shared with the front-end.
	ControlFile string `yaml:"control_file"`
	// Count is the number of images requested per job.
	Count int `yaml:"count"`
	// PollInterval is the idle delay between control file reads.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Pace is the delay between opening consecutive result images.
	Pace time.Duration `yaml:"pace"`
	// Continuous keeps the worker polling after a job. By default the
	// worker exits after one job and expects to be respawned.
	Continuous bool `yaml:"continuous"`
	// Viewer is the command used to open result images. Empty selects
	// the platform default opener.
	Viewer []string `yaml:"viewer"`
	// Show disables opening results when set to false.
	Show *bool `yaml:"show"`
}

// ShowResults reports whether finished batches should be opened.
func (c ImagesConfig) ShowResults() bool {
	return c.Show == nil || *c.Show
}

// MQTTConfig defines the optional event bridge to an MQTT broker.
type MQTTConfig struct {
	Broker    string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"base_topic"`
	ClientID  string `yaml:"client_id"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Default chat-completion settings.
const (
	DefaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel           = "llama-3.3-70b-versatile"
	DefaultImageModelURL   = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"
	DefaultChatMaxTokens   = 1024
	DefaultSearchMaxTokens = 2048
)

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, then defaults are applied and
// the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Username == "" {
		c.Username = "User"
	}
	if c.AssistantName == "" {
		c.AssistantName = "Sidekick"
	}
	if c.DataDir == "" {
		c.DataDir = "Data"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}

	if c.Groq.BaseURL == "" {
		c.Groq.BaseURL = DefaultGroqBaseURL
	}
	if c.Groq.Timeout == 0 {
		c.Groq.Timeout = 2 * time.Minute
	}

	if c.Models.Chat == "" {
		c.Models.Chat = DefaultModel
	}
	if c.Models.Search == "" {
		c.Models.Search = DefaultModel
	}
	if c.Models.ChatMaxTokens == 0 {
		c.Models.ChatMaxTokens = DefaultChatMaxTokens
	}
	if c.Models.SearchMaxTokens == 0 {
		c.Models.SearchMaxTokens = DefaultSearchMaxTokens
	}
	if c.Models.Temperature == 0 {
		c.Models.Temperature = 0.7
	}
	if c.Models.TopP == 0 {
		c.Models.TopP = 1
	}

	if c.Search.Provider == "" {
		c.Search.Provider = "google"
	}
	if c.Search.Count == 0 {
		c.Search.Count = 5
	}
	if c.Search.Timeout == 0 {
		c.Search.Timeout = 20 * time.Second
	}

	if c.HuggingFace.ModelURL == "" {
		c.HuggingFace.ModelURL = DefaultImageModelURL
	}
	if c.HuggingFace.Timeout == 0 {
		c.HuggingFace.Timeout = 60 * time.Second
	}

	if c.Images.Dir == "" {
		c.Images.Dir = c.DataDir
	}
	if c.Images.ControlFile == "" {
		c.Images.ControlFile = filepath.Join(c.DataDir, "ImageGeneration.data")
	}
	if c.Images.Count == 0 {
		c.Images.Count = 4
	}
	if c.Images.PollInterval == 0 {
		c.Images.PollInterval = time.Second
	}
	if c.Images.Pace == 0 {
		c.Images.Pace = time.Second
	}

	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "sidekick"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sidekick"
	}
}

// Validate checks field values that cannot be defaulted. Missing API
// keys are not checked here because each subcommand needs a different
// subset; see the Require* helpers.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (expected text or json)", c.LogFormat)
	}
	switch c.Search.Provider {
	case "google", "brave", "searxng":
	default:
		return fmt.Errorf("unknown search.provider %q (expected google, brave or searxng)", c.Search.Provider)
	}
	if c.Images.Count < 1 {
		return fmt.Errorf("images.count must be at least 1, got %d", c.Images.Count)
	}
	if c.Models.Temperature < 0 || c.Models.Temperature > 2 {
		return fmt.Errorf("models.temperature must be in [0, 2], got %v", c.Models.Temperature)
	}
	return nil
}

// RequireGroq returns an error when the completion provider key is
// missing. Chat and search cannot start without it.
func (c *Config) RequireGroq() error {
	if !c.Groq.Configured() {
		return fmt.Errorf("groq.api_key is required (set it in config.yaml or via ${GROQ_API_KEY})")
	}
	return nil
}

// RequireHuggingFace returns an error when the image provider key is
// missing. The image worker cannot start without it.
func (c *Config) RequireHuggingFace() error {
	if !c.HuggingFace.Configured() {
		return fmt.Errorf("huggingface.api_key is required for image generation")
	}
	return nil
}

// ChatLogPath returns the conversation log location.
func (c *Config) ChatLogPath() string {
	return filepath.Join(c.DataDir, "ChatLog.json")
}

// UsageDBPath returns the usage ledger database location.
func (c *Config) UsageDBPath() string {
	return filepath.Join(c.DataDir, "usage.db")
}
