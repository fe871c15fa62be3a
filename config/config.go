package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m4xw311/agentcli/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultModel is reported in simple-mode responses when nothing else is configured.
	DefaultModel = "opencode/zen-grok-code-fast-1"

	FormatSimple = "simple"
	FormatStream = "stream"

	// Environment variables read once per process.
	EnvDryRun  = "OPENCODE_DRY_RUN"
	EnvVerbose = "OPENCODE_VERBOSE"
	EnvModel   = "AGENTCLI_MODEL"
	EnvFormat  = "AGENTCLI_FORMAT"

	dirName = ".agentcli"
)

// Flags are the process-wide switches. They are passed by value into the
// agent and the executors; nothing reads them from a global.
type Flags struct {
	DryRun  bool
	Verbose bool
}

// FlagsFromEnv reads OPENCODE_DRY_RUN and OPENCODE_VERBOSE.
func FlagsFromEnv(getenv func(string) string) Flags {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Flags{
		DryRun:  truthy(getenv(EnvDryRun)),
		Verbose: truthy(getenv(EnvVerbose)),
	}
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Bash struct {
	Timeout time.Duration `yaml:"timeout"`
}

type Batch struct {
	Concurrency int `yaml:"concurrency"`
}

type WebFetch struct {
	Timeout time.Duration `yaml:"timeout"`
}

type WebSearch struct {
	Endpoint   string        `yaml:"endpoint"`
	NumResults int           `yaml:"num_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Plugins struct {
	MCPServers []MCPServer `yaml:"mcp_servers"`
}

type Audit struct {
	Database string `yaml:"database"`
}

type Log struct {
	File string `yaml:"file"`
}

type Install struct {
	CacheDir string `yaml:"cache_dir"`
}

type Config struct {
	Model            string           `yaml:"model"`
	Format           string           `yaml:"format"`
	WorkingDir       string           `yaml:"working_dir"`
	AllowedTools     []string         `yaml:"allowed_tools"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
	Bash             Bash             `yaml:"bash"`
	Batch            Batch            `yaml:"batch"`
	WebFetch         WebFetch         `yaml:"webfetch"`
	WebSearch        WebSearch        `yaml:"websearch"`
	Plugins          Plugins          `yaml:"plugins"`
	Audit            Audit            `yaml:"audit"`
	Log              Log              `yaml:"log"`
	Install          Install          `yaml:"install"`

	Flags Flags `yaml:"-"`
}

// Default returns a configuration with every default filled in.
func Default() Config {
	return Config{
		Model:      DefaultModel,
		Format:     FormatSimple,
		WorkingDir: ".",
		Bash:       Bash{Timeout: 2 * time.Minute},
		Batch:      Batch{Concurrency: 4},
		WebFetch:   WebFetch{Timeout: 30 * time.Second},
		WebSearch: WebSearch{
			Endpoint:   "https://mcp.exa.ai/mcp",
			NumResults: 8,
			Timeout:    25 * time.Second,
		},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. An explicit path, when
// given, is loaded last. Environment values are applied on top.
func LoadConfig(explicit string) (Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, dirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return Config{}, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, dirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "error loading project config")
		}
	}

	if explicit != "" {
		if err := loadFromFile(explicit, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "error loading config %s", explicit)
		}
	}

	cfg.applyEnv(os.Getenv)
	return cfg.Normalized(), nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML replace the ones loaded before.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		c.Model = v
	}
	if v := strings.TrimSpace(getenv(EnvFormat)); v != "" {
		c.Format = v
	}
	c.Flags = FlagsFromEnv(getenv)
}

// Normalized replaces zero values left by partial YAML or a literal Config
// with defaults.
func (c Config) Normalized() Config {
	def := Default()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.WorkingDir == "" {
		c.WorkingDir = def.WorkingDir
	}
	if c.Bash.Timeout <= 0 {
		c.Bash.Timeout = def.Bash.Timeout
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = def.Batch.Concurrency
	}
	if c.WebFetch.Timeout <= 0 {
		c.WebFetch.Timeout = def.WebFetch.Timeout
	}
	if c.WebSearch.Endpoint == "" {
		c.WebSearch.Endpoint = def.WebSearch.Endpoint
	}
	if c.WebSearch.NumResults <= 0 {
		c.WebSearch.NumResults = def.WebSearch.NumResults
	}
	if c.WebSearch.Timeout <= 0 {
		c.WebSearch.Timeout = def.WebSearch.Timeout
	}
	return c
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Format {
	case FormatSimple, FormatStream:
	default:
		return errors.New("invalid format '%s'. Must be '%s' or '%s'", c.Format, FormatSimple, FormatStream)
	}
	for _, s := range c.Plugins.MCPServers {
		if s.Name == "" || s.Command == "" {
			return errors.New("mcp server entries need both 'name' and 'command'")
		}
	}
	return nil
}

// WithFlags returns a copy of c using f.
func (c Config) WithFlags(f Flags) Config {
	c.Flags = f
	return c
}

// ToolAllowed reports whether a tool name passes the allowed_tools filter.
// An empty list allows everything.
func (c Config) ToolAllowed(name string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	for _, t := range c.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}
