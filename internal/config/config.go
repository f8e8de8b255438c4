package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level messkit config.
	WorkspaceDirName = ".messkit"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for messkit.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Creative CreativeConfig `yaml:"creative"`
	Browser  BrowserConfig  `yaml:"browser"`
	MCP      MCPConfig      `yaml:"mcp"`
	Mangle   MangleConfig   `yaml:"mangle"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug | info | warn | error.
	Level string `yaml:"level"`
	// File redirects logs away from stderr (required for stdio MCP transport).
	File string `yaml:"file"`
}

// WindowNames are the window identities that select an embedded mode.
type WindowNames struct {
	Dev   string `yaml:"dev"`
	Style string `yaml:"style"`
	Props string `yaml:"props"`
}

// CreativeConfig describes the creative unit and its handshake.
type CreativeConfig struct {
	// Billable entity code used for attribution (e.g. MDTN).
	Billable string `yaml:"billable"`
	// Beacon endpoint. Query parameters are appended.
	TrackingEndpoint string `yaml:"tracking_endpoint"`
	// How long an editor unit waits for the first property update (e.g. "300ms").
	PropsTimeout string `yaml:"props_timeout"`
	// Quiet period that closes a batch of style updates (e.g. "100ms").
	StyleDebounce string `yaml:"style_debounce"`
	// Per-request bound for beacons.
	BeaconTimeout string `yaml:"beacon_timeout"`
	// Appended to exitUrl on click.
	ClickTag string `yaml:"click_tag"`
	// Window identities recognized as editor / props hosts.
	WindowNames WindowNames `yaml:"window_names"`
	// Default editable fields when the ad server supplies none.
	Fields map[string]any `yaml:"fields"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout for exit previews (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Viewport width for preview pages (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for preview pages (default: 720).
	ViewportHeight int `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded deductive engine.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls JSONL traces of harness units.
type RecorderConfig struct {
	Enable   bool   `yaml:"enable"`
	TraceDir string `yaml:"trace_dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "messkit",
			Version: "0.1.0",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "messkit.log",
		},
		Creative: CreativeConfig{
			TrackingEndpoint: "https://track.example.com/",
			PropsTimeout:     "300ms",
			StyleDebounce:    "100ms",
			BeaconTimeout:    "10s",
			WindowNames: WindowNames{
				Dev:   "mess-dev",
				Style: "mess-style",
				Props: "props-handler",
			},
		},
		Browser: BrowserConfig{
			AutoStart:                false,
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1280,
			ViewportHeight:           720,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Mangle: MangleConfig{
			Enable:          true,
			SchemaPath:      "schemas/creative.mg",
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			TraceDir: "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .messkit/config.yaml file.
// Returns the workspace root directory (parent of .messkit/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .messkit/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .messkit/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# messkit project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# creative:
#   billable: "MDTN"
#   click_tag: ""
#   props_timeout: "300ms"
#   style_debounce: "100ms"
#   fields:
#     headline: "My Creative"
#     cta:
#       default: "Click Here"
#       __300x250__: "Go"

# recorder:
#   enable: true
#   trace_dir: ".messkit/data/traces"

mangle:
  schema_path: ".messkit/schemas/creative.mg"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Logging.File = resolve(cfg.Logging.File)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.TraceDir = resolve(cfg.Recorder.TraceDir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Creative.TrackingEndpoint != "" {
		u, err := url.Parse(c.Creative.TrackingEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("creative.tracking_endpoint must be an absolute URL: %q", c.Creative.TrackingEndpoint)
		}
	}
	names := c.Creative.WindowNames
	if names.Dev == "" || names.Style == "" || names.Props == "" {
		return errors.New("creative.window_names.dev, style and props are required")
	}
	if names.Dev == names.Props || names.Style == names.Props {
		return errors.New("creative.window_names.props must differ from the editor names")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetPropsTimeout returns the parsed props timeout with a sane default.
func (c CreativeConfig) GetPropsTimeout() time.Duration {
	return parseDuration(c.PropsTimeout, 300*time.Millisecond)
}

// GetStyleDebounce returns the parsed debounce interval with a sane default.
func (c CreativeConfig) GetStyleDebounce() time.Duration {
	return parseDuration(c.StyleDebounce, 100*time.Millisecond)
}

// GetBeaconTimeout returns the parsed beacon timeout with a sane default.
func (c CreativeConfig) GetBeaconTimeout() time.Duration {
	return parseDuration(c.BeaconTimeout, 10*time.Second)
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 720
	}
	return b.ViewportHeight
}
