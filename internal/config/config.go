package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Record store backends
	StoreJSON = "json"
	StoreSQL  = "sql"

	// Artifact collision policies
	CollisionSuffix    = "suffix"
	CollisionOverwrite = "overwrite"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB per embedded image
	pdfSizeHeadroom    = 1024 * 1024      // text, fonts and structure around the images
	DefaultWorkers     = 4
	DefaultSchemaFile  = "exams.json"
	DefaultUserFile    = "database/users.json"
	DefaultArtifactDir = "static/generated_pdfs"
	DefaultUploadDir   = "uploads"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "MCP_FORM"
)

// Config holds all configuration for the form PDF MCP server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Form and document configuration
	SchemaFile        string
	ArtifactDirectory string
	UploadDirectory   string
	MaxFileSize       int64 // Maximum embedded image size in bytes
	MaxPDFSize        int64 // Maximum inspected document size; 0 derives it from MaxFileSize
	FontFile          string
	Workers           int
	CollisionPolicy   string

	// Record store configuration
	Store    string // "json" or "sql"
	UserFile string
	DSN      string

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
	LogFormat  string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:              ModeStdio, // Default to stdio mode for MCP compatibility
		Host:              DefaultHost,
		Port:              DefaultPort,
		SchemaFile:        DefaultSchemaFile,
		ArtifactDirectory: DefaultArtifactDir,
		UploadDirectory:   DefaultUploadDir,
		MaxFileSize:       DefaultMaxFileSize,
		Workers:           DefaultWorkers,
		CollisionPolicy:   CollisionSuffix,
		Store:             StoreJSON,
		UserFile:          DefaultUserFile,
		Version:           "1.0.0",
		ServerName:        "mcp-form-pdf",
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	// A missing .env file is not an error; explicit environment wins over it.
	_ = godotenv.Load()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)
	cfg.expandPaths()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("schemas", cfg.SchemaFile)
	viper.SetDefault("artifacts", cfg.ArtifactDirectory)
	viper.SetDefault("uploads", cfg.UploadDirectory)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("maxpdfsize", cfg.MaxPDFSize)
	viper.SetDefault("font", cfg.FontFile)
	viper.SetDefault("workers", cfg.Workers)
	viper.SetDefault("collision", cfg.CollisionPolicy)
	viper.SetDefault("store", cfg.Store)
	viper.SetDefault("users", cfg.UserFile)
	viper.SetDefault("dsn", cfg.DSN)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("logformat", cfg.LogFormat)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("schemas", cfg.SchemaFile, "Form schema file (JSON or YAML) or a directory of them")
	pflag.String("artifacts", cfg.ArtifactDirectory, "Directory for generated PDF documents")
	pflag.String("uploads", cfg.UploadDirectory, "Directory holding uploaded photos and signatures")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum embedded image size in bytes")
	pflag.Int64("maxpdfsize", cfg.MaxPDFSize, "Maximum inspected PDF size in bytes (0: three images plus 1MB)")
	pflag.String("font", cfg.FontFile, "TrueType font for document text (default: built-in Helvetica, cp1252 only)")
	pflag.Int("workers", cfg.Workers, "Maximum concurrent document compositions")
	pflag.String("collision", cfg.CollisionPolicy, "Same-second filename policy: 'suffix' or 'overwrite'")
	pflag.String("store", cfg.Store, "User record store: 'json' or 'sql'")
	pflag.String("users", cfg.UserFile, "User record file (json store)")
	pflag.String("dsn", cfg.DSN, "Database DSN (sql store): sqlite path or postgres:// URL")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.String("logformat", cfg.LogFormat, "Log format (text, json)")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "host", "port", "schemas", "artifacts", "uploads", "maxfilesize",
		"maxpdfsize", "font", "workers", "collision", "store", "users", "dsn", "loglevel", "logformat",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP Form PDF - A Model Context Protocol server generating application form PDFs\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                          "+
			"# stdio mode, ./exams.json (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --schemas=forms.yaml --artifacts=/srv/pdfs "+
			"# custom schema and output\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --port=8081                 # server mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --store=sql --dsn=users.db                # SQLite record store\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from .env):\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_MODE        Server mode\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_HOST        Server host\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_PORT        Server port\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_SCHEMAS     Form schema file or directory\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_FONT        TrueType font for document text\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_ARTIFACTS   Generated PDF directory\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_STORE       Record store backend\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_DSN         Database DSN\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORM_LOGLEVEL    Log level\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.SchemaFile = viper.GetString("schemas")
	cfg.ArtifactDirectory = viper.GetString("artifacts")
	cfg.UploadDirectory = viper.GetString("uploads")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.MaxPDFSize = viper.GetInt64("maxpdfsize")
	cfg.FontFile = viper.GetString("font")
	cfg.Workers = viper.GetInt("workers")
	cfg.CollisionPolicy = viper.GetString("collision")
	cfg.Store = viper.GetString("store")
	cfg.UserFile = viper.GetString("users")
	cfg.DSN = viper.GetString("dsn")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.LogFormat = viper.GetString("logformat")
}

func (c *Config) expandPaths() {
	for _, p := range []*string{&c.SchemaFile, &c.ArtifactDirectory, &c.UploadDirectory, &c.UserFile, &c.FontFile} {
		if *p == "" {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			*p = abs
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.SchemaFile == "" {
		return errors.New("schema file cannot be empty")
	}

	if c.ArtifactDirectory == "" {
		return errors.New("artifact directory cannot be empty")
	}
	if err := ensureDir(c.ArtifactDirectory); err != nil {
		return err
	}
	if c.UploadDirectory != "" {
		if err := ensureDir(c.UploadDirectory); err != nil {
			return err
		}
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.MaxPDFSize < 0 {
		return errors.New("maximum PDF size cannot be negative")
	}
	if c.MaxPDFSize > 0 && c.MaxPDFSize < c.MaxFileSize {
		return errors.New("maximum PDF size cannot be below the maximum file size")
	}

	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}

	if c.CollisionPolicy != CollisionSuffix && c.CollisionPolicy != CollisionOverwrite {
		return fmt.Errorf("invalid collision policy: %s (must be 'suffix' or 'overwrite')", c.CollisionPolicy)
	}

	switch c.Store {
	case StoreJSON:
		if c.UserFile == "" {
			return errors.New("user file cannot be empty for the json store")
		}
		if err := ensureDir(filepath.Dir(c.UserFile)); err != nil {
			return err
		}
	case StoreSQL:
		if c.DSN == "" {
			return errors.New("dsn cannot be empty for the sql store")
		}
	default:
		return fmt.Errorf("invalid store: %s (must be 'json' or 'sql')", c.Store)
	}

	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", c.LogFormat)
	}

	return nil
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access directory %s: %w", dir, err)
	}
	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger builds the process logger. In stdio mode stdout carries the
// protocol, so logs always go to w (stderr in production).
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevels[c.LogLevel]}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// InspectLimit returns the largest document the inspector accepts. Unless
// set explicitly it is three image limits plus headroom, which holds an
// embedded photo and signature that are both at the image limit.
func (c *Config) InspectLimit() int64 {
	if c.MaxPDFSize > 0 {
		return c.MaxPDFSize
	}
	return 3*c.MaxFileSize + pdfSizeHeadroom
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, Schemas: %s, Artifacts: %s, Store: %s, "+
		"Workers: %d, Collision: %s, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Host, c.Port, c.SchemaFile, c.ArtifactDirectory, c.Store,
		c.Workers, c.CollisionPolicy, c.LogLevel, c.MaxFileSize)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}

// redactDSN hides credentials in a DSN for logging.
func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i > 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}

// SafeDSN returns the DSN with credentials removed.
func (c *Config) SafeDSN() string {
	return redactDSN(c.DSN)
}
