package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/reclive/backend/pkg/utils/secret"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Hub      HubConfig      `mapstructure:"hub"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
	Export   ExportConfig   `mapstructure:"export"`
	Features FeaturesConfig `mapstructure:"features"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is "postgres", "sqlite" or "memory".
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// RecorderConfig describes the external recorder binary and where its artifacts live.
type RecorderConfig struct {
	Binary         string        `mapstructure:"binary"`
	SaveDir        string        `mapstructure:"save_dir"`
	TmpDir         string        `mapstructure:"tmp_dir"`
	DownloadsRoot  string        `mapstructure:"downloads_root"`
	TempRoot       string        `mapstructure:"temp_root"`
	DefaultExt     string        `mapstructure:"default_ext"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	StopGrace      time.Duration `mapstructure:"stop_grace"`
}

type HubConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	SendBuffer    int           `mapstructure:"send_buffer"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// JanitorConfig schedules removal of abandoned temp directories. An empty
// schedule disables it.
type JanitorConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// ExportConfig configures the optional SFTP upload of completed recordings.
type ExportConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	// Password may be sealed with `keygen seal`; it is opened with auth.secret_key.
	Password       string        `mapstructure:"password"`
	PrivateKey     string        `mapstructure:"private_key"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	HostKey        string        `mapstructure:"host_key"`
	RemoteDir      string        `mapstructure:"remote_dir"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
	ReconcileOnStartup   bool   `mapstructure:"reconcile_on_startup"`
	EnableLocks          bool   `mapstructure:"enable_locks"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	SecretKey      string   `mapstructure:"secret_key"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/reclive.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("recorder.binary", "N_m3u8DL-RE")
	v.SetDefault("recorder.save_dir", "downloads")
	v.SetDefault("recorder.tmp_dir", "temp")
	v.SetDefault("recorder.downloads_root", "downloads")
	v.SetDefault("recorder.temp_root", "temp")
	v.SetDefault("recorder.default_ext", "mp4")
	v.SetDefault("recorder.history_limit", 1000)
	v.SetDefault("recorder.persist_timeout", 5*time.Second)
	v.SetDefault("recorder.stop_grace", 3*time.Second)

	v.SetDefault("hub.flush_interval", 50*time.Millisecond)
	v.SetDefault("hub.ping_interval", 30*time.Second)
	v.SetDefault("hub.send_buffer", 64)

	v.SetDefault("monitor.interval", 2*time.Second)

	v.SetDefault("janitor.schedule", "@every 1h")
	v.SetDefault("janitor.max_age", 24*time.Hour)

	// keys without a default are invisible to AutomaticEnv during Unmarshal
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.host", "")
	v.SetDefault("export.port", 22)
	v.SetDefault("export.user", "")
	v.SetDefault("export.password", "")
	v.SetDefault("export.private_key", "")
	v.SetDefault("export.private_key_file", "")
	v.SetDefault("export.host_key", "")
	v.SetDefault("export.remote_dir", "recordings")
	v.SetDefault("export.timeout", 30*time.Second)

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.reconcile_on_startup", true)
	v.SetDefault("features.enable_locks", true)

	v.SetDefault("auth.admin_api_key", "")
	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.allowed_origins", []string{"http://localhost:3000"})
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Recorder.Binary) == "" {
		errs = append(errs, errors.New("recorder.binary is required"))
	}
	if c.Recorder.DownloadsRoot == "" || c.Recorder.TempRoot == "" {
		errs = append(errs, errors.New("recorder.downloads_root and recorder.temp_root are required"))
	}
	if c.Hub.FlushInterval <= 0 {
		errs = append(errs, errors.New("hub.flush_interval must be positive"))
	}
	if c.Hub.PingInterval <= 0 {
		errs = append(errs, errors.New("hub.ping_interval must be positive"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Export.Enabled && (c.Export.Host == "" || c.Export.User == "") {
		errs = append(errs, errors.New("export.host and export.user are required when export is enabled"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// Load reads the config file at path. A missing file is not an error: defaults
// and RECLIVE_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("RECLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolveSecrets opens sealed values and loads key material referenced by path.
func (c *Config) resolveSecrets() error {
	password, err := secret.Resolve(c.Export.Password, c.Auth.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to open export.password: %w", err)
	}
	c.Export.Password = password

	if c.Export.PrivateKey == "" && c.Export.PrivateKeyFile != "" {
		key, err := os.ReadFile(c.Export.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read export.private_key_file: %w", err)
		}
		c.Export.PrivateKey = string(key)
	}
	return nil
}
