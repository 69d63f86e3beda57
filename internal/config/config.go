package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appdefaults "github.com/saker-ai/cometrpc/config"
	"github.com/saker-ai/cometrpc/internal/logger"
)

const envPrefix = "comet"

// ClientConfig represents the settings of a comet client session.
type ClientConfig struct {
	BootstrapURL     string        `mapstructure:"bootstrap_url" yaml:"bootstrap_url"`
	AppID            string        `mapstructure:"app_id" yaml:"app_id"`
	DeviceID         string        `mapstructure:"device_id" yaml:"device_id"`
	Version          string        `mapstructure:"version" yaml:"version"`
	Subprotocol      string        `mapstructure:"subprotocol" yaml:"subprotocol"`
	Path             string        `mapstructure:"path" yaml:"path"`
	Redial           bool          `mapstructure:"redial" yaml:"redial"`
	NotifyBuffer     int           `mapstructure:"notify_buffer" yaml:"notify_buffer"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

// Config represents a config.
type Config struct {
	RootDir        string        `mapstructure:"-" yaml:"-"`
	HTTPAddr       string        `mapstructure:"http_addr" yaml:"http_addr"`
	AdvertiseAddr  string        `mapstructure:"advertise_addr" yaml:"advertise_addr"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	Client         ClientConfig  `mapstructure:"client" yaml:"client"`
	Log            logger.Config `mapstructure:"log" yaml:"log"`
}

// Load reads the embedded defaults, then conf.yaml found in the root dir,
// then COMET_* environment variables.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig is Load with an explicit config file. An empty path falls back
// to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("COMET_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return decode(v, rootDir)
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", ":8101")
	v.SetDefault("token_ttl", 30*time.Second)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("client.app_id", "1")
	v.SetDefault("client.device_id", "345")
	v.SetDefault("client.version", "123123123")
	v.SetDefault("client.subprotocol", "v2.json")
	v.SetDefault("client.path", "/ws")
	v.SetDefault("client.notify_buffer", 64)
	v.SetDefault("client.handshake_timeout", 45*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	deriveAdvertiseAddr(&cfg)
	cfg.Log.File.Path = resolvePath(rootDir, cfg.Log.File.Path, filepath.Join("data", "logs"))
	return cfg, nil
}

// deriveAdvertiseAddr fills the address handed out by the token endpoint
// from the listen address when none is configured.
func deriveAdvertiseAddr(cfg *Config) {
	if cfg.AdvertiseAddr != "" {
		return
	}
	host, port, err := net.SplitHostPort(cfg.HTTPAddr)
	if err != nil {
		cfg.AdvertiseAddr = cfg.HTTPAddr
		return
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	cfg.AdvertiseAddr = net.JoinHostPort(host, port)
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("COMET_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
