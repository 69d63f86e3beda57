// Package logger builds the zap loggers used by the gateway and cometctl.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Components tag every entry a process logs.
const (
	ComponentGateway = "gateway"
	ComponentCLI     = "cometctl"
)

// Config represents the log block of conf.yaml.
type Config struct {
	Level  string     `mapstructure:"level" yaml:"level"`
	Stdout bool       `mapstructure:"stdout" yaml:"stdout"`
	File   FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig represents the rotated file sink. An empty Name becomes
// "<component>.log".
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	Name       string `mapstructure:"name" yaml:"name"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// New builds a JSON logger for component. Every entry carries the component
// name. The cometctl console sink is stderr so command output on stdout stays
// machine readable.
func New(cfg Config, component string) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}

	sink, err := openSinks(cfg, component)
	if err != nil {
		return nil, fmt.Errorf("open %s log sinks: %w", component, err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, parseLevel(cfg.Level))
	return zap.New(core,
		zap.AddCaller(),
		zap.Fields(zap.String("component", component)),
	), nil
}

func openSinks(cfg Config, component string) (zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if cfg.File.Enabled {
		w, err := rotatedFile(cfg.File, component)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(w))
	}
	if cfg.Stdout || len(sinks) == 0 {
		sinks = append(sinks, zapcore.Lock(console(component)))
	}
	return zapcore.NewMultiWriteSyncer(sinks...), nil
}

func console(component string) zapcore.WriteSyncer {
	if component == ComponentCLI {
		return os.Stderr
	}
	return os.Stdout
}

func rotatedFile(fileCfg FileConfig, component string) (io.Writer, error) {
	dir := strings.TrimSpace(fileCfg.Path)
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}

	name := strings.TrimSpace(fileCfg.Name)
	if name == "" {
		name = component + ".log"
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    positiveOr(fileCfg.MaxSizeMB, 100),
		MaxBackups: max(fileCfg.MaxBackups, 0),
		MaxAge:     max(fileCfg.MaxAgeDays, 0),
		Compress:   fileCfg.Compress,
		LocalTime:  true,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// parseLevel falls back to info for anything zap does not recognize.
func parseLevel(raw string) zapcore.Level {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "warning" {
		raw = "warn"
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil || raw == "" {
		return zapcore.InfoLevel
	}
	return level
}
