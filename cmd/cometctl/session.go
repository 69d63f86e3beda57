package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/cometrpc/internal/config"
	applogger "github.com/saker-ai/cometrpc/internal/logger"
	"github.com/saker-ai/cometrpc/pkg/comet"
)

func loadConfig(flags *globalFlags) (appconfig.Config, error) {
	cfg, err := appconfig.LoadConfig(flags.configPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	if flags.bootstrapURL != "" {
		cfg.Client.BootstrapURL = flags.bootstrapURL
	}
	return cfg, nil
}

// newLogger logs session activity to stderr (and the configured file) only
// with --verbose.
func newLogger(cfg appconfig.Config, verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	logCfg := cfg.Log
	logCfg.Level = "debug"
	logCfg.Stdout = true
	return applogger.New(logCfg, applogger.ComponentCLI)
}

func sessionConfig(cfg appconfig.ClientConfig) comet.Config {
	return comet.Config{
		Resolver: &comet.HTTPResolver{
			URL:      cfg.BootstrapURL,
			AppID:    cfg.AppID,
			DeviceID: cfg.DeviceID,
			Version:  cfg.Version,
		},
		Subprotocol:      cfg.Subprotocol,
		Path:             cfg.Path,
		HandshakeTimeout: cfg.HandshakeTimeout,
		NotifyBuffer:     cfg.NotifyBuffer,
		Redial:           cfg.Redial,
	}
}

// parseParams accepts a JSON document, or nothing for a call without params.
func parseParams(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("params are not valid JSON: %s", raw)
	}
	return json.RawMessage(raw), nil
}
