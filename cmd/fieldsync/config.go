// Config loading for the fieldsync CLI.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fieldsync/fieldsync/internal/store"
)

// Config is the resolved daemon configuration.
type Config struct {
	DataDir    string
	SessionKey string
	ListenAddr string

	BackendBaseURL string
	BackendToken   string

	ProbeURL      string
	ProbeInterval time.Duration

	RetryPolicy   store.RetryPolicy
	RetryInterval time.Duration
}

// Config keys.
const (
	cfgKeyDataDir        = "data_dir"
	cfgKeySessionKey     = "session_key"
	cfgKeyListenAddr     = "listen_addr"
	cfgKeyBackendBaseURL = "backend.base_url"
	cfgKeyBackendToken   = "backend.auth_token"
	cfgKeyProbeURL       = "probe.url"
	cfgKeyProbeInterval  = "probe.interval"
	cfgKeyMaxAttempts    = "retry.max_attempts"
	cfgKeyBaseDelay      = "retry.base_delay"
	cfgKeyMaxDelay       = "retry.max_delay"
	cfgKeyRetryInterval  = "retry.drain_interval"
)

// loadConfig reads fieldsync.yaml using Viper. A missing config file is not
// an error; defaults and flags cover everything.
func loadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault(cfgKeyDataDir, ".fieldsync")
	v.SetDefault(cfgKeySessionKey, "default")
	v.SetDefault(cfgKeyListenAddr, "127.0.0.1:8710")
	v.SetDefault(cfgKeyProbeInterval, "15s")
	v.SetDefault(cfgKeyMaxAttempts, store.DefaultRetryPolicy().MaxAttempts)
	v.SetDefault(cfgKeyBaseDelay, store.DefaultRetryPolicy().BaseDelay.String())
	v.SetDefault(cfgKeyMaxDelay, store.DefaultRetryPolicy().MaxDelay.String())
	v.SetDefault(cfgKeyRetryInterval, "1m")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &Config{
		DataDir:        v.GetString(cfgKeyDataDir),
		SessionKey:     v.GetString(cfgKeySessionKey),
		ListenAddr:     v.GetString(cfgKeyListenAddr),
		BackendBaseURL: v.GetString(cfgKeyBackendBaseURL),
		BackendToken:   v.GetString(cfgKeyBackendToken),
		ProbeURL:       v.GetString(cfgKeyProbeURL),
		ProbeInterval:  v.GetDuration(cfgKeyProbeInterval),
		RetryPolicy: store.RetryPolicy{
			MaxAttempts: v.GetInt(cfgKeyMaxAttempts),
			BaseDelay:   v.GetDuration(cfgKeyBaseDelay),
			MaxDelay:    v.GetDuration(cfgKeyMaxDelay),
		},
		RetryInterval: v.GetDuration(cfgKeyRetryInterval),
	}, nil
}
