package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider backend types accepted in the provider file.
const (
	ProviderGoogleFree = "google"
	ProviderTencent    = "tencent"
	ProviderLLM        = "llm"
)

// ProviderConfig is one entry of the provider YAML file. Order in the file
// is preference order: earlier providers are tried first.
type ProviderConfig struct {
	Type       string `yaml:"type"`
	TargetLang string `yaml:"target_lang"`
	IntervalMS int    `yaml:"interval_ms"`

	// Tencent credentials.
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`

	// LLM backend settings.
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Interval returns the pacing interval, defaulting per backend type when the
// file leaves it out.
func (p ProviderConfig) Interval() time.Duration {
	if p.IntervalMS > 0 {
		return time.Duration(p.IntervalMS) * time.Millisecond
	}
	switch p.Type {
	case ProviderLLM:
		return 1 * time.Second
	default:
		return 500 * time.Millisecond
	}
}

type providerFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProviders reads the provider YAML file. A missing file is not an
// error; it means translation runs with no providers and every request
// fails fast.
func LoadProviders(path string) ([]ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read provider file: %w", err)
	}

	var file providerFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse provider file: %w", err)
	}

	for i, p := range file.Providers {
		switch p.Type {
		case ProviderGoogleFree:
		case ProviderTencent:
			if p.SecretID == "" || p.SecretKey == "" {
				return nil, fmt.Errorf("provider %d: tencent needs secret_id and secret_key", i)
			}
		case ProviderLLM:
			if p.APIKey == "" {
				return nil, fmt.Errorf("provider %d: llm needs api_key", i)
			}
		default:
			return nil, fmt.Errorf("provider %d: unknown type %q", i, p.Type)
		}
	}
	return file.Providers, nil
}
