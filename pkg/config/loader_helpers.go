package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Booleans are only taken when the
// key is present in the file, so a missing key never resets a default.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Agent.URL != "" {
		base.Agent.URL = override.Agent.URL
	}
	if override.Agent.Token != "" {
		base.Agent.Token = override.Agent.Token
	}
	if override.Agent.ConnectTimeout != 0 {
		base.Agent.ConnectTimeout = override.Agent.ConnectTimeout
	}
	if override.Agent.ValidationTimeout != 0 {
		base.Agent.ValidationTimeout = override.Agent.ValidationTimeout
	}
	if override.Agent.RequestTimeout != 0 {
		base.Agent.RequestTimeout = override.Agent.RequestTimeout
	}
	if override.Agent.MaxRequestsPerSecond != 0 {
		base.Agent.MaxRequestsPerSecond = override.Agent.MaxRequestsPerSecond
	}

	if boolFieldSet(raw, "reporting", "disabled") {
		base.Reporting.Disabled = override.Reporting.Disabled
	}
	if override.Reporting.JournalPath != "" {
		base.Reporting.JournalPath = override.Reporting.JournalPath
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Name != "" {
		base.Bus.Name = override.Bus.Name
	}

	if boolFieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}

	if override.Project.Name != "" {
		base.Project.Name = override.Project.Name
	}
	if override.Project.Job != "" {
		base.Project.Job = override.Project.Job
	}

	if override.DataProvider.Path != "" {
		base.DataProvider.Path = override.DataProvider.Path
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

func parseBool(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// loadConfigEnvVars reads KEY=value lines from ~/.steplink/config.env.
func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	return readEnvFile(filepath.Join(home, configDirName, "config.env"))
}

func readEnvFile(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	return vars
}
