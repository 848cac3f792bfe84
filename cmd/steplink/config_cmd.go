package main

import (
	"context"

	"gopkg.in/yaml.v3"
)

const redacted = "********"

func runConfigCommand(_ context.Context, args []string) error {
	fs := newFlagSet("config")
	configPath := fs.String("config", "", "config file path")
	showSecrets := fs.Bool("show-secrets", false, "print the development token")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Agent.Token != "" && !*showSecrets {
		cfg.Agent.Token = redacted
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
