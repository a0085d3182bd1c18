package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadServicesConfig loads the services configuration from config/services.yaml
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the services configuration from a specific path
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	// Validate that all services have required fields
	for id, settings := range cfg.Services {
		if settings.Port == 0 {
			return nil, fmt.Errorf("service %s: port is required", id)
		}
	}

	return &cfg, nil
}

// LoadServicesConfigOrDefault loads services config or returns default if file not found
func LoadServicesConfigOrDefault() *ServicesConfig {
	cfg, err := LoadServicesConfig()
	if err != nil {
		// Return default configuration with all services enabled
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig returns the default services configuration: the
// seven services of spec §4, each on its own port.
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"authentication": {
				Enabled:     true,
				Port:        8081,
				Description: "User registration, login, and credential issuance",
			},
			"accesscontrol": {
				Enabled:     true,
				Port:        8082,
				Description: "Stateless visibility predicates over functions, data, and tasks",
			},
			"storage": {
				Enabled:     true,
				Port:        8083,
				Description: "Single-writer key-value store and task queues",
			},
			"management": {
				Enabled:     true,
				Port:        8084,
				Description: "Function, data, and task lifecycle orchestration",
			},
			"scheduler": {
				Enabled:     true,
				Port:        8085,
				Description: "Staged-task dispatch and executor liveness sweeping",
			},
			"executor": {
				Enabled:     true,
				Port:        8086,
				Description: "Enclave worker pulling, running, and reporting staged tasks",
			},
			"frontend": {
				Enabled:     true,
				Port:        8080,
				Description: "HTTP ingress fronting Authentication and Management",
			},
		},
	}
}
