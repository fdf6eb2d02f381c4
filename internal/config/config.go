// Package config holds the environment-variable-driven settings shared
// by the controller and agent binaries, processed with envconfig the
// way VSOEnvOptions is in the Vault Secrets Operator.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AgentEnv are the agent process's environment-variable options, per
// spec.md section 6.
type AgentEnv struct {
	// Mode selects the bind address: "release" binds [::]:50208, any
	// other value (including empty, "dev") binds 127.0.0.1:50208.
	Mode string `envconfig:"MODE"`

	// RefreshInterval overrides the refresh loop cadence; validated
	// against the floor in internal/agent.MinRefreshInterval.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"180s"`

	// LogLevel mirrors RUST_LOG/LOG_LEVEL verbosity knobs from the
	// original implementation.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Parse reads AgentEnv from the process environment.
func (c *AgentEnv) Parse() error {
	return envconfig.Process("", c)
}

// BindAddress derives the gRPC listen address from Mode.
func (c *AgentEnv) BindAddress() string {
	if c.Mode == "release" {
		return "[::]:50208"
	}
	return "127.0.0.1:50208"
}

// ControllerEnv are the controller process's environment-variable
// options.
type ControllerEnv struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// SyncInterval is the periodic-sync cadence (spec.md section 4.8).
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"180s"`

	// AgentAddress is the in-cluster DNS name of the agent's gRPC
	// endpoint (spec.md section 6).
	AgentAddress string `envconfig:"AGENT_ADDRESS" default:"repository-svc:50208"`
}

// Parse reads ControllerEnv from the process environment.
func (c *ControllerEnv) Parse() error {
	return envconfig.Process("", c)
}
