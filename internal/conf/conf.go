// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Configuration for single-sign-on (SSO).
type SSOConfig struct {
	Cert    string `yaml:"cert,omitempty"`
	CertKey string `yaml:"certKey,omitempty"`

	// If the certificate is self-signed, we need to skip verification.
	SelfSigned bool `yaml:"selfSigned,omitempty"`
}

// Configuration for structured logging.
type LoggingConfig struct {
	// The log level to use (debug, info, warn, error).
	LevelStr string `yaml:"level"`
	// The log format to use (json, text).
	Format string `yaml:"format"`
}

// Database configuration.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Configuration for the keystone authentication.
type KeystoneConfig struct {
	// The URL of the keystone service.
	URL string `yaml:"url"`
	// Availability of the services, such as "public", "internal", or "admin".
	Availability string `yaml:"availability"`
	// The SSO certificate to use. If none is given, we won't
	// use SSO to connect to the openstack services.
	SSO SSOConfig `yaml:"sso,omitempty"`
	// The OpenStack username (OS_USERNAME in openstack cli).
	OSUsername string `yaml:"username"`
	// The OpenStack password (OS_PASSWORD in openstack cli).
	OSPassword string `yaml:"password"`
	// The OpenStack project name (OS_PROJECT_NAME in openstack cli).
	OSProjectName string `yaml:"projectName"`
	// The OpenStack user domain name (OS_USER_DOMAIN_NAME in openstack cli).
	OSUserDomainName string `yaml:"userDomainName"`
	// The OpenStack project domain name (OS_PROJECT_DOMAIN_NAME in openstack cli).
	OSProjectDomainName string `yaml:"projectDomainName"`
}

// Configuration for a single poll loop of the executor module.
type PollConfig struct {
	// Initial delay in seconds before the first poll.
	CountdownSeconds int `yaml:"countdownSeconds"`
	// Interval in seconds between polls. The actual interval is jittered.
	IntervalSeconds int `yaml:"intervalSeconds"`
	// How many polls to attempt before giving up.
	MaxRetries int `yaml:"maxRetries"`
}

// Configuration for the executor module.
type ExecutorConfig struct {
	// Defaults applied when a poll loop has no explicit configuration.
	Poll PollConfig `yaml:"poll"`
	// Name of the admin role assigned to tenant users.
	TenantUserRole string `yaml:"tenantUserRole"`
	// External network to connect new tenants to, if any.
	ExternalNetworkID string `yaml:"externalNetworkID,omitempty"`
}

// Configuration for the sync module.
type SyncConfig struct {
	// Interval in seconds between sync rounds.
	IntervalSeconds int `yaml:"intervalSeconds"`
	// The types of resources to pull, e.g. "security_groups",
	// "floating_ips", "quotas".
	Types []string `yaml:"types"`
	// How many tenants to sync concurrently. Defaults to 4 when unset.
	Workers int `yaml:"workers,omitempty"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `yaml:"labels"`

	// The port to expose the metrics on.
	Port int `yaml:"port"`
}

// Configuration for the MQTT module.
type MQTTConfig struct {
	// The URL of the MQTT broker.
	URL string `yaml:"url"`
	// Credentials to connect with.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configuration for the API module.
type APIConfig struct {
	// The port to serve the API on.
	Port int `yaml:"port"`
}

// Configuration for the halcyon service.
type Config interface {
	GetLoggingConfig() LoggingConfig
	GetDBConfig() DBConfig
	GetKeystoneConfig() KeystoneConfig
	GetExecutorConfig() ExecutorConfig
	GetSyncConfig() SyncConfig
	GetMonitoringConfig() MonitoringConfig
	GetMQTTConfig() MQTTConfig
	GetAPIConfig() APIConfig
}

type config struct {
	LoggingConfig    `yaml:"logging"`
	DBConfig         `yaml:"db"`
	KeystoneConfig   `yaml:"keystone"`
	ExecutorConfig   `yaml:"executor"`
	SyncConfig       `yaml:"sync"`
	MonitoringConfig `yaml:"monitoring"`
	MQTTConfig       `yaml:"mqtt"`
	APIConfig        `yaml:"api"`
}

// Create a new configuration from the default config yaml file.
func NewConfig() Config {
	return newConfigFromFile("/etc/config/conf.yaml")
}

// Create a new configuration from the given file.
func newConfigFromFile(filepath string) Config {
	file, err := os.Open(filepath)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		panic(err)
	}
	return NewConfigFromBytes(bytes)
}

// Create a new configuration from the given bytes.
func NewConfigFromBytes(bytes []byte) Config {
	var c config
	if err := yaml.Unmarshal(bytes, &c); err != nil {
		panic(err)
	}
	return &c
}

func (c *config) GetLoggingConfig() LoggingConfig       { return c.LoggingConfig }
func (c *config) GetDBConfig() DBConfig                 { return c.DBConfig }
func (c *config) GetKeystoneConfig() KeystoneConfig     { return c.KeystoneConfig }
func (c *config) GetExecutorConfig() ExecutorConfig     { return c.ExecutorConfig }
func (c *config) GetSyncConfig() SyncConfig             { return c.SyncConfig }
func (c *config) GetMonitoringConfig() MonitoringConfig { return c.MonitoringConfig }
func (c *config) GetMQTTConfig() MQTTConfig             { return c.MQTTConfig }
func (c *config) GetAPIConfig() APIConfig               { return c.APIConfig }
