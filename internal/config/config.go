package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Service  *svcConfig
	Database *dbConfig
	Remote   *remoteConfig
	Events   *eventsConfig
	Portal   *portalConfig
}

type svcConfig struct {
	Address          string        `envconfig:"MINDROOM_ADDRESS" default:":8084"`
	BaseUrl          string        `envconfig:"MINDROOM_ORCHESTRATOR_URL" default:"http://localhost:8084"`
	BaseDomain       string        `envconfig:"MINDROOM_BASE_DOMAIN" default:"mindroom.cloud"`
	ImageRegistry    string        `envconfig:"MINDROOM_IMAGE_REGISTRY" default:"ghcr.io/mindroom-ai"`
	ImageTag         string        `envconfig:"MINDROOM_IMAGE_TAG" default:"latest"`
	TierFile         string        `envconfig:"MINDROOM_TIER_FILE"`
	ProvisionTimeout time.Duration `envconfig:"MINDROOM_PROVISION_TIMEOUT" default:"30m"`
	MonitorInterval  time.Duration `envconfig:"MINDROOM_MONITOR_INTERVAL" default:"10m"`
	LogLevel         string        `envconfig:"MINDROOM_LOG_LEVEL" default:"info"`
}

type dbConfig struct {
	Driver string `envconfig:"MINDROOM_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"MINDROOM_DB_DSN" default:"mindroom.db"`
}

type remoteConfig struct {
	Host           string        `envconfig:"MINDROOM_PAAS_HOST" default:"localhost"`
	Port           int           `envconfig:"MINDROOM_PAAS_PORT" default:"22"`
	User           string        `envconfig:"MINDROOM_PAAS_USER" default:"dokku"`
	KeyPath        string        `envconfig:"MINDROOM_PAAS_KEY_PATH"`
	Key            string        `envconfig:"MINDROOM_PAAS_KEY"`
	Password       string        `envconfig:"MINDROOM_PAAS_PASSWORD"`
	KnownHosts     string        `envconfig:"MINDROOM_PAAS_KNOWN_HOSTS"`
	CommandPrefix  string        `envconfig:"MINDROOM_PAAS_COMMAND_PREFIX" default:"dokku"`
	DialTimeout    time.Duration `envconfig:"MINDROOM_PAAS_DIAL_TIMEOUT" default:"30s"`
	CommandTimeout time.Duration `envconfig:"MINDROOM_PAAS_COMMAND_TIMEOUT" default:"5m"`
}

type eventsConfig struct {
	NATSURL      string        `envconfig:"MINDROOM_NATS_URL"`
	FlushTimeout time.Duration `envconfig:"MINDROOM_NATS_FLUSH_TIMEOUT" default:"5s"`
	MaxReconnect int           `envconfig:"MINDROOM_NATS_MAX_RECONNECT" default:"10"`
}

type portalConfig struct {
	URL           string        `envconfig:"MINDROOM_PORTAL_URL"`
	Endpoint      string        `envconfig:"MINDROOM_PORTAL_ENDPOINT" default:"/orchestrators"`
	ID            string        `envconfig:"MINDROOM_ORCHESTRATOR_ID"`
	Name          string        `envconfig:"MINDROOM_ORCHESTRATOR_NAME" default:"mindroom-orchestrator"`
	SchemaVersion string        `envconfig:"MINDROOM_PORTAL_SCHEMA_VERSION" default:"v1alpha1"`
	HTTPTimeout   time.Duration `envconfig:"MINDROOM_PORTAL_HTTP_TIMEOUT" default:"10s"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}
