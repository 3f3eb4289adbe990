package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "metafed"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host     string
		HttpPort int `yaml:"httpPort"`
		// Domain is this server's federation domain, the part after @ in
		// local addresses.
		Domain string `yaml:"domain"`

		// Delivery knobs
		DeliveryTimeoutSec      int `yaml:"deliveryTimeoutSec"`
		RetryAttempts           int `yaml:"retryAttempts"`
		RetryDelaySec           int `yaml:"retryDelaySec"`
		MaxConcurrentDeliveries int `yaml:"maxConcurrentDeliveries"`

		// DiscoveryCacheTTLMin bounds how long resolved endpoints are
		// reused before re-discovery.
		DiscoveryCacheTTLMin int `yaml:"discoveryCacheTTLMin"`

		// HTTP surface limits. The inbox gets its own stricter budget.
		RateLimitPerSec      int `yaml:"rateLimitPerSec"`
		RateLimitBurst       int `yaml:"rateLimitBurst"`
		InboxRateLimitPerSec int `yaml:"inboxRateLimitPerSec"`
		InboxRateLimitBurst  int `yaml:"inboxRateLimitBurst"`
		MaxInboxBodyKb       int `yaml:"maxInboxBodyKb"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if env := os.Getenv("METAFED_HOST"); env != "" {
		c.Conf.Host = env
	}
	if env := os.Getenv("METAFED_DOMAIN"); env != "" {
		c.Conf.Domain = env
	}
	overrideInt(&c.Conf.HttpPort, "METAFED_HTTPPORT")
	overrideInt(&c.Conf.DeliveryTimeoutSec, "METAFED_DELIVERY_TIMEOUT_SEC")
	overrideInt(&c.Conf.RetryAttempts, "METAFED_RETRY_ATTEMPTS")
	overrideInt(&c.Conf.RetryDelaySec, "METAFED_RETRY_DELAY_SEC")
	overrideInt(&c.Conf.MaxConcurrentDeliveries, "METAFED_MAX_CONCURRENT_DELIVERIES")
	overrideInt(&c.Conf.DiscoveryCacheTTLMin, "METAFED_DISCOVERY_CACHE_TTL_MIN")
	overrideInt(&c.Conf.RateLimitPerSec, "METAFED_RATE_LIMIT_PER_SEC")
	overrideInt(&c.Conf.RateLimitBurst, "METAFED_RATE_LIMIT_BURST")
	overrideInt(&c.Conf.InboxRateLimitPerSec, "METAFED_INBOX_RATE_LIMIT_PER_SEC")
	overrideInt(&c.Conf.InboxRateLimitBurst, "METAFED_INBOX_RATE_LIMIT_BURST")
	overrideInt(&c.Conf.MaxInboxBodyKb, "METAFED_MAX_INBOX_BODY_KB")

	return c, nil
}

func overrideInt(target *int, envName string) {
	env := os.Getenv(envName)
	if env == "" {
		return
	}
	v, err := strconv.Atoi(env)
	if err != nil {
		fmt.Println(err)
		return
	}
	*target = v
}
