package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const defaultPollInterval = 60 * time.Second

// Config holds everything the bridge needs from the environment.
type Config struct {
	Serial       string
	Email        string
	Password     string
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	PollInterval time.Duration
}

// loadConfig reads configuration from environment variables. The .env file,
// if any, has already been loaded by main via godotenv.
func loadConfig() (Config, error) {
	cfg := Config{PollInterval: defaultPollInterval}

	required := []struct {
		name   string
		target *string
	}{
		{"POWEROCEAN_SERIAL", &cfg.Serial},
		{"ECOFLOW_EMAIL", &cfg.Email},
		{"ECOFLOW_PASSWORD", &cfg.Password},
		{"MQTT_BROKER", &cfg.MQTTBroker},
		{"MQTT_USERNAME", &cfg.MQTTUsername},
		{"MQTT_PASSWORD", &cfg.MQTTPassword},
	}
	for _, v := range required {
		*v.target = os.Getenv(v.name)
		if *v.target == "" {
			return Config{}, fmt.Errorf("%s must be set", v.name)
		}
	}

	if raw := os.Getenv("POLL_INTERVAL_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 1 {
			return Config{}, fmt.Errorf("POLL_INTERVAL_SECONDS must be a positive integer, got %q", raw)
		}
		cfg.PollInterval = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}
