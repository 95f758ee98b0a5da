package configs

import (
	"flag"
	"log"
	"os"

	"github.com/fadechat/fadechat/internal/infrastructure/env"
)

// DetermineConfigPath resolves the config file location from the --config
// flag, the FADECHAT_CONFIG env var, or a set of conventional locations.
// An empty result is fine: Load falls back to built-in defaults.
func DetermineConfigPath() string {
	var configPath string

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	if configPath == "" {
		configPath = env.GetString("FADECHAT_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"/etc/fadechat/config.yaml",
			"/app/config.yaml", // common in Docker
		}

		for _, p := range candidates {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	if configPath == "" {
		log.Println("no config file found, using defaults")
	}

	return configPath
}
