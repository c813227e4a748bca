//go:build dev

package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv never overrides variables already set in the environment.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
