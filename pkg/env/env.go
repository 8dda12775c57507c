package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// MustGetEnvString panics if the env var is not set; use for required secrets.
func MustGetEnvString(envName string) string {
	v, err := GetEnvString(envName)
	if err != nil {
		panic(fmt.Sprintf("REQUIRED environment variable missing or empty: %s", envName))
	}
	return v
}

func GetEnvStringOrDefault(envName, defaultValue string) string {
	v, err := GetEnvString(envName)
	if err != nil {
		return defaultValue
	}
	return v
}

func GetEnvBoolOrDefault(envName string, defaultValue bool) bool {
	v, err := GetEnvString(envName)
	if err != nil {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func GetEnvIntOrDefault(envName string, defaultValue int) int {
	v, err := GetEnvString(envName)
	if err != nil {
		return defaultValue
	}
	i, err := strconv.ParseInt(v, 0, 0)
	if err != nil {
		return defaultValue
	}
	return int(i)
}

func GetEnvDurationOrDefault(envName string, defaultValue time.Duration) time.Duration {
	v, err := GetEnvString(envName)
	if err != nil {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvString returns the trimmed value of envName, or an error when it
// is unset or blank.
func GetEnvString(envName string) (string, error) {
	if len(envName) == 0 {
		return "", errors.New("Environment Variable Name Should Not Empty")
	}

	v := strings.TrimSpace(os.Getenv(envName))
	if len(v) == 0 {
		return "", errors.New("Environment Variable '" + envName + "' Has an Empty Value")
	}
	return v, nil
}
