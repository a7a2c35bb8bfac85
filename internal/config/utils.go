package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookupEnv returns the parsed value of key, or defaultVal when the variable
// is unset, blank or fails to parse.
func lookupEnv[T any](key string, defaultVal T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultVal
	}
	v, err := parse(raw)
	if err != nil {
		return defaultVal
	}
	return v
}

// getEnv keeps an explicitly empty value, so DSNs and passwords can be
// cleared from the environment.
func getEnv(key, defaultVal string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	return lookupEnv(key, defaultVal, strconv.Atoi)
}

func getEnvAsBool(key string, defaultVal bool) bool {
	return lookupEnv(key, defaultVal, strconv.ParseBool)
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	return lookupEnv(key, defaultVal, time.ParseDuration)
}

// getEnvAsStringSlice splits a comma separated list such as KAFKA_BROKERS.
func getEnvAsStringSlice(key string, defaults []string) []string {
	return lookupEnv(key, defaults, func(raw string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil, strconv.ErrSyntax
		}
		return out, nil
	})
}
