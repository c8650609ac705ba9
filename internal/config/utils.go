package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue parses key with parse and falls back to def when the variable is
// unset or does not parse.
func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return envValue(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvAsInt(key string, def int) int {
	return envValue(key, def, strconv.Atoi)
}

func getEnvAsBool(key string, def bool) bool {
	return envValue(key, def, strconv.ParseBool)
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	return envValue(key, def, time.ParseDuration)
}

// getEnvAsStringSlice reads a comma separated list; blank items are dropped
// and an all-blank value keeps the default.
func getEnvAsStringSlice(key string, def []string) []string {
	items := envValue(key, nil, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	})
	if len(items) == 0 {
		return def
	}
	return items
}

// instanceGroup suffixes the consumer group with the host name so every
// dashboard instance receives the complete change feed.
func instanceGroup(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return base
	}
	return base + "-" + host
}
