package util

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// LoadEnv loads KEY=VALUE pairs from `.env.<name>` into the process
// environment. Variables already present in the environment win.
func LoadEnv(name string) error {
	f, err := os.Open(".env." + name)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func GetEnv(key string) string {
	return os.Getenv(key)
}

func GetEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string) int64 {
	return cast.ToInt64(os.Getenv(key))
}

func GetIntEnvDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		return cast.ToInt64(value)
	}
	return defaultValue
}

func GetBoolEnv(key string) bool {
	return cast.ToBool(os.Getenv(key))
}

// GetListEnv splits a comma-separated variable into trimmed entries.
func GetListEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func GetDurationEnvDefault(key string, defaultValue string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		v = defaultValue
	}
	return cast.ToDuration(v)
}
