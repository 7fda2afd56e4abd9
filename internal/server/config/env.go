package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "DEBTKEEPER_"

// dotenvFile is loaded before reading the environment. Variables already set
// in the process environment win over the file.
var dotenvFile = ".env"

type envSetter func(c *Config, v string) error

func setString(dst func(c *Config) *string) envSetter {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func setDuration(dst func(c *Config) *time.Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envVars = map[string]envSetter{
	"HTTP_ADDR":      setString(func(c *Config) *string { return &c.HTTPAddr }),
	"ENV":            setString(func(c *Config) *string { return &c.Env }),
	"DATABASE_DSN":   setString(func(c *Config) *string { return &c.DatabaseDSN }),
	"SECRET_KEY":     setString(func(c *Config) *string { return &c.SecretKey }),
	"BLOB_BACKEND":   setString(func(c *Config) *string { return &c.BlobBackend }),
	"BLOB_ROOT":      setString(func(c *Config) *string { return &c.BlobRoot }),
	"S3_USER":        setString(func(c *Config) *string { return &c.S3RootUser }),
	"S3_PASSWORD":    setString(func(c *Config) *string { return &c.S3RootPassword }),
	"S3_BUCKET":      setString(func(c *Config) *string { return &c.S3Bucket }),
	"S3_REGION":      setString(func(c *Config) *string { return &c.S3Region }),
	"S3_ENDPOINT":    setString(func(c *Config) *string { return &c.S3BaseEndpoint }),
	"WEBHOOK_URL":    setString(func(c *Config) *string { return &c.WebhookURL }),
	"WEBHOOK_SECRET": setString(func(c *Config) *string { return &c.WebhookSecret }),
	"MAILBOX_DIR":    setString(func(c *Config) *string { return &c.MailboxDir }),

	"ACCESS_TOKEN_TTL": setDuration(func(c *Config) *time.Duration { return &c.AccessTokenValidityDuration }),
	"WEBHOOK_TIMEOUT":  setDuration(func(c *Config) *time.Duration { return &c.WebhookTimeout }),
	"SHUTDOWN_TIMEOUT": setDuration(func(c *Config) *time.Duration { return &c.ShutdownTimeout }),

	"KEY_LENGTH_BYTES": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.KeyLengthBytes = n
		return err
	},
	"MAX_UPLOAD_BYTES": func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		c.MaxUploadBytes = n
		return err
	},
	"REQUIRE_OPERATOR_APPROVAL": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.RequireOperatorApproval = b
		return err
	},
	"CORS_ORIGINS": func(c *Config, v string) error {
		c.CORSOrigins = splitList(v)
		return nil
	},
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseEnv overlays DEBTKEEPER_* environment variables. A missing .env file
// is not an error.
func parseEnv(config *Config) error {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", dotenvFile, err)
	}

	for name, set := range envVars {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		if err := set(config, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
	}
	return nil
}
