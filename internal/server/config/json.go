package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/flagx"
	"github.com/dmitrijs2005/debtkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations accept
// both strings such as "10s" and integer nanoseconds. Pointer fields tell an
// explicit false or zero apart from an omitted key.
type JsonConfig struct {
	HTTPAddr                    string          `json:"http_addr"`
	Env                         string          `json:"env"`
	DatabaseDSN                 string          `json:"database_dsn"`
	SecretKey                   string          `json:"secret_key"`
	ShutdownTimeout             *timex.Duration `json:"shutdown_timeout"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	BlobBackend                 string          `json:"blob_backend"`
	BlobRoot                    string          `json:"blob_root"`
	S3RootUser                  string          `json:"s3_root_user"`
	S3RootPassword              string          `json:"s3_root_password"`
	S3Bucket                    string          `json:"s3_bucket"`
	S3Region                    string          `json:"s3_region"`
	S3BaseEndpoint              string          `json:"s3_base_endpoint"`
	WebhookURL                  string          `json:"webhook_url"`
	WebhookSecret               string          `json:"webhook_secret"`
	WebhookTimeout              *timex.Duration `json:"webhook_timeout"`
	MailboxDir                  string          `json:"mailbox_dir"`
	KeyLengthBytes              *int            `json:"key_length_bytes"`
	RequireOperatorApproval     *bool           `json:"require_operator_approval"`
	MaxUploadBytes              *int64          `json:"max_upload_bytes"`
	CORSOrigins                 []string        `json:"cors_origins"`
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

// parseJson overlays the file named by -c/-config, if any. Keys missing from
// the file keep their current values.
func parseJson(config *Config) error {
	path := flagx.ConfigPath()
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	overlayString(&config.HTTPAddr, c.HTTPAddr)
	overlayString(&config.Env, c.Env)
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.SecretKey, c.SecretKey)
	overlayDuration(&config.ShutdownTimeout, c.ShutdownTimeout)
	overlayDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	overlayString(&config.BlobBackend, c.BlobBackend)
	overlayString(&config.BlobRoot, c.BlobRoot)
	overlayString(&config.S3RootUser, c.S3RootUser)
	overlayString(&config.S3RootPassword, c.S3RootPassword)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	overlayString(&config.WebhookURL, c.WebhookURL)
	overlayString(&config.WebhookSecret, c.WebhookSecret)
	overlayDuration(&config.WebhookTimeout, c.WebhookTimeout)
	overlayString(&config.MailboxDir, c.MailboxDir)

	if c.KeyLengthBytes != nil {
		config.KeyLengthBytes = *c.KeyLengthBytes
	}
	if c.RequireOperatorApproval != nil {
		config.RequireOperatorApproval = *c.RequireOperatorApproval
	}
	if c.MaxUploadBytes != nil {
		config.MaxUploadBytes = *c.MaxUploadBytes
	}
	if c.CORSOrigins != nil {
		config.CORSOrigins = c.CORSOrigins
	}
	return nil
}
