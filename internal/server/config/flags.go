package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/flagx"
)

// parseFlags overlays the server flags found in os.Args.
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-k string   blob backend: local or s3
//	-l string   local blob root directory
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-w string   key delivery webhook URL
//	-m string   mailbox directory used when no webhook is set
//	-n int      one-time key length, bytes
//	-x int      max upload size, bytes
//	-o          require operator approval (pass as -o=true or -o=false)
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-t", "-k", "-l", "-u", "-p", "-b", "-g", "-e", "-w", "-m", "-n", "-x", "-o",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.BlobBackend, "k", config.BlobBackend, "blob backend (local|s3)")
	fs.StringVar(&config.BlobRoot, "l", config.BlobRoot, "local blob root")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.WebhookURL, "w", config.WebhookURL, "key delivery webhook URL")
	fs.StringVar(&config.MailboxDir, "m", config.MailboxDir, "mailbox directory")
	fs.IntVar(&config.KeyLengthBytes, "n", config.KeyLengthBytes, "one-time key length in bytes")
	fs.Int64Var(&config.MaxUploadBytes, "x", config.MaxUploadBytes, "max upload size in bytes")
	fs.BoolVar(&config.RequireOperatorApproval, "o", config.RequireOperatorApproval, "require operator approval")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	return nil
}
