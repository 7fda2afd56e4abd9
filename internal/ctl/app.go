// Package ctl implements evidencectl, the operator tool for redeeming and
// re-encrypting evidence through the debtkeeper API.
package ctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/joho/godotenv"
)

const (
	envServer = "DEBTKEEPER_SERVER"
	envToken  = "DEBTKEEPER_TOKEN"
	envSecret = "DEBTKEEPER_SECRET_KEY"

	defaultServer = "http://localhost:8080"
)

var ErrUsage = errors.New("usage error")

// loadDotenv is a seam over godotenv.Load.
var loadDotenv = func() error { return godotenv.Load() }

type App struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	client *http.Client
	getenv func(string) string
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{
		in:     in,
		out:    out,
		errOut: errOut,
		client: &http.Client{},
		getenv: os.Getenv,
	}
}

const usage = `usage: evidencectl <command> [flags]

commands:
  redeem   download and decrypt evidence (prompts for the key)
  retry    re-run a failed evidence encryption
  token    mint an access token for a user id
`

// Run executes one command. args excludes the program name.
func (a *App) Run(ctx context.Context, args []string) error {
	if err := loadDotenv(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if len(args) == 0 {
		fmt.Fprint(a.errOut, usage)
		return ErrUsage
	}

	switch args[0] {
	case "redeem":
		return a.redeem(ctx, args[1:])
	case "retry":
		return a.retry(ctx, args[1:])
	case "token":
		return a.token(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprint(a.errOut, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func (a *App) envOr(name, def string) string {
	if v := a.getenv(name); v != "" {
		return v
	}
	return def
}

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// apiFlags registers the flags shared by commands that call the server.
func (a *App) apiFlags(fs *flag.FlagSet) (server, token *string) {
	server = fs.String("server", a.envOr(envServer, defaultServer), "debtkeeper base URL")
	token = fs.String("token", a.getenv(envToken), "access token")
	return server, token
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: -%s is required", ErrUsage, name)
	}
	return nil
}
