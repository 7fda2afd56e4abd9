package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/filex"
	"github.com/dmitrijs2005/debtkeeper/internal/netx"
	"github.com/dmitrijs2005/debtkeeper/internal/server/auth"
)

const evidenceKeyHeader = common.EvidenceKeyHeaderName

func evidenceURL(server, videoID, action string) string {
	return strings.TrimRight(server, "/") + "/api/v1/evidence/" + url.PathEscape(videoID) + "/" + action
}

// redeem downloads decrypted evidence into -out. The file only appears once
// the whole stream has been received and authenticated.
func (a *App) redeem(ctx context.Context, args []string) error {
	fs := a.flagSet("redeem")
	server, token := a.apiFlags(fs)
	videoID := fs.String("video", "", "evidence id")
	out := fs.String("out", "", "output file")
	if err := parse(fs, args); err != nil {
		return err
	}
	for _, f := range [][2]string{{"video", *videoID}, {"out", *out}, {"token", *token}} {
		if err := required(f[0], f[1]); err != nil {
			return err
		}
	}

	key, err := GetKey(a.in, a.errOut)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrUsage)
	}

	req, err := netx.NewRequest(ctx, http.MethodGet, evidenceURL(*server, *videoID, "stream"), *token, nil)
	if err != nil {
		return err
	}
	req.Header.Set(evidenceKeyHeader, key)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request evidence: %w", err)
	}
	defer resp.Body.Close()
	if err := netx.CheckResponse(resp); err != nil {
		return err
	}

	n, err := writeFileAtomic(*out, resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %d bytes to %s\n", n, *out)
	return nil
}

func writeFileAtomic(dst string, r io.Reader) (int64, error) {
	dir, err := filex.EnsureDir(filepath.Dir(dst))
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".redeem-*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = filex.RemoveIfExists(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, err
	}
	return n, nil
}

type evidenceStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// retry asks the server to re-run encryption for evidence in ProcessingError.
func (a *App) retry(ctx context.Context, args []string) error {
	fs := a.flagSet("retry")
	server, token := a.apiFlags(fs)
	videoID := fs.String("video", "", "evidence id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("video", *videoID); err != nil {
		return err
	}
	if err := required("token", *token); err != nil {
		return err
	}

	req, err := netx.NewRequest(ctx, http.MethodPost, evidenceURL(*server, *videoID, "retry"), *token, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request retry: %w", err)
	}
	defer resp.Body.Close()
	if err := netx.CheckResponse(resp); err != nil {
		return err
	}

	var st evidenceStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Fprintf(a.out, "evidence %s: %s\n", st.ID, st.Status)
	return nil
}

// token mints an access token signed with the server secret.
func (a *App) token(args []string) error {
	fs := a.flagSet("token")
	user := fs.String("user", "", "user id")
	secret := fs.String("secret", a.getenv(envSecret), "server JWT secret")
	ttl := fs.Duration("ttl", 15*time.Minute, "token validity")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("user", *user); err != nil {
		return err
	}
	if err := required("secret", *secret); err != nil {
		return err
	}
	if *ttl <= 0 {
		return fmt.Errorf("%w: -ttl must be positive", ErrUsage)
	}

	tok, err := auth.GenerateToken(*user, []byte(*secret), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, tok)
	return nil
}
