package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/debtkeeper/internal/filex"
)

// MailboxNotifier drops rendered messages into per-recipient files under a
// directory readable only by the server user. Used when no webhook is set.
type MailboxNotifier struct {
	dir string
}

func NewMailboxNotifier(dir string) (*MailboxNotifier, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &MailboxNotifier{dir: abs}, nil
}

func (n *MailboxNotifier) SendKey(ctx context.Context, d KeyDelivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subj, body, err := Render(d)
	if err != nil {
		return err
	}

	dir, err := filex.EnsureDir(filepath.Join(n.dir, filepath.Base(d.RecipientID)))
	if err != nil {
		return err
	}
	path := filepath.Join(dir, filepath.Base(d.VideoID)+".txt")

	// O_EXCL: a key message is never overwritten
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	if _, err := fmt.Fprintf(f, "Subject: %s\n\n%s", subj, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write mailbox: %w", err)
	}
	return f.Close()
}
