// Package notify delivers the one-time evidence key to the lender. The key
// exists nowhere else once it has been sent, so senders must report every
// failure to the caller.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// KeyDelivery carries a freshly issued evidence key to its recipient.
type KeyDelivery struct {
	RecipientID    string
	RecipientName  string
	RecipientEmail string
	DebtID         string
	VideoID        string
	Amount         string
	Currency       string
	Key            string
}

type Notifier interface {
	SendKey(ctx context.Context, d KeyDelivery) error
}

const subject = "Your evidence key"

var keyMessage = template.Must(template.New("key").Parse(`Hello {{.RecipientName}},

The video evidence for debt {{.DebtID}} ({{.Amount}} {{.Currency}}) has been approved and encrypted.

Your one-time evidence key:

    {{.Key}}

Keep it safe. It is sent only once and cannot be recovered or reissued.
You will need it to view the evidence if the debt is defaulted.
`))

// Render produces the subject and body of the key message.
func Render(d KeyDelivery) (string, string, error) {
	var buf bytes.Buffer
	if err := keyMessage.Execute(&buf, d); err != nil {
		return "", "", fmt.Errorf("render key message: %w", err)
	}
	return subject, buf.String(), nil
}
