package ctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"golang.org/x/term"
)

// readPassword and isTerminal are test seams over golang.org/x/term.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// GetKey prompts on w for an evidence key and reads it without echo. When
// stdin is not a terminal the key is read as a single line from in, so the
// command also works in pipelines.
func GetKey(in io.Reader, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, "Evidence key: "); err != nil {
		return "", err
	}

	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return "", fmt.Errorf("read key: %w", err)
		}
		fmt.Fprintln(w)
		return strings.TrimSpace(line), nil
	}

	raw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	common.WipeByteArray(raw)
	return key, nil
}
