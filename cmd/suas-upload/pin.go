package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

var errNoPIN = errors.New("no PIN provided")

type pinReader interface {
	ReadPIN() (string, error)
}

// terminalPINReader prompts without echoing the input.
type terminalPINReader struct {
	fd  int
	out io.Writer
}

func (r terminalPINReader) ReadPIN() (string, error) {
	if _, err := fmt.Fprint(r.out, "PIN: "); err != nil {
		return "", err
	}
	b, err := term.ReadPassword(r.fd)
	_, _ = fmt.Fprintln(r.out)
	if err != nil {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// linePINReader reads one PIN per line, for scripted sessions.
type linePINReader struct {
	r *bufio.Reader
}

func newLinePINReader(r io.Reader) linePINReader {
	return linePINReader{r: bufio.NewReader(r)}
}

func (r linePINReader) ReadPIN() (string, error) {
	line, err := r.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errNoPIN
		}
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(line), nil
}
