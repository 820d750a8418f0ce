package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

var (
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordEmpty    = errors.New("password cannot be empty")
)

// isTerminal returns true if stdin is a terminal (not piped/redirected).
func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

func readLine(r *bufio.Reader) (string, error) {
	pw, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && pw != "") {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw = strings.TrimSuffix(pw, "\n")
	pw = strings.TrimSuffix(pw, "\r")
	return pw, nil
}

// prompter reads passwords from stdin. Piped input goes through one shared
// reader so a confirmation line is not lost to the first read's buffer.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	tty bool
}

// readPasswordSecure reads a password without echo, or a plain line when
// stdin is not a terminal.
func (p *prompter) readPasswordSecure(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)

	if !p.tty {
		return readLine(p.in)
	}

	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func (p *prompter) read(confirm bool) (string, error) {
	password, err := p.readPasswordSecure("Password: ")
	if err != nil {
		return "", err
	}

	if password == "" {
		return "", ErrPasswordEmpty
	}

	if confirm {
		again, err := p.readPasswordSecure("Confirm password: ")
		if err != nil {
			return "", err
		}
		if password != again {
			return "", ErrPasswordMismatch
		}
	}

	return password, nil
}

// ReadPasswordInteractive prompts for the volume password. With confirm set
// the password is asked twice.
func ReadPasswordInteractive(confirm bool) (string, error) {
	p := &prompter{in: bufio.NewReader(os.Stdin), out: os.Stderr, tty: isTerminal()}
	return p.read(confirm)
}

// ReadPasswordFrom reads one line, for piped input with -P.
func ReadPasswordFrom(r io.Reader) (string, error) {
	pw, err := readLine(bufio.NewReader(r))
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", ErrPasswordEmpty
	}
	return pw, nil
}

// passwordFlags are shared by protect and recover.
type passwordFlags struct {
	password string
	stdin    bool
	prompt   bool
}

// resolve returns the password selected by the flags, or "" for plain
// volumes.
func (p passwordFlags) resolve(in io.Reader, confirm bool) (string, error) {
	switch {
	case p.stdin:
		return ReadPasswordFrom(in)
	case p.prompt:
		return ReadPasswordInteractive(confirm)
	}
	return p.password, nil
}
