// Package console holds the operator-facing side of the client: the
// interactive menu and the prompts the transfer engines need.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/AK1OS/file-transfer/internal/protocol"
)

// Prompter reads operator answers line by line
type Prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a prompter reading from in and printing prompts to out
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Ask prints prompt and returns the next input line without its line ending.
// io.EOF is returned only when no more input is available at all.
func (p *Prompter) Ask(prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ConfirmResume asks whether a partial transfer should be continued. Only
// an answer starting with y or Y accepts.
func (p *Prompter) ConfirmResume(info protocol.ResumeInfo) bool {
	answer, err := p.Ask(fmt.Sprintf("Resume %s from %d/%d bytes? (y/n): ",
		info.FileName, info.Transferred, info.FileSize))
	if err != nil {
		return false
	}
	answer = strings.TrimSpace(answer)
	return answer != "" && (answer[0] == 'y' || answer[0] == 'Y')
}
