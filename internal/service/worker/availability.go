package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"distdetect/internal/protocol"
)

// Availability decides whether a dynamic worker accepts work.
type Availability interface {
	Available(ctx context.Context) (bool, error)
}

// Always answers every probe with the same decision.
type Always bool

func (a Always) Available(context.Context) (bool, error) {
	return bool(a), nil
}

// Prompt asks an operator on the terminal. When stdin is not interactive it
// answers with Fallback instead of blocking.
type Prompt struct {
	Fallback bool

	out         io.Writer
	interactive bool

	mu     sync.Mutex
	reader *bufio.Reader
}

// NewPrompt creates a prompt on the process's stdin and stdout.
func NewPrompt(fallback bool) *Prompt {
	return newPrompt(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())), fallback)
}

func newPrompt(in io.Reader, out io.Writer, interactive, fallback bool) *Prompt {
	return &Prompt{
		Fallback:    fallback,
		out:         out,
		interactive: interactive,
		reader:      bufio.NewReader(in),
	}
}

// Available prints the question and waits for one line of input.
func (p *Prompt) Available(ctx context.Context) (bool, error) {
	if !p.interactive {
		return p.Fallback, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, "Are you available? (yes/no): ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && strings.TrimSpace(a.line) == "" {
			if a.err == io.EOF {
				return p.Fallback, nil
			}
			return false, fmt.Errorf("reading operator answer: %w", a.err)
		}
		return protocol.IsAffirmative([]byte(a.line)), nil
	}
}
