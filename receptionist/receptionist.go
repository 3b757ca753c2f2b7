// Package receptionist implements the UserAPI port (§6) on top of a
// terminal: QueryUser blocks on a line of stdin, MessageUser writes a
// line to stdout. The ReceptionistAgent that decides *what* to ask and
// *how* to phrase it is out of scope (§1 Non-goals: the dialogue-policy
// agent sitting in front of UserAPI is assumed to exist and is not
// reimplemented here) — expertset.UserQuestioner is the one caller of
// this port in this repo.
package receptionist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ConsoleUserAPI implements expertset.UserAPI over a pair of io streams,
// matching the teacher's plain io.Reader/io.Writer wiring for its own
// CLI entry points rather than reaching for a TUI library.
type ConsoleUserAPI struct {
	in  *bufio.Reader
	out io.Writer
}

// New returns a ConsoleUserAPI reading prompts' answers from in and
// writing prompts/messages to out.
func New(in io.Reader, out io.Writer) *ConsoleUserAPI {
	return &ConsoleUserAPI{in: bufio.NewReader(in), out: out}
}

// QueryUser writes prompt to out, then blocks for one line of input from
// in. Context cancellation is not honored mid-read: bufio.Reader has no
// cancelable Read, so a canceled context only takes effect on the next
// call (§7: an acceptable narrowing for a synchronous terminal prompt,
// unlike the network-backed ports elsewhere in this repo).
func (c *ConsoleUserAPI) QueryUser(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintln(c.out, prompt)
	fmt.Fprint(c.out, "> ")
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("receptionist: read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// MessageUser writes a one-way notification to out.
func (c *ConsoleUserAPI) MessageUser(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(c.out, text)
	return err
}
