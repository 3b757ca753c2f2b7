package receptionist

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestConsoleUserAPI_QueryUser_ReadsOneLine(t *testing.T) {
	in := strings.NewReader("yes, include 2019 onward\nignored second line\n")
	var out bytes.Buffer

	c := New(in, &out)
	answer, err := c.QueryUser(context.Background(), "Should we include older papers?")
	if err != nil {
		t.Fatalf("QueryUser: %v", err)
	}
	if answer != "yes, include 2019 onward" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if !strings.Contains(out.String(), "Should we include older papers?") {
		t.Fatalf("expected prompt to be written to out, got %q", out.String())
	}
}

func TestConsoleUserAPI_MessageUser_WritesToOut(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	if err := c.MessageUser(context.Background(), "round 3: added 2 papers"); err != nil {
		t.Fatalf("MessageUser: %v", err)
	}
	if !strings.Contains(out.String(), "round 3: added 2 papers") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestConsoleUserAPI_QueryUser_HonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(strings.NewReader("answer\n"), &bytes.Buffer{})
	if _, err := c.QueryUser(ctx, "prompt"); err == nil {
		t.Fatalf("expected canceled context to short-circuit QueryUser")
	}
}
