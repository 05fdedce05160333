package prompt

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestStdinConfirmYes(t *testing.T) {
	in := strings.NewReader("y\n")
	var out bytes.Buffer
	p := NewStdin(in, &out)

	ok, err := p.Confirm(context.Background(), "proceed?")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected yes")
	}
	if !strings.Contains(out.String(), "proceed?") {
		t.Errorf("expected prompt text, got %q", out.String())
	}
}

func TestStdinConfirmDefaultNo(t *testing.T) {
	in := strings.NewReader("\n")
	var out bytes.Buffer
	p := NewStdin(in, &out)

	ok, err := p.Confirm(context.Background(), "proceed?")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected default no")
	}
}

func TestStdinConfirmEOF(t *testing.T) {
	in := strings.NewReader("")
	var out bytes.Buffer
	p := NewStdin(in, &out)

	ok, err := p.Confirm(context.Background(), "proceed?")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no on EOF")
	}
}

func TestCannedSequenceAndDefault(t *testing.T) {
	c := NewCanned(true, false)
	ctx := context.Background()

	if ok, _ := c.Confirm(ctx, "a"); !ok {
		t.Error("expected first answer true")
	}
	if ok, _ := c.Confirm(ctx, "b"); ok {
		t.Error("expected second answer false")
	}
	if ok, _ := c.Confirm(ctx, "c"); ok {
		t.Error("expected default false past end of answers")
	}
	if c.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", c.Calls())
	}
}

func TestAutoYesAlwaysConfirms(t *testing.T) {
	ok, err := AutoYes{}.Confirm(context.Background(), "x")
	if err != nil || !ok {
		t.Errorf("expected (true, nil), got (%v, %v)", ok, err)
	}
}
