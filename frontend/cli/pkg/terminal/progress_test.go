package terminal

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgress_Line(t *testing.T) {
	t.Parallel()

	p := NewProgress(&bytes.Buffer{}, 5)
	p.Cached()
	p.Fetched()
	p.Fetched()
	p.Failed()

	want := "4/5 completions (1 cached, 2 fetched, 1 failed)"
	if got := p.Line(); got != want {
		t.Errorf("Line() = %q, want %q", got, want)
	}

	p.Backoff(5 * time.Second)
	if got := p.Line(); !strings.Contains(got, "backing off 5s") {
		t.Errorf("Line() = %q, want backoff notice", got)
	}
	if got := p.Line(); got != want {
		t.Errorf("Line() after backoff shown = %q, want %q", got, want)
	}
}

func TestProgress_StopPrintsMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewProgress(&buf, 1)
	p.interval = time.Millisecond
	p.Start()
	p.Fetched()
	time.Sleep(10 * time.Millisecond)
	p.Stop("done")

	if !strings.HasSuffix(buf.String(), "\r\033[Kdone\n") {
		t.Errorf("output = %q, want trailing done line", buf.String())
	}

	// second stop is a no-op
	p.Stop("again")
	if strings.Contains(buf.String(), "again") {
		t.Errorf("output = %q, want no second message", buf.String())
	}
}
