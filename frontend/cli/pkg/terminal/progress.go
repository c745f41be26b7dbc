package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress draws a single self-overwriting status line for a running batch.
type Progress struct {
	frames   []string
	interval time.Duration
	writer   io.Writer

	mu      sync.Mutex
	total   int
	cached  int
	fetched int
	failed  int
	waiting time.Duration
	active  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProgress(writer io.Writer, total int) *Progress {
	return &Progress{
		frames:   []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"},
		interval: 200 * time.Millisecond,
		writer:   writer,
		total:    total,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (p *Progress) Start() {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.mu.Unlock()

	go p.spin()
}

// Stop clears the status line and prints message in its place.
func (p *Progress) Stop(message string) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh

	fmt.Fprintf(p.writer, "\r\033[K")
	if message != "" {
		fmt.Fprintf(p.writer, "%s\n", message)
	}
}

func (p *Progress) Cached() {
	p.mu.Lock()
	p.cached++
	p.mu.Unlock()
}

func (p *Progress) Fetched() {
	p.mu.Lock()
	p.fetched++
	p.mu.Unlock()
}

func (p *Progress) Failed() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

// Backoff shows that the batch is waiting on a rate limit.
func (p *Progress) Backoff(delay time.Duration) {
	p.mu.Lock()
	p.waiting = delay
	p.mu.Unlock()
}

func (p *Progress) Line() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := p.cached + p.fetched + p.failed
	line := fmt.Sprintf("%d/%d completions (%d cached, %d fetched, %d failed)", done, p.total, p.cached, p.fetched, p.failed)
	if p.waiting > 0 {
		line += fmt.Sprintf(" %s rate limited, backing off %s", WarningSymbol, p.waiting)
		p.waiting = 0
	}
	return line
}

func (p *Progress) spin() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	frameIndex := 0
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fmt.Fprintf(p.writer, "\r\033[K%s %s", p.frames[frameIndex], p.Line())
			frameIndex = (frameIndex + 1) % len(p.frames)
		}
	}
}
