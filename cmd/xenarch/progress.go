package main

import (
	"fmt"
	"sync"

	"github.com/gosuri/uiprogress"
)

// progress shows one bar per pipeline stage.
type progress struct {
	mu      sync.Mutex
	started bool
}

func newProgress() *progress { return &progress{} }

// stage adds a bar for total items and returns its increment callback. A
// zero total shows no bar.
func (p *progress) stage(name string, total int) func() {
	if total <= 0 {
		return nil
	}
	p.mu.Lock()
	if !p.started {
		uiprogress.Start()
		p.started = true
	}
	p.mu.Unlock()

	label := fmt.Sprintf("%-8s", name)
	bar := uiprogress.AddBar(total).AppendCompleted().PrependElapsed()
	bar.PrependFunc(func(b *uiprogress.Bar) string {
		return fmt.Sprintf("%s %d/%d", label, b.Current(), total)
	})
	return func() { bar.Incr() }
}

func (p *progress) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		uiprogress.Stop()
		p.started = false
	}
}
