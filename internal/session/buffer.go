package session

import (
	"strings"
	"sync"
)

// Buffer accumulates the "speaker: message" lines of one live session. It is
// handed to the memory writer and discarded at teardown.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *Buffer) Add(speaker, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	b.mu.Lock()
	b.lines = append(b.lines, speaker+": "+message)
	b.mu.Unlock()
}

// Lines returns a copy of the buffered lines in insertion order.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
