package util

import (
	"fmt"
	"strings"
	"sync"
)

// SafePrinter serializes terminal output across goroutines so refresh
// workers, the watcher, and the sync pipeline never interleave lines. While
// a channel tap is installed (TUI mode) output is diverted there instead of
// hitting the terminal, so the alternate screen does not get corrupted.
type SafePrinter struct {
	mu        sync.Mutex
	suspended bool
	tap       chan<- string
}

// Default is the shared SafePrinter used across the application.
var Default = &SafePrinter{}

// SetTap diverts subsequent output to ch; pass nil to restore direct
// terminal printing. Returns the previous tap so callers can nest.
func (s *SafePrinter) SetTap(ch chan<- string) chan<- string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tap
	s.tap = ch
	return prev
}

func (s *SafePrinter) emit(text string) {
	if s.suspended {
		return
	}
	if s.tap != nil {
		select {
		case s.tap <- text:
		default:
			// The UI is not draining; dropping beats blocking a worker.
		}
		return
	}
	fmt.Print(text)
}

func (s *SafePrinter) Printf(format string, a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(fmt.Sprintf(format, a...))
}

func (s *SafePrinter) Println(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(fmt.Sprintln(a...))
}

// PrintBlock prints a potentially multi-line block atomically, making sure
// it ends with a newline.
func (s *SafePrinter) PrintBlock(block string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	s.emit(block)
}

// Suspend silences all subsequent prints until Resume is called. Used while
// interactive prompts own the terminal.
func (s *SafePrinter) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

// Resume re-enables printing after Suspend.
func (s *SafePrinter) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
}
