package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"golang.org/x/term"

	"cccopy/cmd"
	"cccopy/internal/events"
)

// maxLogFiles bounds how many session logs accumulate before the oldest are
// pruned at startup.
const maxLogFiles = 256

func logDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cccopy-logs")
	}
	return filepath.Join(home, ".cccopy", "logs")
}

// pruneOldLogs keeps at most maxLogFiles session logs, oldest out first.
func pruneOldLogs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type logFile struct {
		name string
		mod  time.Time
	}
	var files []logFile
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".log" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{name: de.Name(), mod: info.ModTime()})
	}
	if len(files) <= maxLogFiles {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files[:len(files)-maxLogFiles] {
		_ = os.Remove(filepath.Join(dir, f.name))
	}
}

func main() {
	dir := logDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("failed to create log directory %s: %v", dir, err)
	}
	pruneOldLogs(dir)

	logPath := filepath.Join(dir, time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Capture original terminal state (if stdin is a TTY) so we can restore
	// on forced exit.
	var origState *term.State
	if fi, _ := os.Stdin.Stat(); (fi.Mode() & os.ModeCharDevice) != 0 {
		if st, err := term.GetState(int(os.Stdin.Fd())); err == nil {
			origState = st
		}
	}
	restoreTerm := func() {
		if origState != nil {
			_ = term.Restore(int(os.Stdin.Fd()), origState)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Components may request shutdown through the bus.
	_ = events.GlobalBus.Subscribe(events.EventShutdownRequested, func(reason string) {
		log.Printf("shutdown requested: %s", reason)
		cancel()
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("signal received, shutting down")
		cancel()
		// A second signal forces the issue.
		<-sigs
		restoreTerm()
		os.Exit(1)
	}()

	cmd.Execute(ctx)

	events.GlobalBus.Publish(events.EventShutdownComplete)
	restoreTerm()
}
