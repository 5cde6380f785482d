// Package logger routes the standard logger to stdout and a size-rotated file.
// Levels are carried in the message prefix (INFO:, WARN:, ERROR:, CRITICAL:).
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var debug atomic.Bool

// SetLevel enables DEBUG lines when level is "DEBUG". Any other level only
// silences them.
func SetLevel(level string) {
	debug.Store(strings.EqualFold(level, "DEBUG"))
}

// Debugf logs with a DEBUG: prefix when debug logging is on.
func Debugf(format string, args ...any) {
	if debug.Load() {
		log.Output(2, fmt.Sprintf("DEBUG: "+format, args...))
	}
}

// Rotator implements io.Writer and rotates the file once it would exceed MaxSize.
// Backups are named Filename.1 (newest) to Filename.MaxBackups.
type Rotator struct {
	Filename   string
	MaxSize    int64 // bytes
	MaxBackups int
	file       *os.File
	size       int64
	mu         sync.Mutex
}

// Setup sends the standard logger to stdout and filename. The returned
// function closes the file. When the file cannot be opened logging stays on
// stdout and the close function is a no-op.
func Setup(filename string, maxSizeMB int64, maxBackups int) func() error {
	r := &Rotator{
		Filename:   filename,
		MaxSize:    maxSizeMB * 1024 * 1024,
		MaxBackups: maxBackups,
	}
	if err := r.openExistingOrNew(); err != nil {
		log.Printf("ERROR: Failed to open log file, using stdout only: %v", err)
		return func() error { return nil }
	}

	log.SetOutput(io.MultiWriter(os.Stdout, r))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return r.Close
}

func (r *Rotator) openExistingOrNew() error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.openNew()
	}
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) openNew() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

func (r *Rotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err = r.openExistingOrNew(); err != nil {
			return 0, err
		}
	}

	if r.size > 0 && r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			// keep writing to whatever file is open rather than lose the line
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// rotate shifts log.1 -> log.2 ..., renames the live file to log.1 and starts
// a new one. With no backups the live file is simply truncated.
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	if r.MaxBackups > 0 {
		for i := r.MaxBackups - 1; i >= 1; i-- {
			oldPath := fmt.Sprintf("%s.%d", r.Filename, i)
			if _, err := os.Stat(oldPath); os.IsNotExist(err) {
				continue
			}
			os.Rename(oldPath, fmt.Sprintf("%s.%d", r.Filename, i+1))
		}
		if _, err := os.Stat(r.Filename); err == nil {
			if err := os.Rename(r.Filename, r.Filename+".1"); err != nil {
				return err
			}
		}
	}

	return r.openNew()
}
