package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

type Logger struct {
	verbose bool
	mu      sync.Mutex
	logger  *log.Logger
}

func NewLogger(verbose bool) *Logger {
	return newLoggerTo(os.Stdout, verbose)
}

func newLoggerTo(w io.Writer, verbose bool) *Logger {
	return &Logger{
		verbose: verbose,
		logger:  log.New(w, "", 0),
	}
}

func (l *Logger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, v...))
	l.logger.Println(msg)
}

// Debugf logs only when verbose output is enabled.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if !l.verbose {
		return
	}
	l.Printf("[DEBUG] "+format, v...)
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
