package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

const flags = log.Ldate | log.Ltime | log.Lshortfile

type Logger struct {
	debug   *log.Logger
	info    *log.Logger
	warn    *log.Logger
	error   *log.Logger
	verbose bool
}

// New logs info and debug to stdout, warnings and errors to stderr.
// Debug lines are dropped unless verbose is set.
func New(verbose bool) *Logger {
	return &Logger{
		debug:   log.New(os.Stdout, "DEBUG: ", flags),
		info:    log.New(os.Stdout, "INFO: ", flags),
		warn:    log.New(os.Stderr, "WARN: ", flags),
		error:   log.New(os.Stderr, "ERROR: ", flags),
		verbose: verbose,
	}
}

func NewWithWriter(writer io.Writer, verbose bool) *Logger {
	return &Logger{
		debug:   log.New(writer, "DEBUG: ", flags),
		info:    log.New(writer, "INFO: ", flags),
		warn:    log.New(writer, "WARN: ", flags),
		error:   log.New(writer, "ERROR: ", flags),
		verbose: verbose,
	}
}

// Discard returns a logger that writes nothing. Used by tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, true)
}

func (l *Logger) Verbose() bool {
	return l.verbose
}

func (l *Logger) Debug(v ...interface{}) {
	if l.verbose {
		_ = l.debug.Output(2, fmt.Sprintln(v...))
	}
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.verbose {
		_ = l.debug.Output(2, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Info(v ...interface{}) {
	_ = l.info.Output(2, fmt.Sprintln(v...))
}

func (l *Logger) Infof(format string, v ...interface{}) {
	_ = l.info.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) Warn(v ...interface{}) {
	_ = l.warn.Output(2, fmt.Sprintln(v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	_ = l.warn.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) Error(v ...interface{}) {
	_ = l.error.Output(2, fmt.Sprintln(v...))
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	_ = l.error.Output(2, fmt.Sprintf(format, v...))
}
