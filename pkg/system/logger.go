package system

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger implements types.Logger over logrus. Output goes to stderr and, when
// a trail file is configured, to the file as well. The file is opened with
// O_APPEND and written line by line so a crash mid-session still leaves a
// diagnosable history.
type Logger struct {
	log  *logrus.Logger
	file *os.File
}

// NewLogger creates a logger writing to stderr and optionally a trail file
func NewLogger(debug bool, trailPath string) (*Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	l := &Logger{log: log}

	if trailPath != "" {
		if dir := filepath.Dir(trailPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(trailPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", trailPath, err)
		}
		l.file = f
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	} else {
		log.SetOutput(os.Stderr)
	}

	return l, nil
}

// Close releases the trail file if one is open
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debug logs at debug level with alternating key/value fields
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Debug(msg)
}

// Info logs at info level with alternating key/value fields
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Info(msg)
}

// Warn logs at warn level with alternating key/value fields
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Warn(msg)
}

// Error logs at error level with alternating key/value fields
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Error(msg)
}

func toFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		fields[key] = kv[i+1]
	}
	if len(kv)%2 == 1 {
		fields["value"] = kv[len(kv)-1]
	}
	return fields
}

// MaskSecret replaces a credential with a fixed-width placeholder for log
// fields. The placeholder reveals neither content nor length; an empty
// secret stays empty so open-network runs remain distinguishable in the
// trail.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
