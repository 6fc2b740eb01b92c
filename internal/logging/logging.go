// Package logging configures the shared logrus logger and binds request
// scoped fields for handlers and relay invocations.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

var setupMu sync.Mutex

// LogFormatter renders one line per entry:
// [2026-01-02 15:04:05] [host/abc-000001] [info ] [relay.go:120] relay completed session_id=cks_1 state=completed
type LogFormatter struct{}

// logFieldOrder fixes the display order of known fields. Unknown fields are
// not printed.
var logFieldOrder = []string{"method", "path", "status", "session_id", "user_id", "state", "events", "provider_type", "code", "retryable", "duration_ms", "preview", "error"}

func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] [%s:%d] %s%s\n", timestamp, reqID, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] %s%s\n", timestamp, reqID, level, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// Setup configures the standard logrus logger. Safe to call more than once.
func Setup(level string) error {
	return SetupWriter(os.Stdout, level)
}

func SetupWriter(w io.Writer, level string) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	setupMu.Lock()
	defer setupMu.Unlock()
	log.SetOutput(w)
	log.SetReportCaller(true)
	log.SetFormatter(&LogFormatter{})
	log.SetLevel(lvl)
	return nil
}

// FromContext returns an entry tagged with the chi request id, if any.
func FromContext(ctx context.Context) *log.Entry {
	entry := log.NewEntry(log.StandardLogger())
	if ctx == nil {
		return entry
	}
	if id := middleware.GetReqID(ctx); id != "" {
		return entry.WithField("request_id", id)
	}
	return entry
}
