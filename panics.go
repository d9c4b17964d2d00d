package sonarfit

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-sonarfit/logging"
)

type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler returns a func meant to be deferred. It recovers a panic
// and hands it to logger with a trimmed stack.
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			fullStack := make([]byte, 8096)
			n := runtime.Stack(fullStack, false)
			fullStack = fullStack[:n]

			logger(funcName, err, cleanStackTrace(fullStack), fields...)
		}
	}
}

// LoggerPanicHandler reports recovered panics through a structured logger.
func LoggerPanicHandler(logger logging.Logger) PanicLogger {
	logger = logging.OrNop(logger)
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		keyvals := []any{
			"func", funcName,
			"panic", fmt.Sprint(err),
			"panic_type", fmt.Sprintf("%T", err),
		}
		if len(fields) > 0 && fields[0] != nil {
			// sort keys for consistent output
			keys := make([]string, 0, len(fields[0]))
			for k := range fields[0] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				keyvals = append(keyvals, k, fields[0][k])
			}
		}
		keyvals = append(keyvals, "stack", string(stack))
		logger.Error("recovered from panic", keyvals...)
	}
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() call line and its file reference
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}

// GoroutineID returns the id of the calling goroutine.
func GoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	idField := strings.Fields(strings.TrimPrefix(string(buf), "goroutine "))[0]
	id, _ := strconv.ParseUint(idField, 10, 64)
	return id
}
