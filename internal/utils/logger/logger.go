/*
WEFT
github.com/weftlabs/weft
*/
package logger

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"
)

type Logger struct {
	mu      sync.Mutex
	verbose bool
	debug   bool
}

var DefaultLogger *Logger

func init() {
	DefaultLogger = &Logger{
		verbose: false,
		debug:   false,
	}

	// pterm suppresses Debug printers unless explicitly enabled
	pterm.EnableDebugMessages()

	safeWriter := NewSafeWriter(os.Stdout)

	pterm.Info = *pterm.Info.WithWriter(safeWriter)
	pterm.Debug = *pterm.Debug.WithWriter(safeWriter)
	pterm.Error = *pterm.Error.WithWriter(safeWriter)
	pterm.Warning = *pterm.Warning.WithWriter(safeWriter)
	pterm.Success = *pterm.Success.WithWriter(safeWriter)
}

// Event is a single pending log line. A nil *Event is valid and drops
// every chained call, which is how disabled levels short-circuit.
type Event struct {
	logger    *Logger
	printer   pterm.PrefixPrinter
	component string
	requestID string
	metadata  map[string]string
}

// SafeWriter serializes writes from concurrent workers so pterm lines
// never interleave mid-row.
type SafeWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSafeWriter(w io.Writer) *SafeWriter {
	return &SafeWriter{w: w}
}

func (sw *SafeWriter) Write(p []byte) (n int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	newP := make([]byte, 0, len(p)+2)
	newP = append(newP, '\r')
	newP = append(newP, p...)
	if !bytes.HasSuffix(newP, []byte("\n")) {
		newP = append(newP, '\n')
	}

	return sw.w.Write(newP)
}

func (l *Logger) newEvent(printer pterm.PrefixPrinter) *Event {
	return &Event{
		logger:   l,
		printer:  printer,
		metadata: make(map[string]string),
	}
}

// Core logging methods
func Info() *Event {
	return DefaultLogger.newEvent(pterm.Info)
}

func Success() *Event {
	return DefaultLogger.newEvent(pterm.Success)
}

func Error() *Event {
	return DefaultLogger.newEvent(pterm.Error)
}

func Warning() *Event {
	return DefaultLogger.newEvent(pterm.Warning)
}

func Debug() *Event {
	if !DefaultLogger.IsDebugEnabled() {
		return nil
	}
	return DefaultLogger.newEvent(pterm.Debug)
}

func Verbose() *Event {
	if !DefaultLogger.IsVerboseEnabled() {
		return nil
	}
	return DefaultLogger.newEvent(pterm.Info)
}

func (e *Event) Msg(message string) {
	e.Msgf("%s", message)
}

func (e *Event) Msgf(format string, args ...any) {
	if e == nil {
		return
	}

	e.logger.mu.Lock()
	defer e.logger.mu.Unlock()

	var meta string
	for k, v := range e.metadata {
		meta += " " + pterm.Bold.Sprint(k) + "=" + v
	}

	var componentStr string
	if e.component != "" {
		componentStr = pterm.FgCyan.Sprintf("[%s] ", e.component)
	}

	var requestStr string
	if e.requestID != "" {
		requestStr = pterm.FgYellow.Sprintf("[%s] ", e.requestID)
	}

	message := componentStr + requestStr + format + meta
	e.printer.Printfln(message, args...)
}

// Component tags the event with the subsystem it came from (weblet,
// cron, taskpool, ...).
func (e *Event) Component(name string) *Event {
	if e == nil {
		return nil
	}
	e.component = name
	return e
}

// RequestID tags the event with the id of the request being served so
// lines from concurrent connections can be correlated.
func (e *Event) RequestID(id string) *Event {
	if e == nil {
		return nil
	}
	e.requestID = id
	return e
}

func (e *Event) Metadata(key, value string) *Event {
	if e == nil {
		return nil
	}
	e.metadata[key] = value
	return e
}

// Logger control methods
func (l *Logger) EnableDebug() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = true
}

func (l *Logger) EnableVerbose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = true
}

func (l *Logger) IsDebugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debug
}

func (l *Logger) IsVerboseEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

func IsDebugEnabled() bool {
	return DefaultLogger.IsDebugEnabled()
}

func IsVerboseEnabled() bool {
	return DefaultLogger.IsVerboseEnabled()
}

func PrintGreenLn(format string, args ...any) {
	DefaultLogger.mu.Lock()
	defer DefaultLogger.mu.Unlock()
	pterm.FgGreen.Printfln(format, args...)
}

func PrintYellowLn(format string, args ...any) {
	DefaultLogger.mu.Lock()
	defer DefaultLogger.mu.Unlock()
	pterm.FgYellow.Printfln(format, args...)
}

func PrintCyanLn(format string, args ...any) {
	DefaultLogger.mu.Lock()
	defer DefaultLogger.mu.Unlock()
	pterm.FgCyan.Printfln(format, args...)
}
