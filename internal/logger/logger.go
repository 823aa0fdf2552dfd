package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// Logger writes colored lines to the terminal and JSON lines to a daily file.
type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	sink     io.Writer
	logFile  *os.File
	minLevel LogLevel
}

// NewLogger opens logs/<service>-YYYY-MM-DD.log under dir.
func NewLogger(dir, service string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, service+"-"+time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{terminal: color.Output, sink: f, logFile: f, minLevel: DEBUG}
	l.Info("LOGGER", "Writing logs to "+path)
	return l, nil
}

// NewWithWriter sends JSON lines to w and skips terminal output.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{sink: w, minLevel: DEBUG}
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{minLevel: FATAL + 1}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.minLevel = level
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR to a level, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file, line = "", 0
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     styleOf(level).name,
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminal != nil {
		io.WriteString(l.terminal, terminalLine(level, entry))
	}
	if l.sink != nil {
		if line, err := json.Marshal(entry); err == nil {
			l.sink.Write(append(line, '\n'))
		}
	}
}

type levelStyle struct {
	name     string
	level    *color.Color
	category *color.Color
}

var styles = map[LogLevel]levelStyle{
	DEBUG: {"DEBUG", color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
	INFO:  {"INFO", color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
	WARN:  {"WARN", color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
	ERROR: {"ERROR", color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
	FATAL: {"FATAL", color.New(color.FgRed, color.Bold, color.BgBlack), color.New(color.FgRed, color.Bold)},
}

var (
	clockColor  = color.New(color.FgBlue)
	callerColor = color.New(color.FgMagenta)
)

func styleOf(level LogLevel) levelStyle {
	if s, ok := styles[level]; ok {
		return s
	}
	return styles[INFO]
}

// terminalLine renders "15:04:05 LEVEL [CATEGORY    ] message (file:line)".
func terminalLine(level LogLevel, e LogEntry) string {
	st := styleOf(level)
	var b strings.Builder
	b.WriteString(clockColor.Sprint(e.Timestamp[11:19]))
	b.WriteByte(' ')
	b.WriteString(st.level.Sprintf("%-5s", st.name))
	b.WriteByte(' ')
	b.WriteString(st.category.Sprintf("[%-12s]", e.Category))
	b.WriteByte(' ')
	b.WriteString(e.Message)
	if e.File != "" && e.Line > 0 {
		b.WriteString(callerColor.Sprintf(" (%s:%d)", e.File, e.Line))
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	os.Exit(1)
}

// Domain helpers. Each one keeps its category fixed so log files can be grepped.

func (l *Logger) LogBooking(action, pnr, message string) {
	l.log(INFO, "BOOKING", fmt.Sprintf("[%s] %s - %s", action, pnr, message))
}

func (l *Logger) LogCancellation(action, pnr, message string) {
	l.log(INFO, "CANCELLATION", fmt.Sprintf("[%s] %s - %s", action, pnr, message))
}

func (l *Logger) LogLedger(action, key, message string) {
	l.log(INFO, "LEDGER", fmt.Sprintf("[%s] %s - %s", action, key, message))
}

func (l *Logger) LogPayment(action, pnr, message string) {
	l.log(INFO, "PAYMENT", fmt.Sprintf("[%s] %s - %s", action, pnr, message))
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.log(INFO, "API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.log(INFO, "KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.log(INFO, "DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.log(WARN, "SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.Info("LOGGER", "Closing log file")
		l.logFile.Close()
	}
}
