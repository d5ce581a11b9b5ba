/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the leveled, colored logger shared by the chardev daemon,
// its transports and its client.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level is a logging threshold. Messages below the logger's level are dropped.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

const (
	// EnvLevel selects the default level, by name ("debug") or number ("1").
	EnvLevel = "CHARDEV_LOG_LEVEL"
	// EnvNoColor disables ANSI colors when set to any value.
	EnvNoColor = "CHARDEV_LOG_NOCOLOR"
)

var (
	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors    = []string{magenta, green, blue, yellow, red}
	levelName = []string{"Trace", "Debug", "Info", "Warn", "Error", "None"}
)

func (l Level) String() string {
	if l < LevelTrace || l > LevelNone {
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}
	return levelName[l]
}

// ParseLevel accepts a level name (case-insensitive) or its number.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(LevelTrace) || n > int(LevelNone) {
			return LevelWarn, fmt.Errorf("log level %d out of range", n)
		}
		return Level(n), nil
	}
	for i, name := range levelName {
		if strings.EqualFold(name, s) {
			return Level(i), nil
		}
	}
	if strings.EqualFold(s, "warning") {
		return LevelWarn, nil
	}
	return LevelWarn, fmt.Errorf("unknown log level %q", s)
}

// DefaultLevel is Warn unless overridden by CHARDEV_LOG_LEVEL.
func DefaultLevel() Level {
	if v := os.Getenv(EnvLevel); v != "" {
		if l, err := ParseLevel(v); err == nil {
			return l
		}
	}
	return LevelWarn
}

// Logger writes one line per message: level, timestamp, caller, name, text.
type Logger struct {
	name      string
	callDepth int
	color     bool

	mu    sync.Mutex
	out   io.Writer
	level Level
}

// New returns a logger writing to out (stdout when nil) at DefaultLevel.
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		name:      name,
		out:       out,
		level:     DefaultLevel(),
		callDepth: 4,
		color:     os.Getenv(EnvNoColor) == "",
	}
}

// Named returns a logger sharing l's output and level settings under another name.
func (l *Logger) Named(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		name:      name,
		out:       l.out,
		level:     l.level,
		callDepth: l.callDepth,
		color:     l.color,
	}
}

// SetLevel changes the threshold; LevelNone silences the logger.
func (l *Logger) SetLevel(level Level) {
	if level < LevelTrace || level > LevelNone {
		return
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// SetColor turns ANSI colors on or off.
func (l *Logger) SetColor(on bool) {
	l.mu.Lock()
	l.color = on
	l.mu.Unlock()
}

func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) Errorf(format string, a ...interface{}) { l.logf(LevelError, format, a...) }
func (l *Logger) Warnf(format string, a ...interface{})  { l.logf(LevelWarn, format, a...) }
func (l *Logger) Infof(format string, a ...interface{})  { l.logf(LevelInfo, format, a...) }
func (l *Logger) Debugf(format string, a ...interface{}) { l.logf(LevelDebug, format, a...) }
func (l *Logger) Tracef(format string, a ...interface{}) { l.logf(LevelTrace, format, a...) }

func (l *Logger) logf(level Level, format string, a ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	line := l.prefix(level) + fmt.Sprintf(format, a...)
	if l.color {
		line += reset
	}
	if _, err := fmt.Fprintln(l.out, line); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *Logger) prefix(level Level) string {
	var buffer [96]byte
	buf := bytes.NewBuffer(buffer[:0])
	if l.color {
		_, _ = buf.WriteString(colors[level])
	}
	_, _ = buf.WriteString(levelName[level])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	if l.name != "" {
		_, _ = buf.WriteString(l.name)
		_ = buf.WriteByte(' ')
	}
	return buf.String()
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
