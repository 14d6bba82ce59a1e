// Package rlog is RivetDB's leveled logger: a thin wrapper that takes the
// configured log level and prints to stderr with a level prefix, the same
// calling convention the core is built around ([LogDebug], [LogInfo], ...
// all take the config first).
package rlog

import (
	"fmt"
	"os"
	"time"
)

const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"
	LevelInfo  = "INFO"
	LevelDebug = "DEBUG"
	LevelTrace = "TRACE"
)

var Levels = []string{LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace}

func rank(level string) int {
	for i, l := range Levels {
		if l == level {
			return i
		}
	}
	return len(Levels) - 1
}

// Sink is anything that carries a configured log level. *config.Config
// implements it; tests can pass a bare struct.
type Sink interface {
	GetLogLevel() string
}

func shouldLog(sink Sink, level string) bool {
	return rank(level) <= rank(sink.GetLogLevel())
}

func write(level string, args ...any) {
	msg := fmt.Sprintln(args...)
	fmt.Fprintf(os.Stderr, "%s [%s] %s", time.Now().UTC().Format(time.RFC3339), level, msg)
}

func LogError(sink Sink, args ...any) {
	if shouldLog(sink, LevelError) {
		write(LevelError, args...)
	}
}

func LogWarn(sink Sink, args ...any) {
	if shouldLog(sink, LevelWarn) {
		write(LevelWarn, args...)
	}
}

func LogInfo(sink Sink, args ...any) {
	if shouldLog(sink, LevelInfo) {
		write(LevelInfo, args...)
	}
}

func LogDebug(sink Sink, args ...any) {
	if shouldLog(sink, LevelDebug) {
		write(LevelDebug, args...)
	}
}

func LogTrace(sink Sink, args ...any) {
	if shouldLog(sink, LevelTrace) {
		write(LevelTrace, args...)
	}
}

// PanicIfError logs the error at ERROR level and panics, matching
// JC1738-BemiDB's PanicIfError(config, err) call sites throughout
// duckdb_client.go and iceberg_catalog.go.
func PanicIfError(sink Sink, err error) {
	if err != nil {
		LogError(sink, err)
		panic(err)
	}
}

// HandleUnexpectedPanic recovers a panic, logs it, and re-panics after
// logging; it takes effect only when deferred, mirroring
// common.HandleUnexpectedPanic(config.CommonConfig) in src/server/main.go.
func HandleUnexpectedPanic(sink Sink) {
	if r := recover(); r != nil {
		LogError(sink, "unexpected panic:", r)
		panic(r)
	}
}
