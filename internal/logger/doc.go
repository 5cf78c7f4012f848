// Package logger provides the daemon's structured logging built on Zap.
// It keeps one process-wide sugared logger with a runtime-adjustable level
// and lets call sites attach scoped loggers to a context, so a sync cycle
// or download carries its identifying fields through every log line.
package logger
