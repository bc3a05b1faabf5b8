// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Request and job scoped attributes travel in the
// context and are added to every record by ContextHandler.
package logger
