package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	projectKey
	migrationIDKey
)

// FromContext extracts the logger from a context, falling back to the
// default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds a logger to a context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithProject scopes the context logger to a project.
func WithProject(ctx context.Context, name string) context.Context {
	logger := FromContext(ctx).WithField("project", name)
	ctx = context.WithValue(ctx, projectKey, name)
	return WithLogger(ctx, logger)
}

// WithMigrationID scopes the context logger to a migration.
func WithMigrationID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("migration_id", id)
	ctx = context.WithValue(ctx, migrationIDKey, id)
	return WithLogger(ctx, logger)
}

// GetProject retrieves the project name from a context.
func GetProject(ctx context.Context) string {
	if name, ok := ctx.Value(projectKey).(string); ok {
		return name
	}
	return ""
}

// GetMigrationID retrieves the migration ID from a context.
func GetMigrationID(ctx context.Context) string {
	if id, ok := ctx.Value(migrationIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	level:  InfoLevel,
	format: "text",
	output: os.Stdout,
	fields: make(map[string]interface{}),
}
