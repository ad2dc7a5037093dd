package slogx

import (
	"log/slog"

	"github.com/google/uuid"
)

// Error returns a slog.Attr with key "error" holding the error's message.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// MessageID returns a slog.Attr rendering a message or correlation id.
func MessageID(key string, id uuid.UUID) slog.Attr {
	return slog.String(key, id.String())
}

// Kind returns a slog.Attr for a message kind. The value is any string-like
// type, typically messages.Kind.
func Kind[T ~string](kind T) slog.Attr {
	return slog.String("kind", string(kind))
}
