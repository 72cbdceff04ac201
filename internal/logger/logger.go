package logger

import "chorddht/internal/domain"

// Field represents one structured key:value log field.
type Field struct {
	Key string
	Val any
}

// Logger is the minimal interface the rest of the module depends on.
type Logger interface {
	Named(name string) Logger
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// F is a concise helper for building a Field.
func F(key string, val any) Field { return Field{Key: key, Val: val} }

// FNode renders a *domain.Node as a readable structured field. A nil
// node (an unset routing table slot) is rendered as nil rather than
// panicking.
func FNode(key string, n *domain.Node) Field {
	if n == nil {
		return Field{Key: key, Val: nil}
	}
	return Field{
		Key: key,
		Val: map[string]any{
			"id":   n.ID.ToHexString(false),
			"addr": n.Addr,
		},
	}
}

// FResource renders a domain.Resource as a readable structured field.
func FResource(key string, r domain.Resource) Field {
	return Field{
		Key: key,
		Val: map[string]any{
			"key":   r.Key.String(),
			"value": r.Value,
			"seq":   r.Seq,
		},
	}
}

// NopLogger is a Logger implementation that discards everything. Used
// where no logger was configured (tests, ephemeral tooling).
type NopLogger struct{}

func (l *NopLogger) Named(name string) Logger          { return l }
func (l *NopLogger) With(fields ...Field) Logger       { return l }
func (l *NopLogger) Debug(msg string, fields ...Field) {}
func (l *NopLogger) Info(msg string, fields ...Field)  {}
func (l *NopLogger) Warn(msg string, fields ...Field)  {}
func (l *NopLogger) Error(msg string, fields ...Field) {}
