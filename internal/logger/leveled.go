package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Leveled adapts a Logger to the key/value style used by HTTP client
// libraries (Error/Info/Debug/Warn with alternating keys and values).
type Leveled struct {
	l Logger
}

func NewLeveled(l Logger) *Leveled {
	return &Leveled{l: l}
}

func (a *Leveled) Error(msg string, kv ...interface{}) { a.l.Error(msg, pairs(kv)...) }
func (a *Leveled) Info(msg string, kv ...interface{})  { a.l.Debug(msg, pairs(kv)...) }
func (a *Leveled) Debug(msg string, kv ...interface{}) { a.l.Debug(msg, pairs(kv)...) }
func (a *Leveled) Warn(msg string, kv ...interface{})  { a.l.Warn(msg, pairs(kv)...) }

func pairs(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		fields = append(fields, zap.Any("extra", kv[len(kv)-1]))
	}
	return fields
}
