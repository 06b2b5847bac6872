// Package clog carries slog attributes through a context so every record
// logged while handling a request or a work-loop cycle is tagged with the
// same project, task and request identifiers.
package clog

import (
	"context"
	"sync"
)

type ctxSlog struct {
	mu         sync.RWMutex
	attributes map[string]any
}

type ctxSlogKey struct{}

// ContextWithSlog returns a context that can accumulate log attributes. If
// ctx already carries an attribute set, it is copied so the child does not
// leak attributes to its parent.
func ContextWithSlog(ctx context.Context) context.Context {
	c := &ctxSlog{
		attributes: make(map[string]any),
	}
	if parent, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog); ok {
		c.attributes = parent.getAttributes()
	}
	return context.WithValue(ctx, ctxSlogKey{}, c)
}

func AddAttribute(ctx context.Context, key string, value any) {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attributes[key] = value
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range attributes {
		l.attributes[k] = v
	}
}

// With returns a child context tagged with the given key/value pairs.
func With(ctx context.Context, kv ...any) context.Context {
	ctx = ContextWithSlog(ctx)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		AddAttribute(ctx, key, kv[i+1])
	}
	return ctx
}

func GetAttribute[T any](ctx context.Context, key string) T {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return *new(T)
	}
	l.mu.RLock()
	iVal, ok := l.attributes[key]
	l.mu.RUnlock()
	if !ok {
		return *new(T)
	}
	v, ok := iVal.(T)
	if !ok {
		return *new(T)
	}
	return v
}

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func (c *ctxSlog) getAttributes() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		copied[k] = v
	}
	return copied
}

func GetAttributes(ctx context.Context) map[string]any {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return nil
	}
	return l.getAttributes()
}
