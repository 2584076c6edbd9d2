package events

import (
	"context"
	"errors"
)

// Sink receives transcript events. Keys are session IDs so that events of one
// stream stay ordered within a partition or topic.
type Sink interface {
	Name() string
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
	PublishExportReady(ctx context.Context, key string, event any) error
	Close() error
}

// Multi fans every event out to all wrapped sinks.
type Multi []Sink

// Name implements Sink.
func (m Multi) Name() string { return "multi" }

// PublishPartial implements Sink.
func (m Multi) PublishPartial(ctx context.Context, key string, event any) error {
	return m.each(func(s Sink) error { return s.PublishPartial(ctx, key, event) })
}

// PublishFinal implements Sink.
func (m Multi) PublishFinal(ctx context.Context, key string, event any) error {
	return m.each(func(s Sink) error { return s.PublishFinal(ctx, key, event) })
}

// PublishExportReady implements Sink.
func (m Multi) PublishExportReady(ctx context.Context, key string, event any) error {
	return m.each(func(s Sink) error { return s.PublishExportReady(ctx, key, event) })
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	return m.each(func(s Sink) error { return s.Close() })
}

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Name() string                                          { return "nop" }
func (Nop) PublishPartial(context.Context, string, any) error     { return nil }
func (Nop) PublishFinal(context.Context, string, any) error       { return nil }
func (Nop) PublishExportReady(context.Context, string, any) error { return nil }
func (Nop) Close() error                                          { return nil }
