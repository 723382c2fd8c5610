package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/repository"
)

// EventInserter persists audit rows.
type EventInserter interface {
	Insert(ctx context.Context, event *repository.AuditEvent) error
}

// StoreSink writes activity events to the audit_events table.
type StoreSink struct {
	store EventInserter
	opts  []Option
}

// NewStoreSink returns a sink backed by store.
func NewStoreSink(store EventInserter, opts ...Option) *StoreSink {
	return &StoreSink{store: store, opts: opts}
}

// Record implements identity.ActivitySink.
func (s *StoreSink) Record(ctx context.Context, event identity.ActivityEvent) error {
	if s == nil || s.store == nil {
		return nil
	}
	n := Normalize(event, s.opts...)
	return s.store.Insert(ctx, &repository.AuditEvent{
		EventType:  n.Verb,
		ActorID:    n.ActorID,
		ActorType:  event.Actor.Type,
		AccountID:  n.ObjectID,
		FromStatus: string(event.FromStatus),
		ToStatus:   string(event.ToStatus),
		Metadata:   n.Metadata,
		OccurredAt: n.OccurredAt,
	})
}

// FileConfig controls the rotated audit log.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// FileSink appends normalized events as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	w    io.Writer
	enc  *json.Encoder
	opts []Option
}

// NewFileSink opens a lumberjack rotated file sink.
func NewFileSink(cfg FileConfig, opts ...Option) *FileSink {
	return NewWriterSink(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}, opts...)
}

// NewWriterSink writes JSON lines to w.
func NewWriterSink(w io.Writer, opts ...Option) *FileSink {
	return &FileSink{w: w, enc: json.NewEncoder(w), opts: opts}
}

// Record implements identity.ActivitySink.
func (s *FileSink) Record(_ context.Context, event identity.ActivityEvent) error {
	n := Normalize(event, s.opts...)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(n)
}

// Close closes the underlying writer when it supports it.
func (s *FileSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Fanout records each event on every sink and joins their errors.
type Fanout []identity.ActivitySink

// Record implements identity.ActivitySink.
func (f Fanout) Record(ctx context.Context, event identity.ActivityEvent) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
