// Package diag carries the structured diagnostic stream produced while
// building masks. Events are emitted as they occur; callers choose where
// they go by supplying a Sink.
package diag

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// Code identifies the kind of event.
type Code string

const (
	CodeOverlapOverwritten Code = "overlap_overwritten"
	CodeOverlapSkipped     Code = "overlap_skipped"
	CodeIneligible         Code = "ineligible_annotation"
	CodeDecodeFailed       Code = "decode_failed"
	CodeWriteFailed        Code = "write_failed"
)

// Event is one diagnostic. ImageID and AnnotationID are only meaningful when
// the matching Has flag is set, since 0 is a valid COCO id.
type Event struct {
	Level         Level
	Code          Code
	ImageID       int64
	HasImage      bool
	AnnotationID  int64
	HasAnnotation bool
	CategoryID    int
	Pixels        int
	FileName      string
	Message       string
}

// Sink receives diagnostic events. Implementations must be safe for
// concurrent use since builder workers emit in parallel.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(Event) {})

type scoped struct {
	next         Sink
	imageID      int64
	annotationID int64
	fileName     string
}

// Scoped stamps the image and annotation ids on events that do not carry them.
func Scoped(next Sink, imageID, annotationID int64, fileName string) Sink {
	if next == nil {
		next = Nop
	}
	return scoped{next: next, imageID: imageID, annotationID: annotationID, fileName: fileName}
}

func (s scoped) Emit(e Event) {
	if !e.HasImage {
		e.ImageID, e.HasImage = s.imageID, true
	}
	if !e.HasAnnotation {
		e.AnnotationID, e.HasAnnotation = s.annotationID, true
	}
	if e.FileName == "" {
		e.FileName = s.fileName
	}
	s.next.Emit(e)
}

// Multi fans out every event to each sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// MinLevel forwards only events at or above level.
func MinLevel(level Level, next Sink) Sink {
	return SinkFunc(func(e Event) {
		if e.Level >= level && next != nil {
			next.Emit(e)
		}
	})
}

// Collector keeps events in memory. A positive Limit keeps only the first
// Limit events; later ones are counted in Dropped.
type Collector struct {
	Limit int

	mu      sync.Mutex
	events  []Event
	dropped int
}

func (c *Collector) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Limit > 0 && len(c.events) >= c.Limit {
		c.dropped++
		return
	}
	c.events = append(c.events, e)
}

// Dropped is the number of events discarded because of Limit.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Events returns a copy of the collected events in arrival order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many events with the given code were collected.
func (c *Collector) Count(code Code) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Code == code {
			n++
		}
	}
	return n
}

// Counter tallies events per code without keeping them.
type Counter struct {
	mu     sync.Mutex
	counts map[Code]int
}

func (c *Counter) Emit(e Event) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[Code]int)
	}
	c.counts[e.Code]++
	c.mu.Unlock()
}

func (c *Counter) Count(code Code) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[code]
}

// ZapSink writes events to a zap logger as structured fields.
type ZapSink struct {
	Logger *zap.Logger
}

func NewZapSink(l *zap.Logger) *ZapSink {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapSink{Logger: l}
}

func (z *ZapSink) Emit(e Event) {
	fields := []zap.Field{zap.String("code", string(e.Code))}
	if e.HasImage {
		fields = append(fields, zap.Int64("image_id", e.ImageID))
	}
	if e.FileName != "" {
		fields = append(fields, zap.String("file_name", e.FileName))
	}
	if e.HasAnnotation {
		fields = append(fields, zap.Int64("annotation_id", e.AnnotationID))
	}
	if e.CategoryID != 0 {
		fields = append(fields, zap.Int("category_id", e.CategoryID))
	}
	if e.Pixels != 0 {
		fields = append(fields, zap.Int("pixels", e.Pixels))
	}

	var lvl zapcore.Level
	switch e.Level {
	case LevelWarning:
		lvl = zapcore.WarnLevel
	case LevelError:
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}
	if ce := z.Logger.Check(lvl, e.Message); ce != nil {
		ce.Write(fields...)
	}
}
