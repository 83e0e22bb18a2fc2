package diag

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestScopedFillsMissingIDs(t *testing.T) {
	c := &Collector{}
	s := Scoped(c, 7, 42, "a.jpg")

	s.Emit(Event{Code: CodeOverlapSkipped, CategoryID: 3})
	s.Emit(Event{Code: CodeDecodeFailed, ImageID: 9, HasImage: true, AnnotationID: 11, HasAnnotation: true})

	got := c.Events()
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].ImageID != 7 || got[0].AnnotationID != 42 || !got[0].HasImage || !got[0].HasAnnotation || got[0].FileName != "a.jpg" {
		t.Errorf("Scoped ids not applied: %+v", got[0])
	}
	// Explicit ids win over the scope
	if got[1].ImageID != 9 || got[1].AnnotationID != 11 {
		t.Errorf("Explicit ids overwritten: %+v", got[1])
	}
}

func TestScopedKeepsZeroIDs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := Scoped(NewZapSink(zap.New(core)), 0, 0, "zero.jpg")

	s.Emit(Event{Level: LevelInfo, Code: CodeOverlapOverwritten, CategoryID: 1, Message: "overwriting"})

	fields := logs.All()[0].ContextMap()
	if fields["image_id"] != int64(0) || fields["annotation_id"] != int64(0) {
		t.Errorf("Zero ids should be logged when known, got %v", fields)
	}
}

func TestCounter(t *testing.T) {
	c := &Counter{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Emit(Event{Code: CodeOverlapSkipped})
			}
		}()
	}
	wg.Wait()
	c.Emit(Event{Code: CodeDecodeFailed})

	if c.Count(CodeOverlapSkipped) != 200 || c.Count(CodeDecodeFailed) != 1 || c.Count(CodeWriteFailed) != 0 {
		t.Errorf("Unexpected counts: skipped=%d decode=%d write=%d",
			c.Count(CodeOverlapSkipped), c.Count(CodeDecodeFailed), c.Count(CodeWriteFailed))
	}
}

func TestCollectorLimitAndMinLevel(t *testing.T) {
	c := &Collector{Limit: 2}
	s := MinLevel(LevelError, c)

	s.Emit(Event{Level: LevelInfo, Code: CodeOverlapOverwritten})
	s.Emit(Event{Level: LevelWarning, Code: CodeIneligible})
	for i := 0; i < 5; i++ {
		s.Emit(Event{Level: LevelError, Code: CodeDecodeFailed, Pixels: i})
	}

	got := c.Events()
	if len(got) != 2 || got[0].Pixels != 0 || got[1].Pixels != 1 {
		t.Errorf("Expected the first two error events, got %+v", got)
	}
	if c.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", c.Dropped())
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := &Collector{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Emit(Event{Code: CodeIneligible})
			}
		}()
	}
	wg.Wait()

	if n := c.Count(CodeIneligible); n != 800 {
		t.Errorf("Expected 800 events, got %d", n)
	}
}

func TestMulti(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	Multi(a, nil, b).Emit(Event{Code: CodeWriteFailed})

	if a.Count(CodeWriteFailed) != 1 || b.Count(CodeWriteFailed) != 1 {
		t.Error("Multi did not fan out to every sink")
	}
}

func TestZapSinkLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(Event{Level: LevelInfo, Code: CodeOverlapOverwritten, ImageID: 1, HasImage: true, CategoryID: 2, Pixels: 5, Message: "overwriting"})
	sink.Emit(Event{Level: LevelWarning, Code: CodeIneligible, ImageID: 1, HasImage: true, AnnotationID: 4, HasAnnotation: true, Message: "skipping"})
	sink.Emit(Event{Level: LevelError, Code: CodeDecodeFailed, Message: "bad polygon"})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("Entry %d: level = %v, want %v", i, e.Level, wantLevels[i])
		}
	}

	fields := entries[0].ContextMap()
	if fields["code"] != string(CodeOverlapOverwritten) {
		t.Errorf("code field = %v", fields["code"])
	}
	if fields["pixels"] != int64(5) {
		t.Errorf("pixels field = %v", fields["pixels"])
	}
	if _, ok := entries[2].ContextMap()["image_id"]; ok {
		t.Error("image_id should be omitted when unknown")
	}
}

func TestLevelString(t *testing.T) {
	tests := map[Level]string{LevelInfo: "info", LevelWarning: "warning", LevelError: "error", Level(9): "unknown"}
	for l, want := range tests {
		if got := l.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", l, got, want)
		}
	}
}
