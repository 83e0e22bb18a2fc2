package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestRedisCacheIntegration runs against a real Redis container.
// It requires Docker to be running.
func TestRedisCacheIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	container, err := tcredis.Run(ctx, "redis:7-alpine", testcontainers.WithLogger(noopLogger{}))
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatal(err)
	}

	c, err := Dial(Config{Addr: url, TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	if _, ok, err := c.Get(ctx, "abc"); err != nil || ok {
		t.Fatalf("Expected miss, got ok=%v err=%v", ok, err)
	}

	want := Entry{MaskName: "a.png", Digest: "deadbeef"}
	if err := c.Set(ctx, "abc", want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := c.Get(ctx, "abc")
	if err != nil || !ok || got != want {
		t.Fatalf("Get = %+v ok=%v err=%v, want %+v", got, ok, err, want)
	}

	n, err := c.Flush(ctx)
	if err != nil || n != 1 {
		t.Errorf("Flush removed %d keys (%v), want 1", n, err)
	}
	if _, ok, _ := c.Get(ctx, "abc"); ok {
		t.Error("Entry survived Flush")
	}
}

func TestDial(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{"Plain address", Config{Addr: "cache:6379", DB: 2}, "cache:6379", 2, false},
		{"URL", Config{Addr: "redis://:secret@cache:6380/3"}, "cache:6380", 3, false},
		{"Malformed URL", Config{Addr: "://nope"}, "", 0, true},
		{"Wrong scheme", Config{Addr: "http://cache:6379"}, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Dial(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Dial() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer c.Close()
			if c.Addr() != tt.wantAddr || c.client.Options().DB != tt.wantDB {
				t.Errorf("Dial() connected to %s db %d, want %s db %d", c.Addr(), c.client.Options().DB, tt.wantAddr, tt.wantDB)
			}
		})
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
