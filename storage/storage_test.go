package storage

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// backends returns every Storage implementation under test.
func backends(t *testing.T) map[string]Storage {
	t.Helper()

	fileStore, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage() error = %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sqliteStore, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   fileStore,
		"redis":  NewRedisStorage(rdb, RedisConfig{}),
		"sqlite": sqliteStore,
	}
}

func TestStorage_ReadWriteRemove(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if v, ok, err := s.Read(ctx, "missing"); err != nil || ok || v != "" {
				t.Fatalf("Read(missing) = (%q, %v, %v), want (\"\", false, nil)", v, ok, err)
			}

			if err := s.Write(ctx, "credential", `{"access_token":"a"}`); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			v, ok, err := s.Read(ctx, "credential")
			if err != nil || !ok {
				t.Fatalf("Read() = (%q, %v, %v), want hit", v, ok, err)
			}
			if v != `{"access_token":"a"}` {
				t.Errorf("Read() = %q, want stored value", v)
			}

			if err := s.Write(ctx, "credential", "second"); err != nil {
				t.Fatalf("overwrite error = %v", err)
			}
			if v, _, _ := s.Read(ctx, "credential"); v != "second" {
				t.Errorf("Read() after overwrite = %q, want %q", v, "second")
			}

			if err := s.Remove(ctx, "credential"); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if _, ok, _ := s.Read(ctx, "credential"); ok {
				t.Error("Read() after Remove should miss")
			}
			if err := s.Remove(ctx, "credential"); err != nil {
				t.Errorf("Remove() on missing name should not error, got %v", err)
			}
		})
	}
}

func TestStorage_InvalidNames(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Write(ctx, "", "x"); err != ErrInvalidName {
				t.Errorf("Write(\"\") = %v, want ErrInvalidName", err)
			}
			if _, _, err := s.Read(ctx, "a\nb"); err != ErrInvalidName {
				t.Errorf("Read(newline) = %v, want ErrInvalidName", err)
			}
			if err := s.Remove(ctx, strings.Repeat("x", MaxNameLength+1)); err != ErrNameTooLong {
				t.Errorf("Remove(long) = %v, want ErrNameTooLong", err)
			}
		})
	}
}

func TestStorage_ConcurrentWrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = s.Write(ctx, "shared", "value")
					_, _, _ = s.Read(ctx, "shared")
				}()
			}
			wg.Wait()

			if v, ok, err := s.Read(ctx, "shared"); err != nil || !ok || v != "value" {
				t.Errorf("Read() = (%q, %v, %v), want (value, true, nil)", v, ok, err)
			}
		})
	}
}

func TestFileStorage_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Write(ctx, "cache:exam-access", "[1,2,3]"); err != nil {
		t.Fatal(err)
	}

	second, err := NewFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	v, ok, err := second.Read(ctx, "cache:exam-access")
	if err != nil || !ok || v != "[1,2,3]" {
		t.Errorf("Read() after reopen = (%q, %v, %v)", v, ok, err)
	}
}

func TestRedisStorage_PrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	s := NewRedisStorage(rdb, RedisConfig{Prefix: "test:", TTL: 0})
	if err := s.Write(context.Background(), "name", "v"); err != nil {
		t.Fatal(err)
	}
	if got, err := mr.Get("test:name"); err != nil || got != "v" {
		t.Errorf("raw key = (%q, %v), want (v, nil)", got, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on borrowed client = %v, want nil", err)
	}
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := DialRedis(context.Background(), mr.Addr(), "", 0, RedisConfig{})
	if err != nil {
		t.Fatalf("DialRedis() error = %v", err)
	}
	if err := s.Write(context.Background(), "k", "v"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("apikit:k") {
		t.Error("expected default prefix apikit:")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrInvalidName},
		{"whitespace", "  ", ErrInvalidName},
		{"valid", "cache:manual-payments", nil},
		{"carriage return", "a\rb", ErrInvalidName},
		{"max length", strings.Repeat("x", MaxNameLength), nil},
		{"too long", strings.Repeat("x", MaxNameLength+1), ErrNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateName(tt.input); err != tt.wantErr {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestFileStorage_LongNames(t *testing.T) {
	s, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	long := strings.Repeat("n", MaxNameLength)
	nearLong := strings.Repeat("n", MaxNameLength-1)
	for _, name := range []string{strings.Repeat("a", maxHexName), long, nearLong} {
		if err := s.Write(ctx, name, name[:3]+"-value"); err != nil {
			t.Fatalf("Write(len %d) error = %v", len(name), err)
		}
		if n := len(fileName(name)); n > 255 {
			t.Errorf("file name for len %d is %d bytes", len(name), n)
		}
	}
	v, ok, err := s.Read(ctx, long)
	if err != nil || !ok || v != "nnn-value" {
		t.Fatalf("Read(long) = (%q, %v, %v)", v, ok, err)
	}
	if err := s.Remove(ctx, long); err != nil {
		t.Fatalf("Remove(long) error = %v", err)
	}
	if _, ok, _ := s.Read(ctx, long); ok {
		t.Error("long name still present after Remove")
	}
	if _, ok, _ := s.Read(ctx, nearLong); !ok {
		t.Error("distinct long name removed with its neighbour")
	}
}
