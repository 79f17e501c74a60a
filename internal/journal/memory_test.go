package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	logx "fleetsched/pkg/logx"
)

func entryAt(id string, at time.Time) Entry {
	return Entry{At: at, TaskID: id, Type: "reply", Platform: "douyin", Status: "COMPLETED"}
}

func TestMemoryRecentNewestFirst(t *testing.T) {
	t.Parallel()
	m := NewMemory(10)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		if err := m.Append(ctx, entryAt(fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := m.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("t%d", 4-i)
		if e.TaskID != want {
			t.Fatalf("entry %d = %s, want %s", i, e.TaskID, want)
		}
	}
}

func TestMemoryRecentLimit(t *testing.T) {
	t.Parallel()
	m := NewMemory(10)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := m.Append(ctx, entryAt(fmt.Sprintf("t%d", i), time.Now())); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := m.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].TaskID != "t5" || got[1].TaskID != "t4" {
		t.Fatalf("Recent(2) = %v, want [t5 t4]", got)
	}
}

func TestMemoryRingOverwritesOldest(t *testing.T) {
	t.Parallel()
	m := NewMemory(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := m.Append(ctx, entryAt(fmt.Sprintf("t%d", i), time.Now())); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := m.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want ring capacity 3", len(got))
	}
	if got[0].TaskID != "t4" || got[2].TaskID != "t2" {
		t.Fatalf("Recent = [%s .. %s], want [t4 .. t2]", got[0].TaskID, got[2].TaskID)
	}
}

func TestMemoryClosedStoreRejects(t *testing.T) {
	t.Parallel()
	m := NewMemory(3)
	ctx := context.Background()
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Append(ctx, entryAt("t1", time.Now())); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Append after Close = %v, want ErrDisabled", err)
	}
	if _, err := m.Recent(ctx, 0); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Recent after Close = %v, want ErrDisabled", err)
	}
}

func TestOpenDisabledDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		store, err := Open(context.Background(), Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if store != nil {
			t.Fatalf("Open(%q) = %T, want nil store", driver, store)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "cassandra"}, logx.Nop()); err == nil {
		t.Fatal("Open accepted an unknown driver")
	}
}
