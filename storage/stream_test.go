package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-node/storage"
)

func TestValidateAndGenerateID(t *testing.T) {
	last := storage.StreamID{Ms: 5, Seq: 3}

	tests := []struct {
		name    string
		spec    string
		hasLast bool
		want    storage.StreamID
		wantErr error
	}{
		{"auto on empty stream", "*", false, storage.StreamID{Ms: 1000, Seq: 0}, nil},
		{"auto after entry", "*", true, storage.StreamID{Ms: 5, Seq: 4}, nil},
		{"partial zero on empty stream", "0-*", false, storage.StreamID{Ms: 0, Seq: 1}, nil},
		{"partial on empty stream", "7-*", false, storage.StreamID{Ms: 7, Seq: 0}, nil},
		{"partial same time", "5-*", true, storage.StreamID{Ms: 5, Seq: 4}, nil},
		{"partial later time", "9-*", true, storage.StreamID{Ms: 9, Seq: 0}, nil},
		{"partial earlier time", "4-*", true, storage.StreamID{}, storage.ErrStreamIDTooSmall},
		{"explicit greater", "5-4", true, storage.StreamID{Ms: 5, Seq: 4}, nil},
		{"explicit equal", "5-3", true, storage.StreamID{}, storage.ErrStreamIDTooSmall},
		{"explicit smaller", "1-9", true, storage.StreamID{}, storage.ErrStreamIDTooSmall},
		{"explicit zero", "0-0", false, storage.StreamID{}, storage.ErrStreamIDZero},
		{"explicit zero after entry", "0-0", true, storage.StreamID{}, storage.ErrStreamIDZero},
		{"explicit on empty stream", "0-1", false, storage.StreamID{Ms: 0, Seq: 1}, nil},
		{"missing sequence", "5", true, storage.StreamID{}, storage.ErrInvalidStreamID},
		{"garbage", "abc-1", false, storage.StreamID{}, storage.ErrInvalidStreamID},
		{"garbage partial", "x-*", false, storage.StreamID{}, storage.ErrInvalidStreamID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.ValidateAndGenerateID(tt.spec, last, tt.hasLast, 1000)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("id = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestXaddAssignsIDs(t *testing.T) {
	clock := newFakeClock()
	ks := storage.NewKeyspace(storage.WithClock(clock.Now))
	nowMs := uint64(clock.Now().UnixMilli())

	id, err := ks.Xadd("s", "*", []string{"a", "1"})
	if err != nil {
		t.Fatalf("Xadd() error = %v", err)
	}
	if id != (storage.StreamID{Ms: nowMs, Seq: 0}) {
		t.Errorf("first id = %v, want %d-0", id, nowMs)
	}

	id, _ = ks.Xadd("s", "*", []string{"a", "2"})
	if id != (storage.StreamID{Ms: nowMs, Seq: 1}) {
		t.Errorf("second id = %v, want %d-1", id, nowMs)
	}

	if _, err := ks.Xadd("s", "1-1", []string{"a", "3"}); !errors.Is(err, storage.ErrStreamIDTooSmall) {
		t.Errorf("Xadd(1-1) error = %v, want ErrStreamIDTooSmall", err)
	}
}

func TestXaddRejectedIDCreatesNothing(t *testing.T) {
	ks := storage.NewKeyspace()

	if _, err := ks.Xadd("s", "0-0", []string{"a", "1"}); !errors.Is(err, storage.ErrStreamIDZero) {
		t.Fatalf("Xadd(0-0) error = %v", err)
	}
	if ks.HasStream("s") {
		t.Error("rejected XADD created the stream")
	}
}

func TestXrange(t *testing.T) {
	ks := storage.NewKeyspace()
	for _, id := range []string{"1-1", "1-2", "2-0", "3-5"} {
		if _, err := ks.Xadd("s", id, []string{"id", id}); err != nil {
			t.Fatalf("Xadd(%s) error = %v", id, err)
		}
	}

	tests := []struct {
		start, end string
		inclusive  bool
		want       []string
	}{
		{"-", "+", true, []string{"1-1", "1-2", "2-0", "3-5"}},
		{"1", "1", true, []string{"1-1", "1-2"}},
		{"1-2", "3", true, []string{"1-2", "2-0", "3-5"}},
		{"1-2", "+", false, []string{"2-0", "3-5"}},
		{"2-1", "3-4", true, []string{}},
		{"4", "+", true, []string{}},
	}

	for _, tt := range tests {
		entries, err := ks.Xrange("s", tt.start, tt.end, tt.inclusive)
		if err != nil {
			t.Fatalf("Xrange(%s, %s) error = %v", tt.start, tt.end, err)
		}

		got := make([]string, len(entries))
		for i, e := range entries {
			got[i] = e.ID.String()
		}
		if len(got) != len(tt.want) {
			t.Errorf("Xrange(%s, %s) = %v, want %v", tt.start, tt.end, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Xrange(%s, %s) = %v, want %v", tt.start, tt.end, got, tt.want)
				break
			}
		}
	}

	if _, err := ks.Xrange("s", "bad", "+", true); !errors.Is(err, storage.ErrInvalidStreamID) {
		t.Errorf("Xrange(bad) error = %v, want ErrInvalidStreamID", err)
	}

	entries, err := ks.Xrange("missing", "-", "+", true)
	if err != nil || len(entries) != 0 {
		t.Errorf("Xrange(missing) = %v, %v; want empty", entries, err)
	}
}

func TestXrangeKeepsDuplicateFields(t *testing.T) {
	ks := storage.NewKeyspace()
	ks.Xadd("s", "1-1", []string{"f", "a", "f", "b"})

	entries, _ := ks.Xrange("s", "-", "+", true)
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	want := []string{"f", "a", "f", "b"}
	for i, f := range entries[0].Fields {
		if f != want[i] {
			t.Fatalf("Fields = %v, want %v", entries[0].Fields, want)
		}
	}
}

func TestXreadNonBlocking(t *testing.T) {
	ks := storage.NewKeyspace()
	ks.Xadd("a", "1-1", []string{"f", "v"})
	ks.Xadd("a", "1-2", []string{"f", "v"})
	ks.Xadd("b", "5-0", []string{"f", "v"})

	results, err := ks.Xread(context.Background(), []string{"a", "b", "c"}, []string{"1-1", "5-0", "0-0"}, storage.XreadOptions{})
	if err != nil {
		t.Fatalf("Xread() error = %v", err)
	}
	if len(results) != 1 || results[0].Key != "a" {
		t.Fatalf("Xread() = %+v, want only stream a", results)
	}
	if len(results[0].Entries) != 1 || results[0].Entries[0].ID.String() != "1-2" {
		t.Errorf("entries = %+v, want 1-2", results[0].Entries)
	}

	results, _ = ks.Xread(context.Background(), []string{"a"}, []string{"0"}, storage.XreadOptions{Count: 1})
	if len(results) != 1 || len(results[0].Entries) != 1 || results[0].Entries[0].ID.String() != "1-1" {
		t.Errorf("Xread(COUNT 1) = %+v", results)
	}
}

func TestXreadBlockWakesOnAdd(t *testing.T) {
	ks := storage.NewKeyspace()
	ks.Xadd("s", "1-1", []string{"f", "old"})

	done := make(chan []storage.StreamResult, 1)
	go func() {
		results, err := ks.Xread(context.Background(), []string{"s"}, []string{"$"}, storage.XreadOptions{
			Block:   true,
			Timeout: 2 * time.Second,
		})
		if err != nil {
			t.Errorf("Xread() error = %v", err)
		}
		done <- results
	}()

	// Keep adding until the reader picks something up, so the test does
	// not depend on when the reader resolved "$".
	var added []string
	deadline := time.After(2 * time.Second)
	for {
		select {
		case results := <-done:
			if len(results) != 1 || len(results[0].Entries) == 0 {
				t.Fatalf("Xread() = %+v", results)
			}
			got := results[0].Entries[0].ID.String()
			if got == "1-1" {
				t.Fatalf("Xread($) returned the entry present before the call")
			}
			found := false
			for _, id := range added {
				found = found || id == got
			}
			if !found {
				t.Errorf("Xread() returned %s, not one of %v", got, added)
			}
			return
		case <-deadline:
			t.Fatal("Xread() did not wake")
		case <-time.After(20 * time.Millisecond):
			id, err := ks.Xadd("s", "*", []string{"f", "new"})
			if err != nil {
				t.Fatalf("Xadd() error = %v", err)
			}
			added = append(added, id.String())
		}
	}
}

func TestXreadBlockTimeout(t *testing.T) {
	ks := storage.NewKeyspace()

	start := time.Now()
	results, err := ks.Xread(context.Background(), []string{"s"}, []string{"0-0"}, storage.XreadOptions{
		Block:   true,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil || results != nil {
		t.Fatalf("Xread() = %v, %v; want nil, nil", results, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Xread() returned before its timeout")
	}
}

func TestXreadBlockReturnsExistingEntries(t *testing.T) {
	ks := storage.NewKeyspace()
	ks.Xadd("s", "1-1", []string{"f", "v"})

	results, err := ks.Xread(context.Background(), []string{"s"}, []string{"0-0"}, storage.XreadOptions{Block: true})
	if err != nil || len(results) != 1 {
		t.Fatalf("Xread() = %v, %v", results, err)
	}
}

func TestXreadBlockContextCancel(t *testing.T) {
	ks := storage.NewKeyspace()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := ks.Xread(ctx, []string{"s"}, []string{"$"}, storage.XreadOptions{Block: true})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Xread() error = %v, want context.DeadlineExceeded", err)
	}
}
