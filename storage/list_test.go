package storage

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"
)

// waitForWaiters blocks until n active tickets are queued on key
func waitForWaiters(t *testing.T, k *Keyspace, key string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sh := k.shardFor(key)
		sh.mu.Lock()
		active := 0
		if q := sh.tickets[key]; q != nil {
			for _, tk := range q.tickets {
				if !tk.released.Load() {
					active++
				}
			}
		}
		sh.mu.Unlock()

		if active >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters on %s", n, key)
}

func TestPushOrder(t *testing.T) {
	k := NewKeyspace()

	n, served, err := k.Rpush("l", "a", "b")
	if err != nil || n != 2 || served != 0 {
		t.Fatalf("Rpush() = %d, %d, %v; want 2, 0", n, served, err)
	}
	n, _, err = k.Lpush("l", "x", "y")
	if err != nil || n != 4 {
		t.Fatalf("Lpush() = %d, %v; want 4", n, err)
	}

	got, _ := k.Lrange("l", 0, -1)
	want := []string{"y", "x", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lrange() = %v, want %v", got, want)
	}
}

func TestLrangeClamping(t *testing.T) {
	k := NewKeyspace()
	k.Rpush("l", "a", "b", "c", "d", "e")

	tests := []struct {
		start, stop int
		want        []string
	}{
		{0, -1, []string{"a", "b", "c", "d", "e"}},
		{0, 0, []string{"a"}},
		{-2, -1, []string{"d", "e"}},
		{1, 100, []string{"b", "c", "d", "e"}},
		{-100, 1, []string{"a", "b"}},
		{3, 1, []string{}},
		{10, 20, []string{"e"}},
		{-1, -100, []string{}},
	}

	for _, tt := range tests {
		got, err := k.Lrange("l", tt.start, tt.stop)
		if err != nil {
			t.Fatalf("Lrange(%d, %d) error = %v", tt.start, tt.stop, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Lrange(%d, %d) = %v, want %v", tt.start, tt.stop, got, tt.want)
		}
	}

	got, err := k.Lrange("missing", 0, -1)
	if err != nil || len(got) != 0 {
		t.Errorf("Lrange(missing) = %v, %v; want empty", got, err)
	}
}

func TestPopAndEmptyListPersists(t *testing.T) {
	k := NewKeyspace()
	k.Rpush("l", "a", "b", "c")

	got, _ := k.Lpop("l", 2)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Lpop(2) = %v", got)
	}
	got, _ = k.Rpop("l", 5)
	if !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("Rpop(5) = %v", got)
	}

	got, err := k.Lpop("l", 1)
	if got != nil || err != nil {
		t.Errorf("Lpop(empty) = %v, %v; want nil", got, err)
	}
	if !k.HasList("l") {
		t.Error("empty list was removed")
	}
	if n, _ := k.Llen("l"); n != 0 {
		t.Errorf("Llen() = %d, want 0", n)
	}
}

func TestBlpopImmediate(t *testing.T) {
	k := NewKeyspace()
	k.Rpush("b", "1")

	name, value, ok, err := k.Blpop(context.Background(), []string{"a", "b"}, 1, time.Second)
	if err != nil || !ok {
		t.Fatalf("Blpop() = %v, %v", ok, err)
	}
	if name != "b" || value != "1" {
		t.Errorf("Blpop() = %s/%s, want b/1", name, value)
	}

	// The waiter queued on "a" was cleaned up.
	sh := k.shardFor("a")
	sh.mu.Lock()
	_, queued := sh.tickets["a"]
	sh.mu.Unlock()
	if queued {
		t.Error("ticket left behind on a")
	}
}

func TestBlpopWakesOnPush(t *testing.T) {
	k := NewKeyspace()

	type result struct {
		name, value string
		ok          bool
		err         error
	}
	done := make(chan result, 1)
	go func() {
		name, value, ok, err := k.Blpop(context.Background(), []string{"q"}, 1, 0)
		done <- result{name, value, ok, err}
	}()

	waitForWaiters(t, k, "q", 1)

	n, served, err := k.Rpush("q", "job")
	if err != nil || n != 1 || served != 1 {
		t.Fatalf("Rpush() = %d, %d, %v; want length 1 before serving and 1 served", n, served, err)
	}

	select {
	case r := <-done:
		if r.err != nil || !r.ok || r.name != "q" || r.value != "job" {
			t.Errorf("Blpop() = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Blpop() did not wake")
	}

	if n, _ := k.Llen("q"); n != 0 {
		t.Errorf("Llen() = %d, want 0", n)
	}
}

func TestBlpopTimeout(t *testing.T) {
	k := NewKeyspace()

	start := time.Now()
	_, _, ok, err := k.Blpop(context.Background(), []string{"q"}, 1, 50*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("Blpop() = %v, %v; want timeout", ok, err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Blpop() returned after %v", elapsed)
	}

	// A push after the timeout stays in the list.
	k.Rpush("q", "late")
	if n, _ := k.Llen("q"); n != 1 {
		t.Errorf("Llen() = %d, want 1", n)
	}
}

func TestBlpopContextCancel(t *testing.T) {
	k := NewKeyspace()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, _, err := k.Blpop(ctx, []string{"q"}, 1, 0)
		done <- err
	}()

	waitForWaiters(t, k, "q", 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Blpop() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Blpop() ignored cancellation")
	}
}

func TestBlpopFIFO(t *testing.T) {
	k := NewKeyspace()

	results := make([]chan string, 3)
	for i := range results {
		results[i] = make(chan string, 1)
		go func(i int) {
			_, value, _, _ := k.Blpop(context.Background(), []string{"q"}, int64(i), 0)
			results[i] <- value
		}(i)
		waitForWaiters(t, k, "q", i+1)
	}

	k.Rpush("q", "first", "second", "third")

	want := []string{"first", "second", "third"}
	for i, ch := range results {
		select {
		case got := <-ch:
			if got != want[i] {
				t.Errorf("waiter %d got %q, want %q", i, got, want[i])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d did not wake", i)
		}
	}
}

func TestBlpopWrongType(t *testing.T) {
	k := NewKeyspace()
	k.Set("s", []byte("v"), SetOptions{})

	_, _, _, err := k.Blpop(context.Background(), []string{"s"}, 1, time.Second)
	if !errors.Is(err, ErrWrongType) {
		t.Errorf("Blpop() error = %v, want ErrWrongType", err)
	}
}

// Every pushed item ends up either with exactly one waiter or still in a
// list, even when waiters listen on several lists at once.
func TestBlpopExactlyOnce(t *testing.T) {
	k := NewKeyspace()

	const waiters = 20
	var mu sync.Mutex
	var received []string

	var wg sync.WaitGroup
	for i := range waiters {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, value, ok, err := k.Blpop(context.Background(), []string{"a", "b"}, id, 500*time.Millisecond)
			if err != nil {
				t.Errorf("Blpop() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				received = append(received, value)
				mu.Unlock()
			}
		}(int64(i))
	}

	var pushers sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		pushers.Add(1)
		go func(key string) {
			defer pushers.Done()
			for i := range waiters {
				k.Rpush(key, key+string(rune('A'+i)))
			}
		}(key)
	}
	pushers.Wait()
	wg.Wait()

	left := 0
	for _, key := range []string{"a", "b"} {
		rest, _ := k.Lrange(key, 0, -1)
		left += len(rest)
		received = append(received, rest...)
	}

	if len(received) != 2*waiters {
		t.Fatalf("items accounted for = %d, want %d", len(received), 2*waiters)
	}
	if left != waiters {
		t.Errorf("items left in lists = %d, want %d", left, waiters)
	}

	sort.Strings(received)
	for i := 1; i < len(received); i++ {
		if received[i] == received[i-1] {
			t.Fatalf("item %s delivered twice", received[i])
		}
	}
}

func TestDidUpdateListServesWaiters(t *testing.T) {
	k := NewKeyspace()

	done := make(chan string, 1)
	go func() {
		_, value, _, _ := k.Blpop(context.Background(), []string{"q"}, 1, 0)
		done <- value
	}()
	waitForWaiters(t, k, "q", 1)

	// Insert behind the drain's back, then ask for a drain explicitly.
	sh := k.shardFor("q")
	sh.mu.Lock()
	l, _ := k.listFor(sh, "q", true)
	l.PushBack("direct")
	sh.mu.Unlock()

	if served := k.DidUpdateList("q"); served != 1 {
		t.Errorf("DidUpdateList() served %d, want 1", served)
	}

	select {
	case got := <-done:
		if got != "direct" {
			t.Errorf("Blpop() = %q, want direct", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DidUpdateList() did not serve the waiter")
	}
}

func TestBeginBlpop(t *testing.T) {
	k := NewKeyspace()
	k.Rpush("a", "1")

	w, err := k.BeginBlpop([]string{"a"}, 1)
	if err != nil {
		t.Fatalf("BeginBlpop() error = %v", err)
	}
	if name, value, ok := w.Immediate(); !ok || name != "a" || value != "1" {
		t.Fatalf("Immediate() = %s/%s/%v, want a/1/true", name, value, ok)
	}

	w, err = k.BeginBlpop([]string{"a"}, 2)
	if err != nil {
		t.Fatalf("BeginBlpop() error = %v", err)
	}
	if _, _, ok := w.Immediate(); ok {
		t.Fatal("Immediate() on an empty list = true")
	}

	// Registration is complete once BeginBlpop returns.
	if _, served, _ := k.Rpush("a", "2"); served != 1 {
		t.Fatalf("Rpush() served %d, want 1", served)
	}
	name, value, ok, err := w.Wait(context.Background(), time.Second)
	if err != nil || !ok || name != "a" || value != "2" {
		t.Errorf("Wait() = %s/%s/%v/%v, want a/2", name, value, ok, err)
	}
}

func TestTryLpopFirst(t *testing.T) {
	k := NewKeyspace()

	_, _, ok, err := k.TryLpopFirst([]string{"a", "b"})
	if ok || err != nil {
		t.Fatalf("TryLpopFirst(empty) = %v, %v", ok, err)
	}

	k.Rpush("b", "x")
	name, value, ok, err := k.TryLpopFirst([]string{"a", "b"})
	if err != nil || !ok || name != "b" || value != "x" {
		t.Errorf("TryLpopFirst() = %s, %s, %v, %v", name, value, ok, err)
	}
}
