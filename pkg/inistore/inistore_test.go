package inistore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestGetMissingFile(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing", "AICM.INI"))

	_, ok, err := store.Get("tracker", "timeout")
	if err != nil {
		t.Fatalf("Get on missing file: %v", err)
	}
	if ok {
		t.Error("expected key to be absent")
	}
}

func TestSetCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "AICM.INI")
	store := New(path)

	if err := store.Set("tracker", "timeout", "10"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "AICM.INI"))

	if err := store.Set("tracker", "delivery_type", "mem_queue"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("triggered_limits", "payload", `{"version":"1"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := store.Get("tracker", "delivery_type")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != "mem_queue" {
		t.Errorf("got %q, want %q", got, "mem_queue")
	}

	got, ok, err = store.Get("triggered_limits", "payload")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != `{"version":"1"}` {
		t.Errorf("payload round-trip mismatch: %q", got)
	}
}

func TestSetPreservesOtherSections(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "AICM.INI"))

	if err := store.Set("tracker", "timeout", "10"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("triggered_limits", "payload", "xyz"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("triggered_limits", "payload", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := store.Get("tracker", "timeout")
	if err != nil || !ok || got != "10" {
		t.Errorf("tracker section lost after unrelated write: %q ok=%v err=%v", got, ok, err)
	}
}

func TestGetSection(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "AICM.INI"))

	if _, ok, err := store.GetSection("tracker"); err != nil || ok {
		t.Fatalf("GetSection on empty store: ok=%v err=%v", ok, err)
	}

	if err := store.Set("tracker", "timeout", "10"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("tracker", "queue_size", "500"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	section, ok, err := store.GetSection("tracker")
	if err != nil || !ok {
		t.Fatalf("GetSection: ok=%v err=%v", ok, err)
	}
	if len(section) != 2 || section["timeout"] != "10" || section["queue_size"] != "500" {
		t.Errorf("unexpected section contents: %v", section)
	}
}

func TestRemoveSection(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "AICM.INI"))

	if err := store.Set("triggered_limits", "payload", "xyz"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.RemoveSection("triggered_limits"); err != nil {
		t.Fatalf("RemoveSection: %v", err)
	}
	if _, ok, _ := store.Get("triggered_limits", "payload"); ok {
		t.Error("section survived removal")
	}

	// Removing an absent section is not an error.
	if err := store.RemoveSection("nope"); err != nil {
		t.Errorf("RemoveSection on absent section: %v", err)
	}
}

func TestConcurrentWriters(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "AICM.INI"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key%d", n)
			if err := store.Set("tracker", key, fmt.Sprintf("%d", n)); err != nil {
				t.Errorf("Set %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	section, ok, err := store.GetSection("tracker")
	if err != nil || !ok {
		t.Fatalf("GetSection: ok=%v err=%v", ok, err)
	}
	if len(section) != 10 {
		t.Errorf("expected 10 keys after concurrent writes, got %d: %v", len(section), section)
	}
}

func TestParseSkipsCommentsAndMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AICM.INI")
	content := strings.Join([]string{
		"; leading comment",
		"[tracker]",
		"# another comment",
		"timeout = 10",
		"not-a-pair",
		"",
		"[triggered_limits]",
		"payload = {}",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	store := New(path)
	got, ok, err := store.Get("tracker", "timeout")
	if err != nil || !ok || got != "10" {
		t.Errorf("Get timeout: %q ok=%v err=%v", got, ok, err)
	}
	got, ok, err = store.Get("triggered_limits", "payload")
	if err != nil || !ok || got != "{}" {
		t.Errorf("Get payload: %q ok=%v err=%v", got, ok, err)
	}
}
