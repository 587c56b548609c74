package proxypool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_ValidProxies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")
	content := "127.0.0.1:1080 alice secret\n10.0.0.1:8080 bob pw\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pl, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := pl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	p, ok := pl.At(0)
	if !ok || p.Addr() != "127.0.0.1:1080" || p.Username != "alice" {
		t.Fatalf("unexpected first entry: %+v", p)
	}
}

func TestLoadFile_SkipsBlankAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")
	content := "\n# comment\n127.0.0.1:1080 a b\n   \n"
	os.WriteFile(path, []byte(content), 0o644)

	pl, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := pl.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	pl, err := LoadFile(filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if pl.Len() != 0 {
		t.Fatalf("expected empty pool, got %d entries", pl.Len())
	}
}

func TestLoadFile_InvalidAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")
	os.WriteFile(path, []byte("not-an-addr\n127.0.0.1:notaport\n"), 0o644)

	pl, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pl.Len() != 0 {
		t.Fatalf("expected malformed lines skipped, got %d entries", pl.Len())
	}
}

func TestAppend_DedupesByAddr(t *testing.T) {
	pl := New()
	pl.Append(&Proxy{Host: "1.2.3.4", Port: 80}, &Proxy{Host: "1.2.3.4", Port: 80})
	if pl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", pl.Len())
	}
}

func TestAppend_EvictsOldestAtCapacity(t *testing.T) {
	pl := New()
	for i := 0; i < Capacity; i++ {
		pl.Append(&Proxy{Host: "10.0.0.1", Port: i + 1})
	}
	if pl.Len() != Capacity {
		t.Fatalf("Len() = %d, want %d", pl.Len(), Capacity)
	}
	first, _ := pl.At(0)
	pl.Append(&Proxy{Host: "10.0.0.2", Port: 1})
	if pl.Len() != Capacity {
		t.Fatalf("Len() after overflow append = %d, want %d", pl.Len(), Capacity)
	}
	newFirst, _ := pl.At(0)
	if newFirst.Addr() == first.Addr() {
		t.Fatalf("expected oldest entry to be evicted")
	}
}

func TestPruneBlocked(t *testing.T) {
	pl := New()
	a := &Proxy{Host: "1.1.1.1", Port: 1}
	b := &Proxy{Host: "2.2.2.2", Port: 2}
	b.SetProperty(Blocked)
	pl.Append(a, b)

	removed := pl.PruneBlocked()
	if removed != 1 {
		t.Fatalf("PruneBlocked() removed %d, want 1", removed)
	}
	if pl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", pl.Len())
	}
}

func TestProxyString_RedactsPassword(t *testing.T) {
	p := &Proxy{Host: "1.2.3.4", Port: 80, Username: "alice", Password: "hunter2"}
	s := p.String()
	if s != "alice@1.2.3.4:80" {
		t.Fatalf("String() = %q", s)
	}
	if contains(s, "hunter2") {
		t.Fatalf("String() leaked password: %q", s)
	}
}

func TestSaveFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")

	pl := New()
	pl.Append(&Proxy{Host: "1.1.1.1", Port: 1080, Username: "u", Password: "p"})
	pl.Append(&Proxy{Host: "1.1.1.1", Port: 1080, Username: "u", Password: "p"}) // dup, dropped
	pl.Append(&Proxy{Host: "2.2.2.2", Port: 8080})

	if err := pl.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("round-tripped Len() = %d, want 2", reloaded.Len())
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
