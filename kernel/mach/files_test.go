package mach

import (
	"testing"

	"github.com/arctir/kernelcore/kernel/io"
)

// Cloning a file table bumps every handle's refcount once, mirroring a
// fork duplicating the fd table (original_source/src/user/lock_test.c).
func TestFileTableCloneBumpsRefcount(t *testing.T) {
	table := NewFileTable()
	fd := table.Open(io.NewLiteral(make([]byte, 8)))

	h, ok := table.Get(fd)
	if !ok {
		t.Fatalf("Get(%d) after Open found nothing", fd)
	}
	if got := h.Header().RefCount(); got != 1 {
		t.Fatalf("refcount before clone = %d, want 1", got)
	}

	clone := table.Clone()
	if got := h.Header().RefCount(); got != 2 {
		t.Fatalf("refcount after clone = %d, want 2", got)
	}

	cloned, ok := clone.Get(fd)
	if !ok || cloned != h {
		t.Fatalf("clone does not share the original handle at fd %d", fd)
	}
}

// CloseAll unrefs and forgets every handle in the table, and only that
// table's references -- a sibling table cloned from the same original
// keeps its own reference alive.
func TestFileTableCloseAllUnrefsOnlyItsOwnShare(t *testing.T) {
	table := NewFileTable()
	fd := table.Open(io.NewLiteral(make([]byte, 8)))
	h, _ := table.Get(fd)

	clone := table.Clone()
	if got := h.Header().RefCount(); got != 2 {
		t.Fatalf("refcount after clone = %d, want 2", got)
	}

	clone.CloseAll()
	if got := h.Header().RefCount(); got != 1 {
		t.Fatalf("refcount after clone's CloseAll = %d, want 1", got)
	}
	if _, ok := clone.Get(fd); ok {
		t.Fatalf("clone still reports fd %d present after CloseAll", fd)
	}
	if _, ok := table.Get(fd); !ok {
		t.Fatalf("original table lost fd %d after an unrelated clone's CloseAll", fd)
	}
}

// SimpleProcess.CloseAll satisfies the scheduler's duck-typed
// "process owns a file table" contract and releases its own files.
func TestSimpleProcessCloseAllReleasesFiles(t *testing.T) {
	proc := NewSimpleProcess(1)
	fd := proc.Files.Open(io.NewLiteral(make([]byte, 4)))
	h, _ := proc.Files.Get(fd)

	var closer interface{ CloseAll() } = proc
	closer.CloseAll()

	if got := h.Header().RefCount(); got != 0 {
		t.Fatalf("refcount after process CloseAll = %d, want 0", got)
	}
}
