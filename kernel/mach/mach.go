// Package mach models the external collaborators the thread manager and I/O
// core consume: the trap subsystem, the memory manager, the interrupt
// controller, and the process layer. On the real target these are boot
// glue, a page allocator, and CSR-level register twiddling; here they are
// small, concurrency-safe Go types that preserve the same contracts so the
// thread manager can be exercised without a RISC-V target underneath it.
package mach

import (
	"context"
	"fmt"
	"sync"

	"github.com/arctir/kernelcore/kernel/io"
)

// PageSize matches the target's page size and is also the block size
// reported by the I/O interface's GetBlkSz control command.
const PageSize = 4096

// TrapFrame is a read-only snapshot of the register state a thread entered
// the supervisor on. The thread manager consumes it by value during fork,
// and the fork path overwrites the child's copy of the syscall return slot.
type TrapFrame struct {
	// A0 is the syscall return-value register. fork_to_user zeroes A0 in
	// the child's copy and leaves the parent's copy unmodified; the parent
	// receives the child's thread id as ForkToUser's return value.
	A0 uint64
	// PC and SP are carried only so a TrapFrame snapshot has a notion of
	// "where execution resumes"; the scheduler itself never inspects them.
	PC uintptr
	SP uintptr
}

// Page is a page-granularity allocation handle. It carries no storage of
// its own (there is no address space to back it with bytes in a
// simulation); it exists so AllocPage/FreePage bugs -- most importantly a
// double free -- are detectable, which is what makes invariant T4 ("stack
// freed exactly once") a property tests can assert rather than take on
// faith.
type Page struct {
	id    uint64
	freed bool
}

// Memory models the memory manager: page allocation, small-object
// allocation, and address-space operations. KMalloc/KFree are modeled as
// thin wrappers over make([]byte, n) since there is no real address space
// to manage; AllocPage/FreePage are where the interesting bookkeeping is,
// because the scheduler's contract (free exactly once, by the successor
// thread) is safety-critical.
type Memory struct {
	mu       sync.Mutex
	nextPage uint64
	live     map[uint64]*Page
	nextTag  int
	curTag   int
}

// NewMemory returns a ready-to-use Memory manager.
func NewMemory() *Memory {
	return &Memory{live: make(map[uint64]*Page), nextTag: 1}
}

// AllocPage returns a fresh, PageSize-aligned (conceptually) page handle.
func (m *Memory) AllocPage() *Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPage++
	p := &Page{id: m.nextPage}
	m.live[p.id] = p
	return p
}

// FreePage releases a page previously returned by AllocPage. Freeing a page
// twice, or a page never allocated by this Memory, is a structural bug and
// panics -- there is no recovery path for a kernel that corrupts its own
// page allocator.
func (m *Memory) FreePage(p *Page) {
	if p == nil {
		panic("mach: FreePage called with nil page")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.freed {
		panic(fmt.Sprintf("mach: page %d freed twice", p.id))
	}
	if _, ok := m.live[p.id]; !ok {
		panic(fmt.Sprintf("mach: page %d freed but not allocated by this arena", p.id))
	}
	p.freed = true
	delete(m.live, p.id)
}

// KMalloc allocates a small kernel object of size n bytes.
func (m *Memory) KMalloc(n int) []byte {
	return make([]byte, n)
}

// KFree releases a small kernel object. It is a no-op: Go's garbage
// collector reclaims the backing array once the last reference is dropped.
// The thread manager does not call KMalloc or KFree; thread records are
// ordinary Go allocations.
func (m *Memory) KFree([]byte) {}

// SpaceClone allocates a fresh address-space tag, independent from the tag
// passed in, standing in for cloning a page table during fork.
func (m *Memory) SpaceClone(int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTag++
	return m.nextTag
}

// NewAddressSpace allocates a fresh address-space tag for a freshly spawned
// (not forked) process.
func (m *Memory) NewAddressSpace() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTag++
	return m.nextTag
}

// SpaceSwitch makes tag the live address space, standing in for
// memory_space_switch -- the page-table swap the original performs in
// suspend_self (original_source/src/kern/thread.c:643) whenever the thread
// being scheduled in belongs to a different process, and unconditionally
// in thread_fork_to_user (thread.c:343) when switching into the freshly
// cloned child. There is no real page table here, so this only records
// which tag is current; CurrentTag reports it back so the scheduler can
// decide whether a switch is even needed.
func (m *Memory) SpaceSwitch(tag int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.curTag = tag
}

// CurrentTag reports the address-space tag most recently passed to
// SpaceSwitch, or 0 before the first switch.
func (m *Memory) CurrentTag() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curTag
}

// Interrupts models intr_disable/intr_restore/intr_enable and the
// wait-for-interrupt sleep instruction. On the real target these twiddle
// the sstatus CSR; here a single mutex stands in for "the one CPU's
// interrupt-enable bit," which is sufficient because the distilled spec's
// concurrency model is explicitly single-CPU and cooperative (§5 of the
// distilled spec and §8 of the expanded spec).
type Interrupts struct {
	mu      sync.Mutex
	enabled bool
	wake    chan struct{}
	wakeMu  sync.Mutex
}

// NewInterrupts returns an Interrupts controller with interrupts enabled,
// matching the boot-time state of the real target after thread_init.
func NewInterrupts() *Interrupts {
	return &Interrupts{enabled: true, wake: make(chan struct{}, 1)}
}

// Disable disables interrupts and returns the previous state, for Restore.
func (i *Interrupts) Disable() bool {
	i.mu.Lock()
	prev := i.enabled
	i.enabled = false
	i.mu.Unlock()
	return prev
}

// Restore restores a previously saved interrupt-enable state.
func (i *Interrupts) Restore(prev bool) {
	i.mu.Lock()
	i.enabled = prev
	i.mu.Unlock()
}

// Enable unconditionally enables interrupts.
func (i *Interrupts) Enable() {
	i.mu.Lock()
	i.enabled = true
	i.mu.Unlock()
}

// Notify wakes any thread blocked in WaitForInterrupt. It is the
// equivalent of an ISR becoming pending; the scheduler calls it whenever a
// thread transitions onto the ready queue so the idle thread's WFI never
// misses a wakeup.
func (i *Interrupts) Notify() {
	i.wakeMu.Lock()
	select {
	case i.wake <- struct{}{}:
	default:
	}
	i.wakeMu.Unlock()
}

// WaitForInterrupt blocks until Notify is called or ctx is done. It models
// the RISC-V wfi instruction; unlike wfi it takes a context so a demo
// scenario can unwind cleanly at the end of a run instead of leaking a
// goroutine.
func (i *Interrupts) WaitForInterrupt(ctx context.Context) {
	select {
	case <-i.wake:
	case <-ctx.Done():
	}
}

// Process models the process layer: the thread core reads MTag(), the
// address-space tag used to decide whether a scheduler switch needs to
// perform an address-space switch. A process that also
// owns an open-file table -- anything a forked child's process should
// release its references to when it exits -- advertises that by
// implementing CloseAll; the thread core discovers it with a type
// assertion rather than widening this interface, since CloseAll is no
// part of the scheduler's own contract.
type Process interface {
	MTag() int
}

// FileTable is the process layer's open-file table: a dense map from
// descriptor number to io.Handle, existing only so CtlGetRefCount has
// something concrete to report across a fork. The thread core never
// touches it directly -- it is exercised by callers that open files and
// fork processes, and released via CloseAll when a process exits.
type FileTable struct {
	mu     sync.Mutex
	nextFD int
	files  map[int]io.Handle
}

// NewFileTable returns an empty file table.
func NewFileTable() *FileTable {
	return &FileTable{files: make(map[int]io.Handle)}
}

// Open installs h under a freshly assigned descriptor and returns it.
func (f *FileTable) Open(h io.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd := f.nextFD
	f.nextFD++
	f.files[fd] = h
	return fd
}

// Get returns the handle installed at fd, if any.
func (f *FileTable) Get(fd int) (io.Handle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.files[fd]
	return h, ok
}

// Clone returns a new FileTable holding the same descriptor-to-handle
// mapping, with every handle's reference count bumped once -- the
// fork-duplicates-the-fd-table step that makes CtlGetRefCount read 2
// immediately after a fork of a process with one open file, matching
// original_source/src/user/lock_test.c.
func (f *FileTable) Clone() *FileTable {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := NewFileTable()
	clone.nextFD = f.nextFD
	for fd, h := range f.files {
		h.Header().Ref()
		clone.files[fd] = h
	}
	return clone
}

// CloseAll unrefs every handle this table holds and empties it. It is
// called once, when the process that owns this table exits, so the
// table's references never outlive the process (distilled spec §4.9
// supplement, SPEC_FULL.md §6).
func (f *FileTable) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, h := range f.files {
		h.Header().Unref()
		delete(f.files, fd)
	}
}

// SimpleProcess is a minimal Process implementation sufficient for demos
// and tests: an address-space tag plus the open-file table described
// above.
type SimpleProcess struct {
	mu    sync.Mutex
	tag   int
	Files *FileTable
}

// NewSimpleProcess returns a SimpleProcess pinned to the given
// address-space tag, with a fresh, empty file table.
func NewSimpleProcess(tag int) *SimpleProcess {
	return &SimpleProcess{tag: tag, Files: NewFileTable()}
}

// MTag returns the process's address-space tag.
func (p *SimpleProcess) MTag() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tag
}

// CloseAll releases the process's references to every file in its table.
// Satisfies the thread core's optional "process that owns a file table"
// contract (see Process's doc comment).
func (p *SimpleProcess) CloseAll() {
	p.Files.CloseAll()
}
