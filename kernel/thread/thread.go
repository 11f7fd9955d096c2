// Package thread implements the cooperative, single-logical-CPU thread
// scheduler: a strict FIFO ready queue, broadcast-only condition
// variables, fork-to-user cloning, and join/join-any with orphan
// reparenting. A goroutine stands in for a hardware thread; a per-thread
// rendezvous channel stands in for the register context switch a real
// target performs in assembly; a single mutex held around ready-queue and
// thread-table mutation stands in for disabling interrupts on the one CPU
// this scheduler assumes.
package thread

import (
	"fmt"

	"github.com/arctir/kernelcore/kernel/mach"
)

// State is a thread's scheduling state.
type State int

const (
	Uninitialized State = iota
	Stopped
	Waiting
	Running
	Ready
	Exited
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Stopped:
		return "STOPPED"
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case Ready:
		return "READY"
	case Exited:
		return "EXITED"
	default:
		return "UNDEFINED"
	}
}

// Fatal panics with a descriptive, structural-kernel-bug error. It is
// never recovered anywhere in this package: the distilled spec treats
// the conditions it guards (table exhaustion, join protocol violations,
// inconsistent wait-list state) as unrecoverable kernel halts, not
// reportable errors.
func Fatal(format string, args ...any) {
	panic("thread: " + fmt.Sprintf(format, args...))
}

// Thread is one schedulable unit. Its zero value is not usable; threads
// are only constructed by a Manager's Spawn/ForkToUser/idle-thread setup.
type Thread struct {
	mgr  *Manager
	id   int
	name string

	// resume is the baton: a thread blocks receiving from its own resume
	// channel whenever it is not the one running, and is woken by having
	// its predecessor (the thread that is handing off to it) sent in.
	resume chan *Thread

	stackPage *mach.Page
	state     State
	proc      mach.Process
	parent    *Thread
	listNext  *Thread
	waitCond  *Condition
	childExit *Condition

	// ownsProcess is true only for a thread created by ForkToUser: such a
	// thread is the sole thread of a freshly cloned process, so its exit
	// is also that process's exit. A thread created by Spawn shares its
	// parent's process and must not release process-wide resources just
	// because one sibling exited.
	ownsProcess bool

	// userSP/userPC record the target of the most recent JumpToUser call,
	// for diagnostics ("threads dump"). There is no user-mode instruction
	// stream in this simulator for a jump to actually enter.
	userSP uintptr
	userPC uintptr
}

// ID returns the thread's table slot, stable for the thread's lifetime.
func (t *Thread) ID() int { return t.id }

// Name returns the thread's descriptive name.
func (t *Thread) Name() string { return t.name }

// Process returns the process this thread currently belongs to.
func (t *Thread) Process() mach.Process {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	return t.proc
}

// SetProcess reassigns the thread to a different process, e.g. after an
// exec-equivalent operation replaces the address space in place.
func (t *Thread) SetProcess(p mach.Process) {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	t.proc = p
}

// State returns the thread's current scheduling state. Intended for
// diagnostics (the CLI's "threads ls"/"threads dump" commands); nothing
// in the scheduler itself should poll this instead of synchronizing
// through the normal channel handoff.
func (t *Thread) State() State {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	return t.state
}

// JumpToUser records usp/upc as the thread's user-mode entry point,
// standing in for thread_jump_to_user's supervisor-to-user privilege
// transition (original_source/src/kern/thread.c:385). The original never
// returns from this call: it discards the kernel stack frame and resumes
// execution at upc with stack pointer usp. This simulator has no
// user-mode instruction stream for such a jump to land in, so unlike the
// original this returns normally rather than diverging -- callers stand
// in for "entering user mode" however their own scenario needs to, using
// UserSP/UserPC to see what was requested.
func (t *Thread) JumpToUser(usp, upc uintptr) {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	t.userSP = usp
	t.userPC = upc
}

// UserSP returns the user stack pointer from the thread's most recent
// JumpToUser call, or 0 if it has never jumped to user mode.
func (t *Thread) UserSP() uintptr {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	return t.userSP
}

// UserPC returns the user program counter from the thread's most recent
// JumpToUser call, or 0 if it has never jumped to user mode.
func (t *Thread) UserPC() uintptr {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	return t.userPC
}

// threadList is a FIFO singly-linked list threaded through Thread.listNext,
// used both as the ready queue and as each condition variable's wait
// list. Every method assumes the caller already holds whatever mutex
// protects the list's mutations -- none of them are safe for concurrent
// use on their own, mirroring the original's "not interrupt-safe" note on
// tlinsert/tlremove/tlappend/tlclear.
type threadList struct {
	head, tail *Thread
}

func (l *threadList) clear() {
	l.head, l.tail = nil, nil
}

func (l *threadList) empty() bool {
	return l.head == nil
}

func (l *threadList) insert(t *Thread) {
	t.listNext = nil
	if l.tail != nil {
		l.tail.listNext = t
	} else {
		l.head = t
	}
	l.tail = t
}

func (l *threadList) remove() *Thread {
	t := l.head
	if t == nil {
		return nil
	}
	l.head = t.listNext
	if l.head == nil {
		l.tail = nil
	} else {
		t.listNext = nil
	}
	return t
}

// append moves all of other onto the end of l, leaving other empty.
func (l *threadList) append(other *threadList) {
	if other.head == nil {
		return
	}
	if l.tail != nil {
		l.tail.listNext = other.head
	} else {
		l.head = other.head
	}
	l.tail = other.tail
	other.clear()
}

// Condition is a broadcast-only condition variable: there is no
// single-wake primitive, matching the distilled spec's note that every
// wakeup resumes the entire wait list (distilled spec §4.6).
type Condition struct {
	mgr  *Manager
	name string
	list threadList
}

func newCondition(mgr *Manager, name string) *Condition {
	return &Condition{mgr: mgr, name: name}
}

// Name returns the condition's descriptive name, used only for
// diagnostics.
func (c *Condition) Name() string { return c.name }

// Wait suspends cur until the next broadcast on c, in FIFO order among
// other waiters (invariant T2).
func (c *Condition) Wait(cur *Thread) {
	if cur.State() != Running {
		Fatal("condition_wait called by non-running thread %q", cur.name)
	}

	cur.mgr.mu.Lock()
	cur.state = Waiting
	cur.waitCond = c
	c.list.insert(cur)
	cur.mgr.mu.Unlock()

	cur.mgr.suspendSelf(cur)
}

// Broadcast marks every waiter on c Ready and moves them to the back of
// the ready queue in their original wait order (invariant T2), then
// returns without blocking. A broadcast with no waiters is a no-op.
func (c *Condition) Broadcast() {
	c.mgr.mu.Lock()
	if c.list.empty() {
		c.mgr.mu.Unlock()
		return
	}
	for t := c.list.head; t != nil; t = t.listNext {
		if t.state != Waiting || t.waitCond != c {
			c.mgr.mu.Unlock()
			Fatal("broadcast found a waiter in an inconsistent state")
		}
		t.state = Ready
		t.waitCond = nil
	}
	c.mgr.readyList.append(&c.list)
	c.mgr.mu.Unlock()
	c.mgr.intr.Notify()
}
