package thread

import (
	"context"
	"errors"
	"sync"

	"github.com/arctir/kernelcore/kernel/mach"
)

// MainTID is the fixed slot the main thread always occupies; the idle
// thread always occupies the last slot (Manager.idleTID), matching the
// original's MAIN_TID/IDLE_TID layout.
const MainTID = 0

// ErrInvalid is returned by Join for an out-of-range or non-child tid.
var ErrInvalid = errors.New("thread: invalid join target")

// ManagerConfig configures a Manager's thread table capacity.
type ManagerConfig struct {
	// Threads is the maximum number of live threads, including main and
	// idle. Defaults to 16 (NTHR in the original) if zero.
	Threads int
}

// Manager owns the thread table, the ready queue, and the external
// collaborators (memory, interrupts) the scheduler consults. Exactly one
// Manager should exist per simulated machine; its mutex plays the role
// interrupt-disable plays in the original single-CPU target.
type Manager struct {
	mu        sync.Mutex
	table     []*Thread
	readyList threadList
	mem       *mach.Memory
	intr      *mach.Interrupts
	idleTID   int

	main    *Thread
	idle    *Thread
	current *Thread
}

// NewManager constructs a Manager, its main thread (already RUNNING, slot
// MainTID), and its idle thread (READY, enqueued, running runIdle once
// scheduled). mem and intr are the collaborators the scheduler and
// fork path consult; proc is the process the main thread starts in.
func NewManager(cfg ManagerConfig, mem *mach.Memory, intr *mach.Interrupts, proc mach.Process) *Manager {
	n := cfg.Threads
	if n == 0 {
		n = 16
	}

	m := &Manager{
		table:   make([]*Thread, n),
		mem:     mem,
		intr:    intr,
		idleTID: n - 1,
	}

	main := &Thread{
		mgr:    m,
		id:     MainTID,
		name:   "main",
		resume: make(chan *Thread, 1),
		state:  Running,
		proc:   proc,
	}
	main.childExit = newCondition(m, "main.child_exit")
	m.table[MainTID] = main
	m.main = main
	m.current = main

	idle := &Thread{
		mgr:    m,
		id:     m.idleTID,
		name:   "idle",
		resume: make(chan *Thread, 1),
		state:  Ready,
		parent: main,
	}
	idle.childExit = newCondition(m, "idle.child_exit")
	m.table[m.idleTID] = idle
	m.idle = idle
	m.readyList.insert(idle)

	go m.runIdle(idle)

	return m
}

// Main returns the manager's main thread handle.
func (m *Manager) Main() *Thread { return m.main }

// Running returns the tid of the thread currently scheduled on this
// manager's one logical CPU, mirroring running_thread().
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.id
}

// NewCondition creates a standalone condition variable on this manager,
// for callers that need a condition not tied to a particular thread's
// child-exit notifications.
func (m *Manager) NewCondition(name string) *Condition {
	return newCondition(m, name)
}

// allocSlot finds a free thread-table slot, or -1 if the table is full.
// Callers must hold m.mu.
func (m *Manager) allocSlot() int {
	for i := 1; i < len(m.table); i++ {
		if m.table[i] == nil {
			return i
		}
	}
	return -1
}

// Spawn creates a new thread belonging to cur's process, in the Ready
// state and enqueued at the back of the ready list. start is invoked with
// arg the first time the new thread is scheduled; when start returns the
// thread exits. Spawn returns the new thread's handle without yielding
// the caller.
func (m *Manager) Spawn(cur *Thread, name string, start func(arg any), arg any) *Thread {
	m.mu.Lock()
	tid := m.allocSlot()
	if tid < 0 {
		m.mu.Unlock()
		Fatal("too many threads")
	}
	page := m.mem.AllocPage()
	child := &Thread{
		mgr:       m,
		id:        tid,
		name:      name,
		resume:    make(chan *Thread, 1),
		stackPage: page,
		state:     Ready,
		proc:      cur.proc,
		parent:    cur,
	}
	child.childExit = newCondition(m, name+".child_exit")
	m.table[tid] = child
	m.readyList.insert(child)
	m.mu.Unlock()
	m.intr.Notify()

	go func() {
		pred := <-child.resume
		m.reclaimIfExited(pred)
		start(arg)
		m.Exit(child)
	}()

	return child
}

// reclaimIfExited frees pred's kernel-stack page if pred has exited. This
// is the "stack freed by the successor, never by the thread itself"
// handoff: whichever thread is resumed after an exited thread's last
// suspend is the one that frees its page (invariant T4).
func (m *Manager) reclaimIfExited(pred *Thread) {
	if pred == nil {
		return
	}
	m.mu.Lock()
	exited := pred.state == Exited && pred.stackPage != nil
	var page *mach.Page
	if exited {
		page = pred.stackPage
		pred.stackPage = nil
	}
	m.mu.Unlock()
	if exited {
		m.mem.FreePage(page)
	}
}

// suspendSelf is the scheduler core. It picks the head of the ready
// queue, marks it Running, demotes cur to Ready and enqueues it if cur is
// still Running (a thread that suspended itself to wait or exit is not
// re-enqueued), switches the address space if the incoming thread belongs
// to a different process, hands off the baton, and blocks until some
// later suspend hands the baton back. It only returns once cur is
// scheduled again.
func (m *Manager) suspendSelf(cur *Thread) {
	m.mu.Lock()
	next := m.readyList.remove()
	if next == nil {
		m.mu.Unlock()
		Fatal("suspend_self called with an empty ready list")
	}
	next.state = Running
	if cur.state == Running {
		cur.state = Ready
		m.readyList.insert(cur)
	}
	m.current = next
	nextProc := next.proc
	m.mu.Unlock()

	if nextProc != nil && nextProc.MTag() != m.mem.CurrentTag() {
		m.mem.SpaceSwitch(nextProc.MTag())
	}

	next.resume <- cur
	pred := <-cur.resume
	m.reclaimIfExited(pred)
}

// Yield voluntarily gives up the CPU, re-entering the ready queue behind
// any thread already waiting. cur must be Running.
func (t *Thread) Yield() {
	if t.State() != Running {
		Fatal("yield called by non-running thread %q", t.name)
	}
	t.mgr.suspendSelf(t)
}

// Exit marks cur Exited, wakes its parent's child_exit condition, and
// suspends permanently; Exit never returns. Calling Exit for the main
// thread is a structural bug: it panics via Fatal instead of suspending.
func (m *Manager) Exit(cur *Thread) {
	if cur == m.main {
		Fatal("main thread exited")
	}

	m.mu.Lock()
	cur.state = Exited
	parent := cur.parent
	ownsProcess := cur.ownsProcess
	proc := cur.proc
	m.mu.Unlock()

	if ownsProcess {
		if closer, ok := proc.(interface{ CloseAll() }); ok {
			closer.CloseAll()
		}
	}

	if parent == nil {
		Fatal("exiting thread has no parent")
	}
	parent.childExit.Broadcast()

	m.suspendSelf(cur)
	Fatal("exit failed to suspend")
}

// recycle reclaims tid's thread-table slot and reparents its children to
// its own parent (orphan reparenting, invariant T3). Callers must already
// know m.table[tid] is Exited.
func (m *Manager) recycle(tid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thr := m.table[tid]
	if thr == nil || thr.state != Exited {
		Fatal("recycle_thread called on invalid slot %d", tid)
	}

	for ctid := 1; ctid < len(m.table); ctid++ {
		child := m.table[ctid]
		if child != nil && child.parent == thr {
			child.parent = thr.parent
		}
	}
	m.table[tid] = nil
}

// Join waits for the specific child tid to exit, then recycles it and
// returns its tid. It fails with ErrInvalid if tid is out of range or is
// not a child of cur still in the thread table (a child that has already
// exited but not yet been recycled is joined immediately).
func (t *Thread) Join(tid int) (int, error) {
	m := t.mgr
	if tid <= 0 || tid >= len(m.table) {
		return 0, ErrInvalid
	}

	m.mu.Lock()
	child := m.table[tid]
	m.mu.Unlock()
	if child == nil || child.parent != t {
		return 0, ErrInvalid
	}

	for {
		m.mu.Lock()
		exited := child.state == Exited
		m.mu.Unlock()
		if exited {
			break
		}
		t.childExit.Wait(t)
	}

	m.recycle(tid)
	return tid, nil
}

// JoinAny waits for any child of cur to exit, then recycles it and
// returns its tid. It panics if cur has no children at all -- the
// original treats this as a programming error in the caller, not a
// recoverable condition.
func (t *Thread) JoinAny() int {
	m := t.mgr

	for {
		m.mu.Lock()
		childCount := 0
		for tid := 1; tid < len(m.table); tid++ {
			child := m.table[tid]
			if child == nil || child.parent != t {
				continue
			}
			if child.state == Exited {
				m.mu.Unlock()
				m.recycle(tid)
				return tid
			}
			childCount++
		}
		m.mu.Unlock()

		if childCount == 0 {
			Fatal("join_any called by a childless thread")
		}

		t.childExit.Wait(t)

		m.mu.Lock()
		for tid := 1; tid < len(m.table); tid++ {
			child := m.table[tid]
			if child != nil && child.parent == t && child.state == Exited {
				m.mu.Unlock()
				m.recycle(tid)
				return tid
			}
		}
		m.mu.Unlock()
		Fatal("spurious child_exit signal")
	}
}

// ForkToUser clones cur into a new thread belonging to childProc. The
// child is scheduled immediately (Running) while cur is demoted to Ready
// and enqueued, matching the original's thread_fork_to_user, which
// switches directly into the child rather than merely making it
// runnable. childFrame is parentFrame with A0 zeroed, the child's view
// of the shared trap-frame snapshot (invariant: parent's return value is
// the child's tid; child's return value is 0); childEntry is invoked with
// childFrame the first time the child thread runs, standing in for the
// child's own path back through the trap return. ForkToUser returns the
// new thread's tid to the parent's caller.
func (m *Manager) ForkToUser(cur *Thread, childProc mach.Process, parentFrame mach.TrapFrame, childEntry func(mach.TrapFrame)) int {
	m.mu.Lock()
	tid := m.allocSlot()
	if tid < 0 {
		m.mu.Unlock()
		Fatal("too many threads")
	}
	page := m.mem.AllocPage()
	child := &Thread{
		mgr:         m,
		id:          tid,
		name:        "a forked thread",
		resume:      make(chan *Thread, 1),
		stackPage:   page,
		state:       Running,
		proc:        childProc,
		parent:      cur,
		ownsProcess: true,
	}
	child.childExit = newCondition(m, "forked.child_exit")
	m.table[tid] = child

	cur.state = Ready
	m.readyList.insert(cur)
	m.current = child
	m.mu.Unlock()
	m.intr.Notify()

	m.mem.SpaceSwitch(childProc.MTag())

	childFrame := parentFrame
	childFrame.A0 = 0

	go func() {
		pred := <-child.resume
		m.reclaimIfExited(pred)
		childEntry(childFrame)
		m.Exit(child)
	}()

	child.resume <- cur
	pred := <-cur.resume
	m.reclaimIfExited(pred)

	return tid
}

// runIdle is the idle thread's body: the Go analog of idle_thread_func.
// It yields whenever there is other ready work, and otherwise blocks on
// the interrupt controller's wait-for-interrupt primitive, checking the
// ready list again immediately beforehand under the same lock so a
// wakeup delivered between the check and the wait is never missed.
func (m *Manager) runIdle(idle *Thread) {
	pred := <-idle.resume // wait to be scheduled for the first time
	m.reclaimIfExited(pred)

	ctx := context.Background()
	for {
		m.mu.Lock()
		empty := m.readyList.empty()
		m.mu.Unlock()

		if !empty {
			idle.Yield()
			continue
		}

		prev := m.intr.Disable()
		m.mu.Lock()
		stillEmpty := m.readyList.empty()
		m.mu.Unlock()
		if stillEmpty {
			m.intr.WaitForInterrupt(ctx)
		}
		m.intr.Restore(prev)
	}
}
