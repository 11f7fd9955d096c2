package thread

import (
	"strings"
	"testing"

	"github.com/arctir/kernelcore/kernel/io"
	"github.com/arctir/kernelcore/kernel/mach"
)

func newTestManager(t *testing.T) (*Manager, *mach.Memory) {
	t.Helper()
	mem := mach.NewMemory()
	intr := mach.NewInterrupts()
	proc := mach.NewSimpleProcess(mem.NewAddressSpace())
	return NewManager(ManagerConfig{Threads: 8}, mem, intr, proc), mem
}

// T1: the ready queue is strictly FIFO -- three threads spawned in order
// must resume (and, since each just records its name and exits, finish)
// in that same order.
func TestReadyQueueFIFOOrder(t *testing.T) {
	mgr, _ := newTestManager(t)

	var order []string
	names := []string{"alpha", "beta", "gamma"}
	for _, n := range names {
		name := n
		mgr.Spawn(mgr.Main(), name, func(arg any) {
			order = append(order, name)
		}, nil)
	}

	for range names {
		mgr.Main().JoinAny()
	}

	got := strings.Join(order, ",")
	want := strings.Join(names, ",")
	if got != want {
		t.Fatalf("resume order = %q, want %q", got, want)
	}
}

// T2: broadcast resumes waiters in the order they called Wait, not in
// reverse or in arbitrary order.
func TestConditionBroadcastPreservesWaitOrder(t *testing.T) {
	mgr, _ := newTestManager(t)
	cv := mgr.NewCondition("test.cv")

	var woken []string
	names := []string{"alpha", "beta", "gamma"}
	for _, n := range names {
		name := n
		var self *Thread
		self = mgr.Spawn(mgr.Main(), name, func(arg any) {
			cv.Wait(self)
			woken = append(woken, name)
		}, nil)
	}

	mgr.Main().Yield()
	cv.Broadcast()

	for range names {
		mgr.Main().JoinAny()
	}

	got := strings.Join(woken, ",")
	want := strings.Join(names, ",")
	if got != want {
		t.Fatalf("wake order = %q, want %q", got, want)
	}
}

// T3: when a parent exits before its child, the child is reparented to
// the grandparent on recycle, and the grandparent can join it directly
// afterward.
func TestJoinReparentsOrphanedGrandchildren(t *testing.T) {
	mgr, _ := newTestManager(t)

	var grandchildTid int
	var parentT *Thread
	parentT = mgr.Spawn(mgr.Main(), "parent", func(arg any) {
		var gcT *Thread
		gcT = mgr.Spawn(parentT, "grandchild", func(arg any) {
			gcT.Yield()
		}, nil)
		grandchildTid = gcT.ID()
	}, nil)

	if _, err := mgr.Main().Join(parentT.ID()); err != nil {
		t.Fatalf("joining parent: %s", err)
	}

	gotTid := mgr.Main().JoinAny()
	if gotTid != grandchildTid {
		t.Fatalf("JoinAny returned tid %d, want reparented grandchild tid %d", gotTid, grandchildTid)
	}
}

// T4: a thread's kernel-stack page is freed exactly once, by whichever
// thread is scheduled next after it exits -- never by the thread itself.
// mach.Memory panics on a double free or an unknown page, so a clean
// pass through several spawn/exit cycles without a panic is the
// property under test.
func TestExitedThreadStackFreedExactlyOnce(t *testing.T) {
	mgr, _ := newTestManager(t)

	for i := 0; i < 5; i++ {
		var self *Thread
		self = mgr.Spawn(mgr.Main(), "ephemeral", func(arg any) {
			self.Yield()
		}, nil)
		mgr.Main().JoinAny()
	}
}

// T5: fork_to_user gives the parent the child's tid as its return value,
// and the child observes a zeroed A0 in its copy of the trap frame.
func TestForkReturnValues(t *testing.T) {
	mgr, _ := newTestManager(t)

	parentFrame := mach.TrapFrame{A0: 0xfeed}
	childProc := mach.NewSimpleProcess(42)

	var childA0 uint64
	done := make(chan struct{})
	childTid := mgr.ForkToUser(mgr.Main(), childProc, parentFrame, func(frame mach.TrapFrame) {
		childA0 = frame.A0
		close(done)
	})

	<-done
	if _, err := mgr.Main().Join(childTid); err != nil {
		t.Fatalf("joining forked child: %s", err)
	}

	if childTid <= 0 {
		t.Fatalf("fork_to_user returned non-positive tid %d", childTid)
	}
	if childA0 != 0 {
		t.Fatalf("child observed A0 = %d, want 0", childA0)
	}
	if parentFrame.A0 != 0xfeed {
		t.Fatalf("fork_to_user mutated the parent's own trap frame copy")
	}
}

// Running reports whichever thread is currently scheduled, updated both
// by ordinary scheduler handoffs and by fork_to_user's direct switch into
// the child.
func TestRunningReportsScheduledThread(t *testing.T) {
	mgr, _ := newTestManager(t)

	if got := mgr.Running(); got != MainTID {
		t.Fatalf("Running() before any handoff = %d, want main's tid %d", got, MainTID)
	}

	var observed int
	var self *Thread
	self = mgr.Spawn(mgr.Main(), "solo", func(arg any) {
		observed = mgr.Running()
	}, nil)

	mgr.Main().JoinAny()
	if observed != self.ID() {
		t.Fatalf("Running() inside the spawned thread = %d, want its own tid %d", observed, self.ID())
	}
	if got := mgr.Running(); got != MainTID {
		t.Fatalf("Running() after the spawned thread exited = %d, want main's tid %d", got, MainTID)
	}
}

// fork_to_user switches the live address space to the child's process tag
// before the child runs, and the scheduler switches back once the parent
// is scheduled again (original_source/src/kern/thread.c:343, :643).
func TestForkToUserSwitchesAddressSpace(t *testing.T) {
	mgr, mem := newTestManager(t)

	mainTag := mgr.Main().Process().MTag()
	childProc := mach.NewSimpleProcess(mainTag + 1)

	var tagDuringChild int
	done := make(chan struct{})
	childTid := mgr.ForkToUser(mgr.Main(), childProc, mach.TrapFrame{}, func(mach.TrapFrame) {
		tagDuringChild = mem.CurrentTag()
		close(done)
	})
	<-done

	if tagDuringChild != childProc.MTag() {
		t.Fatalf("address space during child = %d, want child's tag %d", tagDuringChild, childProc.MTag())
	}

	if _, err := mgr.Main().Join(childTid); err != nil {
		t.Fatalf("joining forked child: %s", err)
	}

	if got := mem.CurrentTag(); got != mainTag {
		t.Fatalf("address space after rejoining main = %d, want main's tag %d", got, mainTag)
	}
}

// JumpToUser records the requested user entry point rather than actually
// transferring control -- there is no user-mode code in this simulator
// for the jump to land in.
func TestJumpToUserRecordsEntryPoint(t *testing.T) {
	mgr, _ := newTestManager(t)

	main := mgr.Main()
	if main.UserSP() != 0 || main.UserPC() != 0 {
		t.Fatalf("UserSP/UserPC before any jump = %d/%d, want 0/0", main.UserSP(), main.UserPC())
	}

	main.JumpToUser(0x7fff0000, 0x10000)
	if got := main.UserSP(); got != 0x7fff0000 {
		t.Fatalf("UserSP after jump = %#x, want %#x", got, 0x7fff0000)
	}
	if got := main.UserPC(); got != 0x10000 {
		t.Fatalf("UserPC after jump = %#x, want %#x", got, 0x10000)
	}
}

// A thread created by ForkToUser owns its process outright; when it
// exits, the process's open files are released (refcount drops back to
// what it was before the fork). A thread created by Spawn shares its
// parent's process and must not trigger that release on its own exit.
func TestForkedThreadExitReleasesProcessFiles(t *testing.T) {
	mgr, _ := newTestManager(t)

	parentProc := mach.NewSimpleProcess(1)
	fd := parentProc.Files.Open(io.NewLiteral(make([]byte, 8)))
	h, _ := parentProc.Files.Get(fd)

	childProc := mach.NewSimpleProcess(2)
	childProc.Files = parentProc.Files.Clone()

	if got := h.Header().RefCount(); got != 2 {
		t.Fatalf("refcount after cloning into the child process = %d, want 2", got)
	}

	done := make(chan struct{})
	childTid := mgr.ForkToUser(mgr.Main(), childProc, mach.TrapFrame{}, func(mach.TrapFrame) {
		close(done)
	})
	<-done

	if _, err := mgr.Main().Join(childTid); err != nil {
		t.Fatalf("joining forked child: %s", err)
	}

	if got := h.Header().RefCount(); got != 1 {
		t.Fatalf("refcount after forked child exited = %d, want 1", got)
	}
}

// JoinAny called by a thread with no children is a structural bug and
// must panic, never return an error code.
func TestJoinAnyPanicsWhenChildless(t *testing.T) {
	mgr, _ := newTestManager(t)

	var self *Thread
	child := mgr.Spawn(mgr.Main(), "solo", func(arg any) {
		defer func() {
			if recover() == nil {
				t.Errorf("join_any on a childless thread did not panic")
			}
		}()
		self.JoinAny()
	}, nil)
	self = child

	if _, err := mgr.Main().Join(child.ID()); err != nil {
		t.Fatalf("joining solo thread: %s", err)
	}
}

// Join rejects an out-of-range or non-child tid with ErrInvalid rather
// than panicking: this is caller-recoverable, unlike a join protocol
// violation against a real child.
func TestJoinRejectsInvalidTarget(t *testing.T) {
	mgr, _ := newTestManager(t)

	if _, err := mgr.Main().Join(0); err != ErrInvalid {
		t.Fatalf("Join(0) = %v, want ErrInvalid", err)
	}
	if _, err := mgr.Main().Join(999); err != ErrInvalid {
		t.Fatalf("Join(999) = %v, want ErrInvalid", err)
	}

	other := mgr.Spawn(mgr.Main(), "not-my-child", func(arg any) {}, nil)
	mgr.Main().JoinAny()

	if _, err := mgr.Main().Join(other.ID()); err != ErrInvalid {
		t.Fatalf("joining an already-recycled tid = %v, want ErrInvalid", err)
	}
}
