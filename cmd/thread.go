package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/arctir/kernelcore/internal/config"
	"github.com/arctir/kernelcore/kernel/mach"
	"github.com/arctir/kernelcore/kernel/thread"
)

// demoMachine is a throwaway Manager plus the collaborators it was built
// from, used by every "threads" subcommand to have something live to
// inspect. A real boot would construct exactly one of these for the
// machine's lifetime; a CLI invocation is short-lived, so each command
// builds its own.
type demoMachine struct {
	mgr  *thread.Manager
	mem  *mach.Memory
	intr *mach.Interrupts
}

func newDemoMachine(cfg config.Config) *demoMachine {
	mem := mach.NewMemory()
	intr := mach.NewInterrupts()
	proc := mach.NewSimpleProcess(mem.NewAddressSpace())
	return &demoMachine{
		mgr:  thread.NewManager(cfg.Manager, mem, intr, proc),
		mem:  mem,
		intr: intr,
	}
}

func newThreadsCmd(cfg config.Config) *cobra.Command {
	threadsCmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and drive the cooperative thread scheduler",
	}

	threadsCmd.AddCommand(newThreadsSpawnCmd(cfg))
	threadsCmd.AddCommand(newThreadsLsCmd(cfg))
	threadsCmd.AddCommand(newThreadsYieldAllCmd(cfg))
	threadsCmd.AddCommand(newThreadsDumpCmd(cfg))

	return threadsCmd
}

func newThreadsSpawnCmd(cfg config.Config) *cobra.Command {
	var count int

	c := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn worker threads and report their assigned ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDemoMachine(cfg)
			workers := spawnAndJoinAll(d, count, 0)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "State"})
			for _, w := range workers {
				table.Append([]string{strconv.Itoa(w.ID()), w.Name(), w.State().String()})
			}
			table.Render()
			return nil
		},
	}
	c.Flags().IntVar(&count, "count", 1, "number of worker threads to spawn")
	return c
}

func newThreadsLsCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "Spawn a small demo set, run it to completion, and list each thread's final state",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDemoMachine(cfg)
			workers := spawnAndJoinAll(d, 4, 2)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Final state"})
			for _, w := range workers {
				table.Append([]string{strconv.Itoa(w.ID()), w.Name(), w.State().String()})
			}
			table.Render()
			return nil
		},
	}
}

func newThreadsYieldAllCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "yield-all",
		Short: "Run a worker set through several yield rounds and report completion order",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDemoMachine(cfg)
			workers := spawnAndJoinAllOrdered(d, 4, 3)

			fmt.Println("exit order:")
			for _, tid := range workers {
				fmt.Printf("  tid %d\n", tid)
			}
			return nil
		},
	}
}

func newThreadsDumpCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <id>",
		Short: "Spawn a demo set and dump the internal state of one worker thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid thread id %q: %w", args[0], err)
			}

			d := newDemoMachine(cfg)
			workers := spawnThreads(d, id+1, 5)

			for _, w := range workers {
				if w.ID() == id {
					spew.Dump(w)
					return nil
				}
			}
			return fmt.Errorf("no thread with id %d in this demo set", id)
		},
	}
}

// spawnThreads spawns count worker threads, each yielding yields times
// before exiting, with each worker correctly capturing its own handle.
func spawnThreads(d *demoMachine, count, yields int) []*thread.Thread {
	workers := make([]*thread.Thread, count)
	for i := 0; i < count; i++ {
		idx := i
		name := "worker." + strconv.Itoa(idx)
		workers[idx] = d.mgr.Spawn(d.mgr.Main(), name, func(arg any) {
			self := workers[idx]
			for j := 0; j < yields; j++ {
				self.Yield()
			}
		}, nil)
	}
	return workers
}

// spawnAndJoinAll spawns count workers, joins every one of them in turn,
// and returns the handles (now Exited and recycled out of the thread
// table, but the handles themselves remain valid for inspection).
func spawnAndJoinAll(d *demoMachine, count, yields int) []*thread.Thread {
	workers := spawnThreads(d, count, yields)
	for range workers {
		d.mgr.Main().JoinAny()
	}
	return workers
}

// spawnAndJoinAllOrdered is spawnAndJoinAll but returns the tids in the
// order JoinAny actually observed them exit.
func spawnAndJoinAllOrdered(d *demoMachine, count, yields int) []int {
	spawnThreads(d, count, yields)
	order := make([]int, 0, count)
	for i := 0; i < count; i++ {
		order = append(order, d.mgr.Main().JoinAny())
	}
	return order
}
