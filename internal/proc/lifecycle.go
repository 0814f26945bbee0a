package proc

import (
	"bytes"
	"debug/elf"

	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/mem"
	"github.com/rvkern/rvkern/internal/util"
	"github.com/rvkern/rvkern/internal/vm"
)

// UserInit creates the very first process (spec.md §4.I's userinit):
// no parent, cwd set to the filesystem root, and body as the program
// it runs once scheduled. It starts body running in its own goroutine
// immediately, matching the hosted scheduling model types.go's package
// doc describes, and returns the new process's slot.
func (t *Table) UserInit(hart int32, body Body) (*Proc_t, defs.Err_t) {
	p, errno := t.alloc(hart)
	if errno != 0 {
		return nil, errno
	}
	p.SetName("userinit")
	p.Cwd = t.FS.Root(hart)
	p.body = body

	p.mu.Lock(hart)
	p.state = RUNNABLE
	p.mu.Unlock(hart)

	t.initProc = p
	t.run(hart, p)
	return p, 0
}

// run starts p.body in its own goroutine, transitioning RUNNABLE ->
// RUNNING before the call and reaping into ZOMBIE via Exit(0) if body
// returns without calling Exit itself (mirroring a user program simply
// falling off the end of main instead of calling exit(2) explicitly).
func (t *Table) run(hart int32, p *Proc_t) {
	p.mu.Lock(hart)
	p.state = RUNNING
	p.runStart = p.Acct.Now()
	p.mu.Unlock(hart)

	go func() {
		if p.body != nil {
			p.body(hart, p)
		}
		p.mu.Lock(hart)
		exited := p.exited
		p.mu.Unlock(hart)
		if !exited {
			t.Exit(hart, p, 0)
		}
	}()
}

// Fork duplicates parent into a new process slot: a copied address
// space (vm.Uvmcopy), duplicated open files and cwd, and the same
// Trapframe contents with A0 zeroed for the child's "return value"
// (spec.md §4.I's fork semantics — parent sees the child's pid,
// child sees 0). childBody is the code the new process runs; a real
// fork(2) has the child resume at the same program counter as the
// parent, but since a Body closure here already stands in for "the
// program", the caller supplies what the child-side branch of that
// program does, same as a test harness or a shell's fork+exec would
// decide separately for each side of the fork.
func (t *Table) Fork(hart int32, parent *Proc_t, childBody Body) (defs.Pid_t, defs.Err_t) {
	child, errno := t.alloc(hart)
	if errno != 0 {
		return 0, errno
	}

	if !parent.Pagetable.Uvmcopy(hart, child.Pagetable, parent.Sz) {
		t.freeSlot(hart, child)
		child.Pagetable.Unmap(hart, vm.TRAMPOLINE, 1, false)
		child.Pagetable.Freewalk(hart)
		return 0, -defs.ENOMEM
	}
	child.Sz = parent.Sz
	child.TF = parent.TF
	child.TF.A0 = 0
	child.Name = parent.Name
	child.body = childBody

	t.waitLock.Lock()
	child.parent = parent
	t.waitLock.Unlock()

	for i, of := range parent.Ofile {
		if of != nil {
			child.Ofile[i] = of.Dup(hart)
		}
	}
	if parent.Cwd != nil {
		child.Cwd = t.FS.Idup(hart, parent.Cwd)
	}

	p := child
	p.mu.Lock(hart)
	p.state = RUNNABLE
	p.mu.Unlock(hart)
	t.run(hart, p)

	return child.Pid, 0
}

// Exit tears down p: closes its open files, drops its cwd, reparents
// any live children to the init process (spec.md §4.I's "orphans go to
// init"), marks ZOMBIE with status, and wakes whoever is in Wait for
// it. p's address space is left mapped until Wait reaps the slot, so a
// parent's eventual Wait can still be meaningful even if it races
// Exit (spec.md §9's index+generation note covers slot reuse safety).
func (t *Table) Exit(hart int32, p *Proc_t, status int) {
	for i, of := range p.Ofile {
		if of != nil {
			of.Close(hart, int(p.Pid))
			p.Ofile[i] = nil
		}
	}
	if p.Cwd != nil {
		t.FS.LogBegin(hart)
		p.Cwd.Iput(hart, int(p.Pid))
		t.FS.LogEnd(hart, int(p.Pid))
		p.Cwd = nil
	}

	t.waitLock.Lock()
	reparented := false
	if t.initProc != nil && t.initProc != p {
		t.ForEach(func(c *Proc_t) {
			if c.parent == p {
				c.parent = t.initProc
				reparented = true
			}
		})
	}
	parent := p.parent
	t.waitLock.Unlock()

	p.mu.Lock(hart)
	p.Acct.Finish(p.runStart)
	p.xstate = status
	p.exited = true
	p.state = ZOMBIE
	p.mu.Unlock(hart)

	if reparented {
		t.Wakeup(t.initProc)
	}
	if parent != nil {
		t.Wakeup(parent)
	}
}

// Wait blocks until one of parent's children becomes a ZOMBIE, reaps
// it (frees its address space and process slot, merges its resource
// accounting into parent), and returns its pid and exit status.
// Returns -ECHILD immediately if parent has no children at all.
func (t *Table) Wait(hart int32, parent *Proc_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		haveChild := false
		var reaped *Proc_t
		t.waitLock.Lock()
		t.ForEach(func(c *Proc_t) {
			if c.parent != parent {
				return
			}
			haveChild = true
			if c.State() == ZOMBIE && reaped == nil {
				reaped = c
			}
		})
		if reaped != nil {
			pid := reaped.Pid
			xstate := reaped.Xstate()
			parent.Acct.Add(&reaped.Acct)
			reaped.Pagetable.Uvmdealloc(hart, reaped.Sz, 0)
			reaped.Pagetable.Unmap(hart, vm.TRAMPOLINE, 1, false)
			reaped.Pagetable.Freewalk(hart)
			t.freeSlot(hart, reaped)
			reaped.parent = nil
			t.waitLock.Unlock()
			return pid, xstate, 0
		}
		t.waitLock.Unlock()
		if !haveChild {
			return 0, 0, -defs.ECHILD
		}
		t.Sleep(hart, parent, parent)
		if parent.Killed() {
			return 0, 0, -defs.EINTR
		}
	}
}

// execImage is the result of parsing an ELF64 image: the entry point
// and the ordered PT_LOAD segments ready to be mapped.
type execImage struct {
	entry    uintptr
	segments []execSegment
}

type execSegment struct {
	va    uintptr
	flags uint64
	data  []byte
	memsz uintptr
}

// parseELF validates img as a 64-bit RISC-V executable and extracts
// its loadable segments, matching the subset of exec(2)'s ELF
// handling spec.md §4.I calls for: no dynamic linking, no interpreter,
// only PT_LOAD segments (Non-goal: shared objects).
func parseELF(img []byte) (*execImage, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return nil, -defs.EINVAL
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Type != elf.ET_EXEC || f.Machine != elf.EM_RISCV {
		return nil, -defs.EINVAL
	}

	out := &execImage{entry: uintptr(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, -defs.EINVAL
		}
		var perm uint64
		if prog.Flags&elf.PF_R != 0 {
			perm |= vm.PTE_R
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= vm.PTE_W
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= vm.PTE_X
		}
		out.segments = append(out.segments, execSegment{
			va:    uintptr(prog.Vaddr),
			flags: perm,
			data:  data,
			memsz: uintptr(prog.Memsz),
		})
	}
	if len(out.segments) == 0 {
		return nil, -defs.EINVAL
	}
	return out, 0
}

// Exec replaces p's address space with the program described by img
// and sets up argv on the new user stack, matching spec.md §4.I: build
// the new address space fully before tearing down the old one, so a
// failure midway leaves p running its previous image untouched. A
// guard page below the stack (mapped but with the user bit cleared)
// turns a stack overflow into a page fault rather than silent
// corruption of whatever is mapped below it.
func (t *Table) Exec(hart int32, p *Proc_t, img []byte, argv []string) defs.Err_t {
	image, errno := parseELF(img)
	if errno != 0 {
		return errno
	}

	newPt := vm.NewUserPagetable(t.Alloc, hart, t.trampolinePA)
	if newPt == nil {
		return -defs.ENOMEM
	}

	var maxva uintptr
	for _, seg := range image.segments {
		sz := seg.memsz
		if sz < uintptr(len(seg.data)) {
			sz = uintptr(len(seg.data))
		}
		end := util.Roundup(seg.va+sz, uintptr(mem.PGSIZE))
		if end > maxva {
			maxva = end
		}
	}

	sz, ok := newPt.Uvmalloc(hart, 0, maxva, vm.PTE_R|vm.PTE_W|vm.PTE_X)
	if !ok {
		newPt.Unmap(hart, vm.TRAMPOLINE, 1, false)
		newPt.Freewalk(hart)
		return -defs.ENOMEM
	}

	for _, seg := range image.segments {
		if errno := newPt.Copyout(hart, seg.va, seg.data); errno != 0 {
			newPt.Uvmdealloc(hart, sz, 0)
			newPt.Unmap(hart, vm.TRAMPOLINE, 1, false)
			newPt.Freewalk(hart)
			return errno
		}
	}

	// one guard page, then the user stack above the program image.
	sz = util.Roundup(sz, uintptr(mem.PGSIZE))
	guard := sz
	stackTop, ok := newPt.Uvmalloc(hart, sz, sz+2*mem.PGSIZE, vm.PTE_R|vm.PTE_W)
	if !ok {
		newPt.Uvmdealloc(hart, sz, 0)
		newPt.Unmap(hart, vm.TRAMPOLINE, 1, false)
		newPt.Freewalk(hart)
		return -defs.ENOMEM
	}
	newPt.Uvmclear(hart, guard)

	sp := stackTop
	argvPtrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := append([]byte(argv[i]), 0)
		sp -= uintptr(len(s))
		sp &^= 0xf
		if errno := newPt.Copyout(hart, sp, s); errno != 0 {
			newPt.Uvmdealloc(hart, stackTop, 0)
			newPt.Unmap(hart, vm.TRAMPOLINE, 1, false)
			newPt.Freewalk(hart)
			return errno
		}
		argvPtrs[i] = sp
	}

	// argv pointer array itself, NULL-terminated, just below the
	// strings it points at (the argc/argv calling convention exec(2)
	// hands off to _start).
	sp -= uintptr(len(argvPtrs)+1) * 8
	sp &^= 0xf
	argvTable := sp
	for i, av := range argvPtrs {
		var buf [8]byte
		le64(buf[:], uint64(av))
		if errno := newPt.Copyout(hart, argvTable+uintptr(i)*8, buf[:]); errno != 0 {
			newPt.Uvmdealloc(hart, stackTop, 0)
			newPt.Unmap(hart, vm.TRAMPOLINE, 1, false)
			newPt.Freewalk(hart)
			return errno
		}
	}
	var nul [8]byte
	newPt.Copyout(hart, argvTable+uintptr(len(argvPtrs))*8, nul[:])

	old := p.Pagetable
	oldSz := p.Sz
	p.Pagetable = newPt
	p.Sz = stackTop
	p.TF.Epc = uint64(image.entry)
	p.TF.Sp = uint64(sp)
	p.TF.A0 = uint64(len(argv))
	p.TF.A1 = uint64(argvTable)

	if old != nil {
		old.Uvmdealloc(hart, oldSz, 0)
		old.Unmap(hart, vm.TRAMPOLINE, 1, false)
		old.Freewalk(hart)
	}
	return 0
}

func le64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
