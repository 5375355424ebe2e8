// Package kernel assembles the simulated machine the monitor inspects:
// a physical frame pool, a page directory, mapped memory with a saved
// frame-pointer chain, a symbol table and an optional trap frame.
package kernel

import (
	"github.com/sirupsen/logrus"

	"github.com/kmon-debug/kmon/pkg/mmu"
	"github.com/kmon-debug/kmon/pkg/monitor"
	"github.com/kmon-debug/kmon/pkg/sym"
)

// Machine is a simulated 32-bit kernel image. It implements the
// monitor.Kernel boundary.
type Machine struct {
	mem    *mmu.Memory
	pgdir  *mmu.PageDir
	syms   *sym.Table
	layout monitor.Layout
	fp     uint32
	trap   *TrapFrame
	log    *logrus.Entry
}

// Lookup returns the page table entry backing va, allocating
// intermediate tables when alloc is set.
func (k *Machine) Lookup(va uint32, alloc bool) (monitor.PageEntry, error) {
	pte, err := k.pgdir.Walk(va, alloc)
	if err != nil {
		return nil, err
	}
	return pte, nil
}

// ReadWord reads the word at virtual address va. Unmapped reads yield
// zero; validity is the operator's burden.
func (k *Machine) ReadWord(va uint32) uint32 {
	return k.pgdir.ReadWord(va)
}

// Resolve maps an instruction address to symbol information.
func (k *Machine) Resolve(pc uint32) monitor.SymbolInfo {
	info := k.syms.Resolve(pc)
	return monitor.SymbolInfo{File: info.File, Line: info.Line, FnName: info.FnName, FnAddr: info.FnAddr}
}

// FuncsMatching lists function symbols matching the pattern.
func (k *Machine) FuncsMatching(pattern string) ([]string, error) {
	return k.syms.FuncsMatching(pattern)
}

// FuncsWithPrefix lists function symbols with the given prefix.
func (k *Machine) FuncsWithPrefix(prefix string) []string {
	return k.syms.FuncsWithPrefix(prefix)
}

// CurrentFrame returns the saved frame pointer of the innermost frame.
func (k *Machine) CurrentFrame() uint32 {
	return k.fp
}

// Layout returns the special kernel symbols.
func (k *Machine) Layout() monitor.Layout {
	return k.layout
}

// Trap returns the captured trap frame, or nil if the monitor was
// entered without one.
func (k *Machine) Trap() *TrapFrame {
	return k.trap
}

// PageDir exposes the machine's page directory.
func (k *Machine) PageDir() *mmu.PageDir {
	return k.pgdir
}

// Memory exposes the machine's physical frame pool.
func (k *Machine) Memory() *mmu.Memory {
	return k.mem
}

var _ monitor.Kernel = (*Machine)(nil)

// Demo returns a machine resembling a freshly booted kernel: text and
// data mapped below a high kernel base, a few user pages, a small
// symbol table and a four-deep call chain on the kernel stack.
func Demo() *Machine {
	img := Image{
		Layout: LayoutSpec{
			KernBase: 0xf0000000,
			Start:    0x0010000c,
			Entry:    0xf010000c,
			Etext:    0xf0101a75,
			Edata:    0xf0112300,
			End:      0xf0117950,
		},
		Mappings: []MappingSpec{
			{Va: 0x00001000, Count: 4, Perm: "wu"},
			{Va: 0xf0100000, Count: 24, Perm: "w"},
		},
		Words: []WordsSpec{
			{Va: 0x00001000, Values: []uint32{0xdeadbeef, 0xcafebabe, 0x00000042}},
		},
		Funcs: []sym.Func{
			{Name: "i386_init", File: "kern/init.c", Line: 24, Entry: 0xf0100100, Size: 0xc0},
			{Name: "monitor", File: "kern/monitor.c", Line: 131, Entry: 0xf0100200, Size: 0x100},
			{Name: "runcmd", File: "kern/monitor.c", Line: 92, Entry: 0xf0100300, Size: 0xa0},
			{Name: "mon_backtrace", File: "kern/monitor.c", Line: 68, Entry: 0xf0100400, Size: 0x60},
		},
		Stack: []FrameSpec{
			{Ret: 0xf0100412, Args: []uint32{1, 0xf0109e80, 0xf0109e98}},
			{Ret: 0xf0100357, Args: []uint32{3, 0xf0109ec0, 0}},
			{Ret: 0xf0100262, Args: []uint32{0}},
			{Ret: 0xf010015e, Args: []uint32{0, 0, 0, 0, 0}},
		},
	}
	k, err := NewMachine(img)
	if err != nil {
		// The demo image is static and small; failing to build it is a
		// programming error.
		panic(err)
	}
	return k
}
