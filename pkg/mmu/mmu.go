// Package mmu models the translation structures of a 32-bit machine
// with two-level page tables: a page directory whose entries point at
// page tables, whose entries in turn map 4KB pages. The monitor edits
// these structures through EntryRef handles.
package mmu

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/kmon-debug/kmon/pkg/logflags"
)

const (
	// PageSize is the size of a page and of a physical frame in bytes.
	PageSize = 4096
	// PageShift is log2(PageSize).
	PageShift = 12

	entriesPerTable = PageSize / 4

	// AddrMask extracts the physical frame address from an entry.
	AddrMask uint32 = 0xfffff000
)

// Permission bits of a page table entry.
const (
	FlagPresent  uint32 = 0x1
	FlagWritable uint32 = 0x2
	FlagUser     uint32 = 0x4
)

var (
	// ErrOutOfMemory is returned when the physical frame pool is exhausted.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrNotMapped is returned by a non-allocating walk when an
	// intermediate table is absent.
	ErrNotMapped = errors.New("address not mapped")
)

// A frame is one 4KB physical frame, addressed in 32-bit words.
type frame [entriesPerTable]uint32

// Memory is a bounded pool of physical frames. Frames are handed out
// zeroed and are never returned; the monitor core never frees
// translation structures.
type Memory struct {
	frames map[uint32]*frame
	next   uint32
	limit  int
	log    *logrus.Entry
}

// NewMemory returns a Memory that can allocate up to limit frames.
// A limit of zero or less means no limit.
func NewMemory(limit int) *Memory {
	return &Memory{
		frames: make(map[uint32]*frame),
		next:   PageSize, // frame 0 stays unused so 0 can act as a nil address
		limit:  limit,
		log:    logflags.MMULogger(),
	}
}

// AllocFrame allocates one zeroed frame and returns its physical address.
func (m *Memory) AllocFrame() (uint32, error) {
	if m.limit > 0 && len(m.frames) >= m.limit {
		return 0, ErrOutOfMemory
	}
	pa := m.next
	m.next += PageSize
	m.frames[pa] = new(frame)
	m.log.Debugf("alloc frame %#08x", pa)
	return pa, nil
}

// FramesAllocated returns the number of frames handed out so far.
func (m *Memory) FramesAllocated() int {
	return len(m.frames)
}

func (m *Memory) frameAt(pa uint32) *frame {
	return m.frames[pa&AddrMask]
}

// WordAt reads the 32-bit word at physical address pa. Reading a
// physical address outside any allocated frame yields zero.
func (m *Memory) WordAt(pa uint32) uint32 {
	f := m.frameAt(pa)
	if f == nil {
		return 0
	}
	return f[(pa&^AddrMask)>>2]
}

// SetWordAt writes the 32-bit word at physical address pa. Writes to
// unallocated frames are dropped.
func (m *Memory) SetWordAt(pa, val uint32) {
	f := m.frameAt(pa)
	if f == nil {
		return
	}
	f[(pa&^AddrMask)>>2] = val
}

// EntryRef is a handle on one live page table entry. Load, SetFlags and
// ClearFlags operate directly on the entry storage with no atomicity
// guarantee; the monitor runs single-threaded.
type EntryRef struct {
	f   *frame
	idx int
}

// Valid reports whether the handle refers to entry storage.
func (e EntryRef) Valid() bool { return e.f != nil }

// Load returns the raw entry value.
func (e EntryRef) Load() uint32 { return e.f[e.idx] }

// Store overwrites the raw entry value.
func (e EntryRef) Store(val uint32) { e.f[e.idx] = val }

// SetFlags sets the given permission bits on the entry.
func (e EntryRef) SetFlags(flags uint32) { e.f[e.idx] |= flags }

// ClearFlags clears the given permission bits on the entry.
func (e EntryRef) ClearFlags(flags uint32) { e.f[e.idx] &^= flags }

// Present reports whether the entry maps a page.
func (e EntryRef) Present() bool { return e.f[e.idx]&FlagPresent != 0 }

// PageDir is a two-level page table rooted at a directory frame.
type PageDir struct {
	mem  *Memory
	root uint32
}

// NewPageDir allocates an empty page directory in mem.
func NewPageDir(mem *Memory) (*PageDir, error) {
	root, err := mem.AllocFrame()
	if err != nil {
		return nil, err
	}
	return &PageDir{mem: mem, root: root}, nil
}

// Root returns the physical address of the directory frame.
func (pd *PageDir) Root() uint32 { return pd.root }

func dirIndex(va uint32) int   { return int(va >> 22) }
func tableIndex(va uint32) int { return int(va>>PageShift) & (entriesPerTable - 1) }

// Walk returns a handle on the leaf entry for va. With alloc set a
// missing intermediate page table is allocated; otherwise ErrNotMapped
// is returned. Walk never touches the leaf entry itself, so looking up
// an unmapped page still succeeds and yields a non-present entry.
func (pd *PageDir) Walk(va uint32, alloc bool) (EntryRef, error) {
	dir := pd.mem.frameAt(pd.root)
	de := &dir[dirIndex(va)]
	if *de&FlagPresent == 0 {
		if !alloc {
			return EntryRef{}, ErrNotMapped
		}
		pa, err := pd.mem.AllocFrame()
		if err != nil {
			return EntryRef{}, err
		}
		// Intermediate entries carry the widest permissions; the leaf
		// entry is what the monitor inspects and edits.
		*de = pa | FlagPresent | FlagWritable | FlagUser
		pd.mem.log.Debugf("walk %#08x: new page table at %#08x", va, pa)
	}
	table := pd.mem.frameAt(*de)
	return EntryRef{f: table, idx: tableIndex(va)}, nil
}

// Map allocates a fresh frame for the page containing va and installs
// it with the given permission bits (FlagPresent is implied). Used by
// machine builders; the monitor itself only toggles bits on existing
// entries.
func (pd *PageDir) Map(va, flags uint32) (uint32, error) {
	pte, err := pd.Walk(va, true)
	if err != nil {
		return 0, err
	}
	pa, err := pd.mem.AllocFrame()
	if err != nil {
		return 0, err
	}
	pte.Store(pa | (flags &^ AddrMask) | FlagPresent)
	return pa, nil
}

// Translate returns the physical address backing va, if the page is
// mapped and present.
func (pd *PageDir) Translate(va uint32) (uint32, bool) {
	pte, err := pd.Walk(va, false)
	if err != nil || !pte.Present() {
		return 0, false
	}
	return pte.Load()&AddrMask | va&^AddrMask, true
}

// ReadWord reads the 32-bit word at virtual address va. Reads through
// unmapped addresses yield zero; validity is the operator's burden.
func (pd *PageDir) ReadWord(va uint32) uint32 {
	pa, ok := pd.Translate(va)
	if !ok {
		return 0
	}
	return pd.mem.WordAt(pa)
}

// WriteWord writes the 32-bit word at virtual address va. Writes
// through unmapped addresses are dropped.
func (pd *PageDir) WriteWord(va, val uint32) {
	pa, ok := pd.Translate(va)
	if !ok {
		return
	}
	pd.mem.SetWordAt(pa, val)
}
