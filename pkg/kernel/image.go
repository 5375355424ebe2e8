package kernel

import (
	"fmt"
	"io/ioutil"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/kmon-debug/kmon/pkg/logflags"
	"github.com/kmon-debug/kmon/pkg/mmu"
	"github.com/kmon-debug/kmon/pkg/monitor"
	"github.com/kmon-debug/kmon/pkg/sym"
)

// frameSlot is the stride, in bytes, between synthesized stack frames:
// saved frame pointer, return address and five argument words, rounded
// up to a power of two.
const frameSlot = 32

// defaultStackTop is where the synthesized kernel stack ends when the
// image does not say otherwise.
const defaultStackTop = 0xf0109000

// Image describes a machine to build. Numeric fields accept YAML hex
// literals (0x...).
type Image struct {
	// FrameLimit caps the physical frame pool; zero means unlimited.
	FrameLimit int `yaml:"frame-limit,omitempty"`

	Layout LayoutSpec `yaml:"layout"`

	// Mappings are pages to allocate and map before the monitor runs.
	Mappings []MappingSpec `yaml:"mappings,omitempty"`

	// Words are values to place in mapped memory.
	Words []WordsSpec `yaml:"words,omitempty"`

	// Funcs is the machine's symbol table.
	Funcs []sym.Func `yaml:"funcs,omitempty"`

	// Stack is the call chain, innermost frame first. Frames are laid
	// out below StackTop and linked through saved frame pointers; the
	// outermost frame carries the zero sentinel.
	Stack    []FrameSpec `yaml:"stack,omitempty"`
	StackTop uint32      `yaml:"stack-top,omitempty"`

	// Trap optionally supplies the trap frame the monitor was entered with.
	Trap *TrapFrame `yaml:"trap,omitempty"`
}

// LayoutSpec holds the special kernel symbols of the image.
type LayoutSpec struct {
	KernBase uint32 `yaml:"kernbase"`
	Start    uint32 `yaml:"start"`
	Entry    uint32 `yaml:"entry"`
	Etext    uint32 `yaml:"etext"`
	Edata    uint32 `yaml:"edata"`
	End      uint32 `yaml:"end"`
}

// MappingSpec maps Count pages starting at Va. Perm is a string of
// permission letters: 'w' for writable, 'u' for user-accessible.
// Present is always set for explicit mappings.
type MappingSpec struct {
	Va    uint32 `yaml:"va"`
	Count int    `yaml:"count"`
	Perm  string `yaml:"perm"`
}

func (m MappingSpec) flags() uint32 {
	flags := mmu.FlagPresent
	if strings.ContainsRune(m.Perm, 'w') {
		flags |= mmu.FlagWritable
	}
	if strings.ContainsRune(m.Perm, 'u') {
		flags |= mmu.FlagUser
	}
	return flags
}

// WordsSpec places consecutive 32-bit words at Va.
type WordsSpec struct {
	Va     uint32   `yaml:"va"`
	Values []uint32 `yaml:"values"`
}

// FrameSpec is one synthesized stack frame.
type FrameSpec struct {
	Ret  uint32   `yaml:"ret"`
	Args []uint32 `yaml:"args,omitempty"`
}

// LoadImage reads a YAML image description and builds the machine.
func LoadImage(path string) (*Machine, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var img Image
	if err := yaml.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("parsing %s: %v", path, err)
	}
	return NewMachine(img)
}

// NewMachine builds a Machine from the image description.
func NewMachine(img Image) (*Machine, error) {
	log := logflags.ImageLogger()

	mem := mmu.NewMemory(img.FrameLimit)
	pgdir, err := mmu.NewPageDir(mem)
	if err != nil {
		return nil, err
	}

	k := &Machine{
		mem:   mem,
		pgdir: pgdir,
		syms:  sym.NewTable(img.Funcs),
		layout: monitor.Layout{
			KernBase: img.Layout.KernBase,
			Start:    img.Layout.Start,
			Entry:    img.Layout.Entry,
			Etext:    img.Layout.Etext,
			Edata:    img.Layout.Edata,
			End:      img.Layout.End,
		},
		trap: img.Trap,
		log:  log,
	}

	for _, mp := range img.Mappings {
		for i := 0; i < mp.Count; i++ {
			va := mp.Va + uint32(i)*mmu.PageSize
			if _, err := pgdir.Map(va, mp.flags()); err != nil {
				return nil, fmt.Errorf("mapping %08x: %v", va, err)
			}
		}
		log.Debugf("mapped %d pages at %#08x perm %q", mp.Count, mp.Va, mp.Perm)
	}

	if len(img.Stack) > 0 {
		top := img.StackTop
		if top == 0 {
			top = defaultStackTop
		}
		fp, err := buildStack(pgdir, top, img.Stack)
		if err != nil {
			return nil, err
		}
		k.fp = fp
		log.Debugf("stack chain of %d frames below %#08x, fp %#08x", len(img.Stack), top, fp)
	}

	for _, ws := range img.Words {
		for i, val := range ws.Values {
			pgdir.WriteWord(ws.Va+uint32(4*i), val)
		}
	}

	return k, nil
}

// buildStack lays the frame chain into memory below top, mapping the
// covered stack pages first, and returns the innermost frame pointer.
func buildStack(pgdir *mmu.PageDir, top uint32, frames []FrameSpec) (uint32, error) {
	bottom := top - uint32(len(frames))*frameSlot
	for va := bottom &^ (mmu.PageSize - 1); va < top; va += mmu.PageSize {
		if pte, err := pgdir.Walk(va, true); err != nil {
			return 0, err
		} else if !pte.Present() {
			if _, err := pgdir.Map(va, mmu.FlagPresent|mmu.FlagWritable); err != nil {
				return 0, err
			}
		}
	}

	// Outermost frame sits highest and carries the zero sentinel.
	prevFP := uint32(0)
	fp := top
	for i := len(frames) - 1; i >= 0; i-- {
		fp -= frameSlot
		pgdir.WriteWord(fp, prevFP)
		pgdir.WriteWord(fp+4, frames[i].Ret)
		for j, arg := range frames[i].Args {
			pgdir.WriteWord(fp+8+uint32(4*j), arg)
		}
		prevFP = fp
	}
	return fp, nil
}
