package kernel

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kmon-debug/kmon/pkg/mmu"
	"github.com/kmon-debug/kmon/pkg/stack"
)

func TestDemoMachine(t *testing.T) {
	k := Demo()

	pte, err := k.Lookup(0x1000, false)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	e := pte.Load()
	if e&mmu.FlagPresent == 0 || e&mmu.FlagWritable == 0 || e&mmu.FlagUser == 0 {
		t.Errorf("demo user page has flags %#x, want P|W|U", e&0x7)
	}

	if got := k.ReadWord(0x1000); got != 0xdeadbeef {
		t.Errorf("demo word = %#x, want 0xdeadbeef", got)
	}

	if k.CurrentFrame() == 0 {
		t.Fatal("demo machine has no stack")
	}
	frames, err := stack.Walk(k, k.CurrentFrame(), 0)
	if err != nil {
		t.Fatalf("walking demo stack: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("demo stack has %d frames, want 4", len(frames))
	}
	if frames[0].Ret != 0xf0100412 {
		t.Errorf("innermost return address = %#x, want 0xf0100412", frames[0].Ret)
	}

	info := k.Resolve(frames[0].Ret)
	if info.FnName != "mon_backtrace" {
		t.Errorf("innermost frame resolves to %q, want mon_backtrace", info.FnName)
	}
}

func TestStackChainLinkage(t *testing.T) {
	img := Image{
		Stack: []FrameSpec{
			{Ret: 0x10, Args: []uint32{1, 2}},
			{Ret: 0x20},
			{Ret: 0x30},
		},
	}
	k, err := NewMachine(img)
	if err != nil {
		t.Fatal(err)
	}

	frames, err := stack.Walk(k, k.CurrentFrame(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, want := range []uint32{0x10, 0x20, 0x30} {
		if frames[i].Ret != want {
			t.Errorf("frame %d ret = %#x, want %#x", i, frames[i].Ret, want)
		}
	}
	if frames[0].Args[0] != 1 || frames[0].Args[1] != 2 {
		t.Errorf("frame 0 args = %v", frames[0].Args[:2])
	}
	// The root frame's saved frame pointer is the zero sentinel.
	if got := k.ReadWord(frames[2].FP); got != 0 {
		t.Errorf("root frame saved fp = %#x, want 0", got)
	}
}

func TestLoadImage(t *testing.T) {
	const imageYAML = `
frame-limit: 64
layout:
  kernbase: 0xf0000000
  start: 0x0010000c
  entry: 0xf010000c
  etext: 0xf0101a75
  edata: 0xf0112300
  end: 0xf0117950
mappings:
  - {va: 0x1000, count: 2, perm: "wu"}
words:
  - {va: 0x1004, values: [0x42, 0x43]}
funcs:
  - {name: spin, file: kern/spin.c, line: 10, entry: 0xf0100800, size: 0x40}
stack:
  - {ret: 0xf0100810, args: [7]}
trap:
  trapno: 3
  eip: 0xf0100810
  cs: 0x8
`
	dir, err := ioutil.TempDir("", "kmon-image")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "image.yml")
	if err := ioutil.WriteFile(path, []byte(imageYAML), 0644); err != nil {
		t.Fatal(err)
	}

	k, err := LoadImage(path)
	if err != nil {
		t.Fatal(err)
	}

	if k.Layout().KernBase != 0xf0000000 || k.Layout().End != 0xf0117950 {
		t.Errorf("layout = %+v", k.Layout())
	}

	pte, err := k.Lookup(0x2000, false)
	if err != nil {
		t.Fatalf("second mapped page: %v", err)
	}
	if e := pte.Load(); e&mmu.FlagPresent == 0 || e&mmu.FlagUser == 0 {
		t.Errorf("second page flags = %#x, want P|U set", e&0x7)
	}

	if got := k.ReadWord(0x1008); got != 0x43 {
		t.Errorf("word at 0x1008 = %#x, want 0x43", got)
	}

	info := k.Resolve(0xf0100810)
	if info.FnName != "spin" || info.File != "kern/spin.c" {
		t.Errorf("resolve = %+v", info)
	}

	if k.Trap() == nil || k.Trap().Trapno != 3 {
		t.Errorf("trap frame = %+v", k.Trap())
	}
}

func TestLoadImageMissingFile(t *testing.T) {
	if _, err := LoadImage("/does/not/exist.yml"); err == nil {
		t.Fatal("expected an error for a missing image file")
	}
}

func TestMachineOutOfFrames(t *testing.T) {
	img := Image{
		FrameLimit: 2, // directory plus one table; no room for mapped pages
		Mappings:   []MappingSpec{{Va: 0x1000, Count: 1, Perm: "w"}},
	}
	if _, err := NewMachine(img); err == nil {
		t.Fatal("expected mapping to fail with an exhausted frame pool")
	}
}

func TestTrapFrameDisplay(t *testing.T) {
	tf := &TrapFrame{
		Regs:   PushRegs{Ebp: 0xf0109e58, Eax: 0x1},
		Trapno: 3,
		Eip:    0xf0100bcc,
		Cs:     0x8,
		Eflags: 0x82,
	}
	var buf bytes.Buffer
	tf.Display(&buf)
	out := buf.String()
	for _, want := range []string{
		"TRAP frame at",
		"ebp  0xf0109e58",
		"trap 0x00000003 Breakpoint",
		"eip  0xf0100bcc",
		"cs   0x----0008",
		"flag 0x00000082",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trap frame display missing %q:\n%s", want, out)
		}
	}
}

func TestTrapName(t *testing.T) {
	for _, tc := range []struct {
		trapno uint32
		want   string
	}{
		{0, "Divide error"},
		{3, "Breakpoint"},
		{14, "Page Fault"},
		{48, "System call"},
		{100, "(unknown trap)"},
	} {
		if got := TrapName(tc.trapno); got != tc.want {
			t.Errorf("TrapName(%d) = %q, want %q", tc.trapno, got, tc.want)
		}
	}
}
