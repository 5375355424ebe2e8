package sym

import (
	"reflect"
	"testing"
)

func testTable() *Table {
	return NewTable([]Func{
		{Name: "monitor", File: "kern/monitor.c", Line: 131, Entry: 0xf0100200, Size: 0x100},
		{Name: "i386_init", File: "kern/init.c", Line: 24, Entry: 0xf0100100, Size: 0xc0},
		{Name: "mon_backtrace", File: "kern/monitor.c", Line: 68, Entry: 0xf0100400, Size: 0x60,
			Lines: []LineRecord{{Offset: 0x10, Line: 71}, {Offset: 0x30, Line: 76}}},
	})
}

func TestResolve(t *testing.T) {
	tab := testTable()
	for _, tc := range []struct {
		pc   uint32
		name string
		file string
		line int
		addr uint32
	}{
		{0xf0100200, "monitor", "kern/monitor.c", 131, 0xf0100200},
		{0xf01002ff, "monitor", "kern/monitor.c", 131, 0xf0100200},
		{0xf0100150, "i386_init", "kern/init.c", 24, 0xf0100100},
		{0xf0100400, "mon_backtrace", "kern/monitor.c", 68, 0xf0100400},
		{0xf0100415, "mon_backtrace", "kern/monitor.c", 71, 0xf0100400},
		{0xf0100445, "mon_backtrace", "kern/monitor.c", 76, 0xf0100400},
	} {
		info := tab.Resolve(tc.pc)
		if info.FnName != tc.name || info.File != tc.file || info.Line != tc.line || info.FnAddr != tc.addr {
			t.Errorf("Resolve(%#x) = %+v, want {%s %s:%d addr %#x}", tc.pc, info, tc.name, tc.file, tc.line, tc.addr)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	tab := testTable()
	for _, pc := range []uint32{0, 0xf0100000, 0xf0100300, 0xf0100500} {
		info := tab.Resolve(pc)
		if info.FnName != Unknown || info.File != Unknown || info.Line != 0 || info.FnAddr != pc {
			t.Errorf("Resolve(%#x) = %+v, want placeholder info", pc, info)
		}
	}
}

func TestResolveCached(t *testing.T) {
	tab := testTable()
	first := tab.Resolve(0xf0100250)
	second := tab.Resolve(0xf0100250)
	if first != second {
		t.Errorf("cached resolve differs: %+v vs %+v", first, second)
	}
}

func TestFuncsMatching(t *testing.T) {
	tab := testTable()
	names, err := tab.FuncsMatching("^mon")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"monitor", "mon_backtrace"}) {
		t.Errorf("FuncsMatching = %v", names)
	}

	all, err := tab.FuncsMatching("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("empty pattern matched %d funcs, want 3", len(all))
	}

	if _, err := tab.FuncsMatching("("); err == nil {
		t.Error("invalid regexp did not error")
	}
}

func TestFuncsWithPrefix(t *testing.T) {
	tab := testTable()
	names := tab.FuncsWithPrefix("mon")
	if !reflect.DeepEqual(names, []string{"mon_backtrace", "monitor"}) {
		t.Errorf("FuncsWithPrefix = %v", names)
	}
	if got := tab.FuncsWithPrefix(""); len(got) != 3 {
		t.Errorf("empty prefix returned %d names, want 3", len(got))
	}
}
