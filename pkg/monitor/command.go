package monitor

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kmon-debug/kmon/pkg/mmu"
	"github.com/kmon-debug/kmon/pkg/stack"
)

type callContext struct {
	TrapFrame TrapFrame
}

type cmdfunc func(m *Monitor, ctx callContext, argv []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands understood by the monitor. The table
// is built once and dispatch is a first-match linear scan in table
// order, so the first entry carrying a given name wins.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"kerninfo"}, cmdFn: kerninfo, helpMsg: `Display information about the kernel.

	kerninfo

Prints the special kernel symbols and the kernel's memory footprint.`},
		{aliases: []string{"backtrace", "bt"}, cmdFn: backtrace, helpMsg: `Display a backtrace of the current kernel stack.

	backtrace

Walks the saved frame pointer chain. For every frame the frame pointer,
return address and the first five argument words are printed, followed by
the source location of the return address.`},
		{aliases: []string{"showmp"}, cmdFn: showMappings, helpMsg: `Display mappings from virtual to physical memory.

	showmp <0xbegin_addr> <0xend_addr>

For every page in the inclusive range the backing page table entry is
looked up (allocating intermediate tables if needed) and its Present,
Writable and User bits are printed.`},
		{aliases: []string{"setperm"}, cmdFn: setPerm, helpMsg: `Set or clear a permission bit of a page table entry.

	setperm <0xaddr> <0|1> <P|W|U>

The entry backing the address is printed, the selected bit is cleared
(0) or set (any other value), and the entry is printed again. This is a
direct edit of live translation state; consistency is the operator's
responsibility.`},
		{aliases: []string{"showvm"}, cmdFn: showVM, helpMsg: `Display words of virtual memory.

	showvm <0xaddr> <0xn>

Prints n consecutive 32-bit words starting at the given virtual address.
No mapping checks are performed; reading unmapped memory is undefined.`},
		{aliases: []string{"funcs"}, cmdFn: funcs, helpMsg: `Print list of kernel functions.

	funcs [<regex>]

If regex is specified only the functions matching it will be returned.`},
		{aliases: []string{"source"}, cmdFn: sourceCommand, helpMsg: `Executes a file containing a list of monitor commands.

	source <path>`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the monitor."},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// Returns nil if no command matches.
func (c *Commands) Find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}
	return nil
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// Call tokenizes one raw input line and invokes the matching command
// with the full argument vector and the trap frame reference. An empty
// line is a no-op. An unknown command or an overlong line is reported
// and is not an error: only a handler that wants the loop to stop
// returns one.
func (c *Commands) Call(m *Monitor, line string, tf TrapFrame) error {
	argv, err := splitLine(line)
	if err != nil {
		fmt.Fprintf(m.stdout, "%v\n", err)
		return nil
	}
	if len(argv) == 0 {
		return nil
	}

	for _, cmd := range c.cmds {
		if cmd.match(argv[0]) {
			m.log.Debugf("dispatch %q", argv)
			return cmd.cmdFn(m, callContext{TrapFrame: tf}, argv)
		}
	}

	fmt.Fprintf(m.stdout, "Unknown command '%s'\n", argv[0])
	return nil
}

func help(m *Monitor, ctx callContext, argv []string) error {
	if len(argv) > 1 {
		for _, cmd := range m.cmds.cmds {
			if cmd.match(argv[1]) {
				fmt.Fprintln(m.stdout, cmd.helpMsg)
				return nil
			}
		}
		fmt.Fprintf(m.stdout, "Unknown command '%s'\n", argv[1])
		return nil
	}

	fmt.Fprintln(m.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(m.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range m.cmds.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(m.stdout)
	fmt.Fprintln(m.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func kerninfo(m *Monitor, ctx callContext, argv []string) error {
	lay := m.kern.Layout()
	fmt.Fprintln(m.stdout, "Special kernel symbols:")
	fmt.Fprintf(m.stdout, "  _start                  %08x (phys)\n", lay.Start)
	fmt.Fprintf(m.stdout, "  entry  %08x (virt)  %08x (phys)\n", lay.Entry, lay.Entry-lay.KernBase)
	fmt.Fprintf(m.stdout, "  etext  %08x (virt)  %08x (phys)\n", lay.Etext, lay.Etext-lay.KernBase)
	fmt.Fprintf(m.stdout, "  edata  %08x (virt)  %08x (phys)\n", lay.Edata, lay.Edata-lay.KernBase)
	fmt.Fprintf(m.stdout, "  end    %08x (virt)  %08x (phys)\n", lay.End, lay.End-lay.KernBase)
	fmt.Fprintf(m.stdout, "Kernel executable memory footprint: %dKB\n",
		(lay.End-lay.Entry+1023)/1024)
	return nil
}

func backtrace(m *Monitor, ctx callContext, argv []string) error {
	fmt.Fprintln(m.stdout, "Stack backtrace:")
	it := stack.NewIterator(m.kern, m.kern.CurrentFrame(), m.maxStackDepth())
	for it.Next() {
		frame := it.Frame()
		fmt.Fprintf(m.stdout, "  %s\n", frame)
		info := m.kern.Resolve(frame.Ret)
		fmt.Fprintf(m.stdout, "         %s:%d: %s+%d\n",
			info.File, info.Line, info.FnName, frame.Ret-info.FnAddr)
	}
	if err := it.Err(); err != nil {
		fmt.Fprintf(m.stdout, "  backtrace stopped: %v\n", err)
	}
	return nil
}

// printEntry prints the permission bits of a page table entry the way
// the mapping commands report them: masked values, not booleans.
func printEntry(m *Monitor, pte PageEntry) {
	e := pte.Load()
	fmt.Fprintf(m.stdout, "PTE_P: %x, PTE_W: %x, PTE_U: %x\n",
		e&mmu.FlagPresent, e&mmu.FlagWritable, e&mmu.FlagUser)
}

func showMappings(m *Monitor, ctx callContext, argv []string) error {
	if len(argv) != 3 {
		fmt.Fprintln(m.stdout, "Usage: showmp 0xbegin_addr 0xend_addr")
		return nil
	}
	begin, end := parseHex(argv[1]), parseHex(argv[2])
	fmt.Fprintf(m.stdout, "RANGE: from %x to %x\n", begin, end)
	for va := begin; va <= end; va += mmu.PageSize {
		pte, err := m.kern.Lookup(va, true)
		if err != nil {
			m.panicf("page table lookup for %08x: %v", va, err)
			return nil
		}
		e := pte.Load()
		if e&mmu.FlagPresent != 0 {
			fmt.Fprintf(m.stdout, "page %x mapped to %x: ", va, e&mmu.AddrMask)
			printEntry(m, pte)
		} else {
			fmt.Fprintf(m.stdout, "page not present: %x\n", va)
		}
	}
	return nil
}

const setPermUsage = "Usage: setperm 0xaddr [clear(0)|set(1)] [P|W|U]"

func setPerm(m *Monitor, ctx callContext, argv []string) error {
	if len(argv) != 4 {
		fmt.Fprintln(m.stdout, setPermUsage)
		return nil
	}
	addr := parseHex(argv[1])
	pte, err := m.kern.Lookup(addr, true)
	if err != nil {
		m.panicf("page table lookup for %08x: %v", addr, err)
		return nil
	}

	fmt.Fprintf(m.stdout, "%x before setperm: ", addr)
	printEntry(m, pte)

	var perm uint32
	switch argv[3][0] {
	case 'P':
		perm = mmu.FlagPresent
	case 'W':
		perm = mmu.FlagWritable
	case 'U':
		perm = mmu.FlagUser
	default:
		fmt.Fprintln(m.stdout, setPermUsage)
		return nil
	}

	// Only the first character of the flag argument is inspected:
	// anything other than '0' means set.
	if argv[2][0] == '0' {
		pte.ClearFlags(perm)
	} else {
		pte.SetFlags(perm)
	}

	fmt.Fprintf(m.stdout, "%x after setperm: ", addr)
	printEntry(m, pte)

	return nil
}

func showVM(m *Monitor, ctx callContext, argv []string) error {
	if len(argv) != 3 {
		fmt.Fprintln(m.stdout, "Usage: showvm 0xaddr 0xn")
		return nil
	}
	addr, n := parseHex(argv[1]), parseHex(argv[2])
	for i := uint32(0); i < n; i++ {
		va := addr + 4*i
		fmt.Fprintf(m.stdout, "VM at %x: %x\n", va, m.kern.ReadWord(va))
	}
	return nil
}

func funcs(m *Monitor, ctx callContext, argv []string) error {
	if len(argv) > 2 {
		fmt.Fprintln(m.stdout, "Usage: funcs [regex]")
		return nil
	}
	pattern := ""
	if len(argv) == 2 {
		pattern = argv[1]
	}
	names, err := m.kern.FuncsMatching(pattern)
	if err != nil {
		fmt.Fprintf(m.stdout, "Invalid pattern: %v\n", err)
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(m.stdout, name)
	}
	return nil
}

func sourceCommand(m *Monitor, ctx callContext, argv []string) error {
	if len(argv) != 2 {
		fmt.Fprintln(m.stdout, "Usage: source <path>")
		return nil
	}
	return m.cmds.executeFile(m, argv[1], ctx.TrapFrame)
}

// executeFile runs the commands in the named file one line at a time.
// Empty lines and lines starting with '#' are skipped.
func (c *Commands) executeFile(m *Monitor, name string, tf TrapFrame) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(m, line, tf); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(m.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func exitCommand(m *Monitor, ctx callContext, argv []string) error {
	return ExitRequestError{}
}
