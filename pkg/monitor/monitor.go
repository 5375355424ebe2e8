// Package monitor implements the interactive kernel monitor: a
// synchronous command loop for inspecting and mutating live kernel
// state through the narrow interfaces defined here.
package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"

	"github.com/kmon-debug/kmon/pkg/config"
	"github.com/kmon-debug/kmon/pkg/logflags"
)

const historyFile string = ".kmon_history"

// PageEntry is a handle on one live page table entry. Mutations apply
// in place with no atomicity guarantee; the monitor runs
// single-threaded and assumes exclusive access to the tables.
type PageEntry interface {
	Load() uint32
	SetFlags(flags uint32)
	ClearFlags(flags uint32)
}

// MemoryManager is the boundary to the kernel's memory machinery.
type MemoryManager interface {
	// Lookup returns the page table entry backing va, allocating
	// intermediate tables when alloc is set. A failed allocation is
	// unrecoverable for the caller.
	Lookup(va uint32, alloc bool) (PageEntry, error)
	// ReadWord reads the word at virtual address va. Reading unmapped
	// memory is undefined at this layer.
	ReadWord(va uint32) uint32
}

// SymbolResolver resolves an instruction address to source-level
// symbol information. It always succeeds structurally; missing data
// comes back as placeholder fields.
type SymbolResolver interface {
	Resolve(pc uint32) SymbolInfo
}

// SymbolInfo is the resolved symbol information for one address.
type SymbolInfo struct {
	File   string
	Line   int
	FnName string
	FnAddr uint32
}

// SymbolLister enumerates known function symbols.
type SymbolLister interface {
	FuncsMatching(pattern string) ([]string, error)
	FuncsWithPrefix(prefix string) []string
}

// Layout holds the special kernel symbols reported by kerninfo.
// Physical addresses are derived by subtracting KernBase.
type Layout struct {
	KernBase uint32
	Start    uint32
	Entry    uint32
	Etext    uint32
	Edata    uint32
	End      uint32
}

// TrapFrame is an externally captured register snapshot. The monitor
// only displays it and passes it through to command handlers.
type TrapFrame interface {
	Display(w io.Writer)
}

// Kernel is everything the monitor needs from the machine it inspects.
type Kernel interface {
	MemoryManager
	SymbolResolver
	SymbolLister
	// CurrentFrame returns the saved frame pointer the backtrace
	// command starts walking from.
	CurrentFrame() uint32
	Layout() Layout
}

// ExitRequestError is returned by the exit command to signal that the
// monitor loop should terminate.
type ExitRequestError struct{}

func (ExitRequestError) Error() string {
	return "exit"
}

// Monitor runs the kernel monitor command loop.
type Monitor struct {
	kern   Kernel
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout io.Writer
	log    *logrus.Entry

	// InitFile is an optional file of monitor commands executed before
	// the first prompt.
	InitFile string

	// panicf is invoked on the unrecoverable error tier. The default
	// halts the program; tests substitute it.
	panicf func(format string, args ...interface{})
}

// New returns a Monitor for the given kernel.
func New(kern Kernel, conf *config.Config) *Monitor {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}

	return &Monitor{
		kern:   kern,
		conf:   conf,
		prompt: "K> ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
		log:    logflags.MonitorLogger(),
		panicf: kernelPanic,
	}
}

// kernelPanic is the unrecoverable tier: the monitor is standing in for
// a kernel, so there is no error to return and nothing to retry.
func kernelPanic(format string, args ...interface{}) {
	panic(fmt.Sprintf("kernel panic: "+format, args...))
}

// Close returns the terminal to its previous mode.
func (m *Monitor) Close() {
	m.line.Close()
}

// Run prints the banner, displays tf when one was captured, then reads
// and executes commands until a handler requests termination.
func (m *Monitor) Run(tf TrapFrame) error {
	defer m.Close()

	m.line.SetCompleter(m.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(m.stdout, "Unable to load history file: %v.\n", err)
	}
	if f, err := os.Open(fullHistoryFile); err == nil {
		m.line.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintln(m.stdout, "Welcome to the kmon kernel monitor!")
	fmt.Fprintln(m.stdout, "Type 'help' for a list of commands.")

	if tf != nil {
		tf.Display(m.stdout)
	}

	if m.InitFile != "" {
		err := m.cmds.executeFile(m, m.InitFile, tf)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return m.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := m.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(m.stdout, "exit")
				return m.handleExit()
			}
			return fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := m.cmds.Call(m, cmdstr, tf); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return m.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func (m *Monitor) complete(line string) (c []string) {
	if sub := strings.TrimPrefix(line, "funcs "); sub != line {
		for _, name := range m.kern.FuncsWithPrefix(sub) {
			c = append(c, "funcs "+name)
		}
		return
	}
	for _, cmd := range m.cmds.cmds {
		for _, alias := range cmd.aliases {
			if strings.HasPrefix(alias, strings.ToLower(line)) {
				c = append(c, alias)
			}
		}
	}
	return
}

func (m *Monitor) promptForInput() (string, error) {
	l, err := m.line.Prompt(m.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		m.line.AppendHistory(l)
	}

	return l, nil
}

func (m *Monitor) handleExit() error {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(m.stdout, "Error saving history file:", err)
		return nil
	}
	if f, err := os.Create(fullHistoryFile); err == nil {
		if _, err := m.line.WriteHistory(f); err != nil {
			fmt.Fprintln(m.stdout, "readline history error:", err)
		}
		f.Close()
	}
	return nil
}

// maxStackDepth returns the configured backtrace depth cap.
func (m *Monitor) maxStackDepth() int {
	if m.conf != nil && m.conf.MaxStackDepth != nil {
		return *m.conf.MaxStackDepth
	}
	return 0
}
