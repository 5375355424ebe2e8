// Package sym maps instruction addresses to source-level symbol
// information. Resolution always succeeds structurally: an address with
// no debug data resolves to placeholder fields, never an error.
package sym

import (
	"regexp"
	"sort"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/kmon-debug/kmon/pkg/logflags"
)

const resolveCacheSize = 256

// Unknown is the placeholder used for missing symbol data.
const Unknown = "<unknown>"

// Info is the symbol information for one instruction address.
type Info struct {
	// File is the source file the address belongs to.
	File string
	// Line is the source line for the address.
	Line int
	// FnName is the name of the enclosing function.
	FnName string
	// FnAddr is the entry address of the enclosing function.
	FnAddr uint32
}

// Resolver resolves instruction addresses to symbol information.
type Resolver interface {
	Resolve(pc uint32) Info
}

// Func describes one function known to the symbol table.
type Func struct {
	Name  string `yaml:"name"`
	File  string `yaml:"file"`
	Line  int    `yaml:"line"`
	Entry uint32 `yaml:"entry"`
	Size  uint32 `yaml:"size"`
	// Lines optionally refines the line number within the function:
	// each record gives the line reached at Entry+Offset.
	Lines []LineRecord `yaml:"lines,omitempty"`
}

// LineRecord maps an offset from the function entry to a source line.
type LineRecord struct {
	Offset uint32 `yaml:"offset"`
	Line   int    `yaml:"line"`
}

// Table is a Resolver backed by a sorted function list, with an LRU
// cache in front of resolution and a trie over function names for
// prefix queries.
type Table struct {
	funcs []Func
	names *trie.Trie
	cache *lru.Cache
	log   *logrus.Entry
}

// NewTable builds a Table from the given functions. The slice is sorted
// by entry address; overlapping functions resolve to the one with the
// highest entry not above the address.
func NewTable(funcs []Func) *Table {
	t := &Table{
		funcs: append([]Func(nil), funcs...),
		names: trie.New(),
		log:   logflags.SymbolsLogger(),
	}
	sort.Slice(t.funcs, func(i, j int) bool { return t.funcs[i].Entry < t.funcs[j].Entry })
	for i := range t.funcs {
		t.names.Add(t.funcs[i].Name, t.funcs[i].Entry)
	}
	t.cache, _ = lru.New(resolveCacheSize)
	return t
}

// Resolve returns the symbol information for pc.
func (t *Table) Resolve(pc uint32) Info {
	if cached, ok := t.cache.Get(pc); ok {
		return cached.(Info)
	}
	info := t.resolve(pc)
	t.cache.Add(pc, info)
	return info
}

func (t *Table) resolve(pc uint32) Info {
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].Entry > pc })
	if i == 0 {
		return Info{File: Unknown, Line: 0, FnName: Unknown, FnAddr: pc}
	}
	fn := &t.funcs[i-1]
	if fn.Size != 0 && pc >= fn.Entry+fn.Size {
		return Info{File: Unknown, Line: 0, FnName: Unknown, FnAddr: pc}
	}
	t.log.Debugf("resolve %#08x -> %s", pc, fn.Name)
	return Info{File: fn.File, Line: fn.lineFor(pc), FnName: fn.Name, FnAddr: fn.Entry}
}

func (fn *Func) lineFor(pc uint32) int {
	line := fn.Line
	off := pc - fn.Entry
	for _, rec := range fn.Lines {
		if rec.Offset > off {
			break
		}
		line = rec.Line
	}
	return line
}

// FuncsMatching returns the names of functions matching the regular
// expression, in entry address order. An empty expression matches all.
func (t *Table) FuncsMatching(pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var names []string
	for i := range t.funcs {
		if re.MatchString(t.funcs[i].Name) {
			names = append(names, t.funcs[i].Name)
		}
	}
	return names, nil
}

// FuncsWithPrefix returns the names of functions starting with the
// given prefix. Used for completion.
func (t *Table) FuncsWithPrefix(prefix string) []string {
	if prefix == "" {
		names := make([]string, 0, len(t.funcs))
		for i := range t.funcs {
			names = append(names, t.funcs[i].Name)
		}
		sort.Strings(names)
		return names
	}
	names := t.names.PrefixSearch(prefix)
	sort.Strings(names)
	return names
}
