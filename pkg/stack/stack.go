// Package stack reconstructs a call chain from saved frame pointers.
//
// The walker never performs pointer arithmetic of its own: it reads
// words through a MemReader and follows the classic 32-bit frame layout,
// where the word at the frame pointer holds the caller's frame pointer
// and the word above it holds the return address.
package stack

import (
	"errors"
	"fmt"
)

// NumArgWords is the number of words following the return address that
// are reported as the caller-visible argument slots of a frame. They
// are read even when the callee took fewer arguments; this is a
// best-effort heuristic, not a verified argument count.
const NumArgWords = 5

// DefaultMaxDepth bounds the walk when the caller does not supply a
// limit. The frame chain is expected to be acyclic, but a corrupted
// stack must not hang the monitor.
const DefaultMaxDepth = 64

// ErrMaxDepth is reported when a walk is cut short by the depth guard.
var ErrMaxDepth = errors.New("frame chain exceeds maximum depth")

// MemReader is the narrow capability the walker needs: word reads from
// the traversed memory. The walker never mutates anything it reads.
type MemReader interface {
	ReadWord(va uint32) uint32
}

// Frame is one reconstructed stack frame.
type Frame struct {
	// FP is the frame pointer the frame was read at.
	FP uint32
	// Ret is the saved return address.
	Ret uint32
	// Args holds the argument slot words above the return address.
	Args [NumArgWords]uint32
}

func (f Frame) String() string {
	return fmt.Sprintf("ebp %08x  eip %08x  args %08x %08x %08x %08x %08x",
		f.FP, f.Ret, f.Args[0], f.Args[1], f.Args[2], f.Args[3], f.Args[4])
}

// Iterator walks a frame chain from an initial frame pointer down to
// the zero-sentinel root frame.
type Iterator struct {
	mem      MemReader
	fp       uint32
	frame    Frame
	depth    int
	maxDepth int
	err      error
}

// NewIterator returns an iterator starting at the frame pointer fp.
// maxDepth bounds the traversal; values <= 0 select DefaultMaxDepth.
func NewIterator(mem MemReader, fp uint32, maxDepth int) *Iterator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Iterator{mem: mem, fp: fp, maxDepth: maxDepth}
}

// Next points the iterator to the next stack frame. It returns false
// when the chain terminates at the zero sentinel, or when the depth
// guard trips (check Err to distinguish the two).
func (it *Iterator) Next() bool {
	if it.err != nil || it.fp == 0 {
		return false
	}
	if it.depth >= it.maxDepth {
		it.err = ErrMaxDepth
		return false
	}
	it.frame = Frame{FP: it.fp, Ret: it.mem.ReadWord(it.fp + 4)}
	for i := 0; i < NumArgWords; i++ {
		it.frame.Args[i] = it.mem.ReadWord(it.fp + 8 + uint32(4*i))
	}
	it.fp = it.mem.ReadWord(it.fp)
	it.depth++
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *Iterator) Frame() Frame {
	return it.frame
}

// Err returns the error encountered during the walk, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Walk collects every frame reachable from fp, in caller-to-root order.
func Walk(mem MemReader, fp uint32, maxDepth int) ([]Frame, error) {
	it := NewIterator(mem, fp, maxDepth)
	var frames []Frame
	for it.Next() {
		frames = append(frames, it.Frame())
	}
	return frames, it.Err()
}
