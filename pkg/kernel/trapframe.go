package kernel

import (
	"fmt"
	"io"
)

// PushRegs is the general register snapshot saved on trap entry.
type PushRegs struct {
	Edi  uint32 `yaml:"edi"`
	Esi  uint32 `yaml:"esi"`
	Ebp  uint32 `yaml:"ebp"`
	Oesp uint32 `yaml:"oesp"`
	Ebx  uint32 `yaml:"ebx"`
	Edx  uint32 `yaml:"edx"`
	Ecx  uint32 `yaml:"ecx"`
	Eax  uint32 `yaml:"eax"`
}

// TrapFrame is the processor state captured when the monitor was
// entered because of an exception or debug break. The monitor treats it
// as an opaque displayable value.
type TrapFrame struct {
	Regs   PushRegs `yaml:"regs"`
	Es     uint32   `yaml:"es"`
	Ds     uint32   `yaml:"ds"`
	Trapno uint32   `yaml:"trapno"`
	Err    uint32   `yaml:"err"`
	Eip    uint32   `yaml:"eip"`
	Cs     uint32   `yaml:"cs"`
	Eflags uint32   `yaml:"eflags"`
	Esp    uint32   `yaml:"esp"`
	Ss     uint32   `yaml:"ss"`
}

var excNames = []string{
	"Divide error",
	"Debug",
	"Non-Maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"BOUND Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection",
	"Page Fault",
	"(unknown trap)",
	"x87 FPU Floating-Point Error",
	"Alignment Check",
	"Machine-Check",
	"SIMD Floating-Point Exception",
}

// TrapName returns the human readable name of a trap number.
func TrapName(trapno uint32) string {
	if trapno < uint32(len(excNames)) {
		return excNames[trapno]
	}
	if trapno == 48 {
		return "System call"
	}
	return "(unknown trap)"
}

// Display prints the trap frame in the classic fixed layout.
func (tf *TrapFrame) Display(w io.Writer) {
	fmt.Fprintf(w, "TRAP frame at %p\n", tf)
	fmt.Fprintf(w, "  edi  0x%08x\n", tf.Regs.Edi)
	fmt.Fprintf(w, "  esi  0x%08x\n", tf.Regs.Esi)
	fmt.Fprintf(w, "  ebp  0x%08x\n", tf.Regs.Ebp)
	fmt.Fprintf(w, "  oesp 0x%08x\n", tf.Regs.Oesp)
	fmt.Fprintf(w, "  ebx  0x%08x\n", tf.Regs.Ebx)
	fmt.Fprintf(w, "  edx  0x%08x\n", tf.Regs.Edx)
	fmt.Fprintf(w, "  ecx  0x%08x\n", tf.Regs.Ecx)
	fmt.Fprintf(w, "  eax  0x%08x\n", tf.Regs.Eax)
	fmt.Fprintf(w, "  es   0x----%04x\n", tf.Es)
	fmt.Fprintf(w, "  ds   0x----%04x\n", tf.Ds)
	fmt.Fprintf(w, "  trap 0x%08x %s\n", tf.Trapno, TrapName(tf.Trapno))
	fmt.Fprintf(w, "  err  0x%08x\n", tf.Err)
	fmt.Fprintf(w, "  eip  0x%08x\n", tf.Eip)
	fmt.Fprintf(w, "  cs   0x----%04x\n", tf.Cs)
	fmt.Fprintf(w, "  flag 0x%08x\n", tf.Eflags)
	fmt.Fprintf(w, "  esp  0x%08x\n", tf.Esp)
	fmt.Fprintf(w, "  ss   0x----%04x\n", tf.Ss)
}
