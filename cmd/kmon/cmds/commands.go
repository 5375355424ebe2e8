// Package cmds implements the command-line interface of kmon.
package cmds

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kmon-debug/kmon/pkg/config"
	"github.com/kmon-debug/kmon/pkg/kernel"
	"github.com/kmon-debug/kmon/pkg/logflags"
	"github.com/kmon-debug/kmon/pkg/monitor"
	"github.com/kmon-debug/kmon/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// initFile is the path to a file of monitor commands executed on startup.
	initFile string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const kmonCommandLongDesc = `kmon is an interactive kernel monitor.

It drops you into a synchronous debug console for a simulated 32-bit kernel,
where you can walk the stack, display virtual-to-physical mappings and edit
page table permission bits in place.

Run it against a YAML machine image, or with no arguments to explore the
built-in demo machine.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "kmon [image]",
		Short: "kmon is an interactive kernel monitor.",
		Long:  kmonCommandLongDesc,
		Args:  cobra.MaximumNArgs(1),
		Run:   rootCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (monitor,mmu,sym,image).")
	rootCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the monitor before the first prompt.")

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kmon kernel monitor\n%s\nGo: %s\n", version.KmonVersion, version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func rootCmd(cmd *cobra.Command, args []string) {
	if err := logflags.Setup(log, logOutput); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		machine *kernel.Machine
		err     error
	)
	if len(args) == 1 {
		machine, err = kernel.LoadImage(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not load machine image: %v\n", err)
			os.Exit(1)
		}
	} else {
		machine = kernel.Demo()
	}

	m := monitor.New(machine, conf)
	m.InitFile = initFile

	// The kernel decides whether the monitor is entered with a captured
	// trap frame. A nil *TrapFrame must stay a nil interface value.
	var tf monitor.TrapFrame
	if machTF := machine.Trap(); machTF != nil {
		tf = machTF
	}

	if err := m.Run(tf); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
