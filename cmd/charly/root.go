// Command charly runs compiled Charly VM module bundles: charly
// [filename] [--flag …] [-- user args…]. With no filename it drops into an
// interactive REPL (spec §6.3, §6.4).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfg Config

var rootCmd = &cobra.Command{
	Use:   "charly [filename] [-- args...]",
	Short: "Charly VM: run a compiled module bundle",
	Long: `charly loads a compiled Charly module bundle and runs its "main"
function on a fresh fiber. With no filename, it starts an interactive REPL
against <CHARLYVMDIR>/src/charly/stdlib/repl.ch.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if printVersion {
			fmt.Println(version)
			return nil
		}
		if printLicense {
			fmt.Println(licenseText)
			return nil
		}
		cfg.UserArgs = splitUserArgs(cmd, args)
		if len(args) > 0 {
			cfg.Filename = args[0]
		}
		code := Main(&cfg)
		if code != 0 {
			return exitCode(code)
		}
		return nil
	},
}

var (
	printVersion bool
	printLicense bool
)

// splitUserArgs separates the module filename (if any) from the "--
// user args…" tail that populates ARGV (§6.4): cobra.Command.
// ArgsLenAtDash reports how many of Args() appeared before the "--", or -1
// if there was none.
func splitUserArgs(cmd *cobra.Command, args []string) []string {
	dash := cmd.Flags().ArgsLenAtDash()
	if dash < 0 {
		return nil
	}
	return args[dash:]
}

// exitCode carries a process exit status through cobra's error return
// without printing a spurious error message (main.go unwraps it).
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&cfg.MaxProcs, "maxprocs", 0, "number of scheduler processors (0 = GOMAXPROCS)")
	flags.IntVar(&cfg.InitialHeapRegions, "initial_heap_regions", 1, "eden regions to commit before execution begins")
	flags.BoolVar(&cfg.SkipExec, "skipexec", false, "load and register the module but do not run it")
	flags.BoolVar(&cfg.ValidateHeap, "validate_heap", false, "run a full heap-consistency walk after every collection")
	flags.BoolVar(&cfg.NoASTOpt, "no_ast_opt", false, "accepted for CLI compatibility; this VM never sees an AST")
	flags.BoolVar(&cfg.IR, "ir", false, "accepted for CLI compatibility; this VM never sees an IR dump")
	flags.BoolVar(&cfg.Asm, "asm", false, "disassemble the loaded module's functions to stdout before running")
	flags.BoolVar(&cfg.AST, "ast", false, "accepted for CLI compatibility; this VM never sees an AST")
	flags.BoolVar(&cfg.HeapStats, "heap-stats", false, "print a per-shape object histogram after the run and exit")
	flags.StringVar(&cfg.DebugListen, "debug-listen", "", "address (network:addr, e.g. unix:/tmp/charly.sock) to serve internal/debugapi on")
	flags.BoolVar(&printVersion, "version", false, "print the VM version and exit")
	flags.BoolVar(&printLicense, "license", false, "print license information and exit")
}

const version = "charly-go 0.1.0"

const licenseText = `This program is distributed without warranty of any kind.`

func main() {
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCode); ok {
			os.Exit(int(ec))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
