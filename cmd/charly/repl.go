package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/chzyer/readline"

	"github.com/charly-lang/charly/internal/interp"
	"github.com/charly-lang/charly/internal/module"
)

// runREPL drives <CHARLYVMDIR>/src/charly/stdlib/repl.ch as the entry
// module instead of a user-supplied file (spec §6.4: "repl.ch ... used
// when no filename is given"). repl.ch reads each line of input through
// the "readline" builtin, the same one a script calls directly; the only
// difference here is that Runtime.ReadLine is wired to a real terminal
// front-end with history and completion instead of being left nil.
func runREPL(cfg *Config) int {
	root := os.Getenv("CHARLYVMDIR")
	if root == "" {
		fmt.Fprintln(os.Stderr, "charly: no filename given and CHARLYVMDIR is not set (repl.ch cannot be located)")
		return 1
	}
	path := filepath.Join(root, "src", "charly", "stdlib", "repl.ch")
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}

	prepared, cleanup, err := prepareRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}
	defer cleanup()
	rt, tab := prepared.rt, prepared.tab

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "charly> ",
		HistoryFile:     filepath.Join(os.TempDir(), "charly_repl_history"),
		AutoComplete:    globalNameCompleter{rt: rt},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: readline: %v\n", err)
		return 1
	}
	defer rl.Close()

	rt.ReadLine = func(prompt string) (string, bool) {
		if prompt != "" {
			rl.SetPrompt(prompt)
		}
		line, err := rl.Readline()
		if err != nil {
			// io.EOF (ctrl-D) and readline.ErrInterrupt (ctrl-C) both end the
			// session; repl.ch sees this exactly as it would see end-of-input
			// on a piped stdin.
			return "", false
		}
		return line, true
	}

	bundle, err := module.Parse(path, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}
	mod, err := rt.RegisterModule(tab, bundle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}

	argv, err := buildArgv(rt, tab, cfg.UserArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}
	rt.Globals.Declare(rt.Symbols.Intern("ARGV"), argv, true)

	code, err := runMain(rt, mod)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charly: %v\n", err)
		return 1
	}
	return code
}

// globalNameCompleter completes the word under the cursor against every
// currently declared global's name. The bytecode format carries no local
// variable name metadata (SharedFunctionInfo has no symbol table mapping
// stack slots back to source names), so completion over locals isn't
// something this VM can offer; globals are what's actually nameable here.
type globalNameCompleter struct {
	rt *interp.Runtime
}

func (c globalNameCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	start := pos
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	prefix := string(line[start:pos])

	names := c.rt.GlobalNames()
	sort.Strings(names)
	for _, name := range names {
		if len(prefix) <= len(name) && name[:len(prefix)] == prefix {
			newLine = append(newLine, []rune(name[len(prefix):]))
		}
	}
	return newLine, len(prefix)
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
