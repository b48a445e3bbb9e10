// pagecache-shell is an interactive REPL for exercising a live pager.
//
// Usage:
//
//	pagecache-shell [opts] <backing-file>
//
// Options:
//
//	--self-soft-mib   Self soft memory limit, in MiB (default 64)
//	--self-hard-mib   Self hard memory limit, in MiB (default 128)
//
// Commands (in REPL):
//
//	get <page> [n]        get_page(page, n); prints length and a hex preview
//	try <page> [n]         try_page(page, n); never blocks
//	let <page> [n]         let_go(page, n)
//	stats                  print a Stats snapshot
//	evict                  force an eviction pass
//	help                   show this help
//	exit / quit / q        exit
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/peterh/liner"

	"github.com/calvinalkan/pagecache/pager"
)

var errMissingFile = errors.New("pagecache-shell: a backing file path is required")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("pagecache-shell", flag.ExitOnError)

	selfSoftMiB := fs.Int("self-soft-mib", 64, "Self soft memory limit, in MiB")
	selfHardMiB := fs.Int("self-hard-mib", 128, "Self hard memory limit, in MiB")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return errMissingFile
	}

	path := fs.Arg(0)

	p, err := pager.Open(path, pager.Options{
		Limits: pager.Limits{
			SelfSoft: uint64(*selfSoftMiB) * 1024 * 1024,
			SelfHard: uint64(*selfHardMiB) * 1024 * 1024,
		},
	})
	if err != nil {
		return fmt.Errorf("open pager: %w", err)
	}

	defer func() { _ = p.Close() }()

	repl := &REPL{pager: p, path: path}

	return repl.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	pager *pager.Pager
	path  string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".pagecache_shell_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("pagecache-shell - %s\n", r.path)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("pagecache> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "get":
			r.cmdGet(args)

		case "try":
			r.cmdTry(args)

		case "let":
			r.cmdLet(args)

		case "stats":
			r.cmdStats()

		case "evict":
			r.pager.ForceEvict()
			fmt.Println("ok")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			_ = f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"get", "try", "let", "stats", "evict", "help", "exit", "quit"}

	var matches []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			matches = append(matches, c)
		}
	}

	return matches
}

func parsePageAndCount(args []string) (page uint64, n int, err error) {
	if len(args) < 1 {
		return 0, 0, errors.New("usage: <page> [n]")
	}

	pageVal, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page: %w", err)
	}

	n = 1

	if len(args) >= 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid n: %w", err)
		}

		n = parsed
	}

	return pageVal, n, nil
}

func (r *REPL) cmdGet(args []string) {
	page, n, err := parsePageAndCount(args)
	if err != nil {
		fmt.Println(err)

		return
	}

	view, err := r.pager.GetPage(page, n)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	printPreview(view)
}

func (r *REPL) cmdTry(args []string) {
	page, n, err := parsePageAndCount(args)
	if err != nil {
		fmt.Println(err)

		return
	}

	view, found, err := r.pager.TryPage(page, n)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if !found {
		fmt.Println("not loaded (background load scheduled if this call won the race)")

		return
	}

	printPreview(view)
}

func (r *REPL) cmdLet(args []string) {
	page, n, err := parsePageAndCount(args)
	if err != nil {
		fmt.Println(err)

		return
	}

	r.pager.LetGo(page, n)
	fmt.Println("ok")
}

func (r *REPL) cmdStats() {
	s := r.pager.Stats()
	fmt.Printf("size_used:     %d\n", s.SizeUsed)
	fmt.Printf("blocks_loaded: %d\n", s.BlocksLoaded)
	fmt.Printf("evictions:     %d\n", s.EvictionCount)
	fmt.Printf("bytes_evicted: %d\n", s.BytesEvicted)
}

func printPreview(view []byte) {
	const previewLen = 32

	n := len(view)
	preview := view

	if n > previewLen {
		preview = view[:previewLen]
	}

	fmt.Printf("len=%d %s", n, hex.EncodeToString(preview))

	if n > previewLen {
		fmt.Print("...")
	}

	fmt.Println()
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  get <page> [n]   get_page(page, n); prints length and a hex preview
  try <page> [n]   try_page(page, n); never blocks
  let <page> [n]   let_go(page, n)
  stats            print a Stats snapshot
  evict            force an eviction pass
  help             show this help
  exit / quit / q  exit`)
}
