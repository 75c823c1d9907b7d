// Command engineshell is a small interactive REPL for inspecting and poking
// a storage-engine data file directly, without going through a collaborator
// service: fetch pages, run tree lookups, force a flush, dump raw frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sourcegraph/conc/pool"

	"github.com/ticketstore/storageengine/internal/btree"
	"github.com/ticketstore/storageengine/internal/bufferpool"
	"github.com/ticketstore/storageengine/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to engine config YAML (defaults used if omitted)")
		dataFile   = flag.String("data", "", "override the data file path from config")
	)
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if *dataFile != "" {
		cfg.Storage.DataFile = *dataFile
	}

	bp, err := bufferpool.Open(cfg.Storage.DataFile, cfg.Storage.PoolSize, cfg.Replacer.K, cfg.Proxy.IdleWaitMS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", cfg.Storage.DataFile, err)
		os.Exit(1)
	}
	defer func() { _ = bp.Close() }()

	tree, err := btree.Open(bp, btree.DefaultComparator, 0, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open tree: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "engine> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("attached to %s (pool size %d, K=%d)\n", cfg.Storage.DataFile, cfg.Storage.PoolSize, cfg.Replacer.K)
	fmt.Println("type help for a command list")

	sh := &shell{bp: bp, tree: tree}

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		sh.dispatch(line)
	}
}

type shell struct {
	bp   *bufferpool.BufferPool
	tree *btree.Tree
}

func (s *shell) dispatch(line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "help":
		printHelp()
	case "root":
		err = s.cmdRoot()
	case "get":
		err = s.cmdGet(args)
	case "put":
		err = s.cmdPut(args)
	case "del":
		err = s.cmdDel(args)
	case "scan":
		err = s.cmdScan(args)
	case "flush":
		err = s.bp.FlushAll()
	case "dump":
		err = s.cmdDump(args)
	default:
		fmt.Printf("unknown command: %s (try help)\n", cmd)
		return
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func printHelp() {
	fmt.Println(`commands:
  root                  print the current root page id
  get <key>             look up a key
  put <key> <pageid> <slot>  insert key -> RecordID{pageid,slot}
  del <key>             remove a key
  scan [from]           print entries from a key (or the start) in order
  flush                 flush every dirty frame
  dump <id> [id...]     print a hex preview of each page, fetched in parallel
  help                  show this text
  quit | exit           leave the shell`)
}

func (s *shell) cmdRoot() error {
	root, err := s.tree.GetRootPageID()
	if err != nil {
		return err
	}
	if root == bufferpool.InvalidPageID {
		fmt.Println("root: <empty tree>")
		return nil
	}
	fmt.Printf("root: %d\n", root)
	return nil
}

func (s *shell) cmdGet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	v, ok, err := s.tree.GetValue(key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not found")
		return nil
	}
	fmt.Printf("%d -> {page:%d slot:%d}\n", key, v.PageID, v.Slot)
	return nil
}

func (s *shell) cmdPut(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: put <key> <pageid> <slot>")
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	pageID, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return err
	}
	slot, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return err
	}
	ok, err := s.tree.Insert(key, btree.RecordID{PageID: int32(pageID), Slot: uint16(slot)})
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("key already present")
		return nil
	}
	fmt.Println("ok")
	return nil
}

func (s *shell) cmdDel(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: del <key>")
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	ok, err := s.tree.Remove(key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not found")
		return nil
	}
	fmt.Println("ok")
	return nil
}

func (s *shell) cmdScan(args []string) error {
	var it *btree.Iterator
	var err error
	if len(args) == 1 {
		key, parseErr := strconv.ParseInt(args[0], 10, 64)
		if parseErr != nil {
			return parseErr
		}
		it, err = s.tree.LowerBound(key)
	} else {
		it, err = s.tree.Begin()
	}
	if err != nil {
		return err
	}
	defer it.Drop()

	count := 0
	for !it.IsEnd() {
		v := it.Value()
		fmt.Printf("%d -> {page:%d slot:%d}\n", it.Key(), v.PageID, v.Slot)
		count++
		it.Next()
	}
	fmt.Printf("(%d entries)\n", count)
	return nil
}

// cmdDump fetches every requested page concurrently (bounded fan-out via
// conc/pool) and prints a short hex preview of each, in the order requested.
func (s *shell) cmdDump(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: dump <id> [id...]")
	}
	ids := make([]int32, len(args))
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return err
		}
		ids[i] = int32(id)
	}

	previews := make([]string, len(ids))
	p := pool.New().WithErrors().WithMaxGoroutines(8)
	for i, id := range ids {
		i, id := i, id
		p.Go(func() error {
			g, err := s.bp.FetchRead(context.Background(), id)
			if err != nil {
				return fmt.Errorf("page %d: %w", id, err)
			}
			defer g.Drop()
			previews[i] = fmt.Sprintf("page %d: % x...", id, g.Data()[:16])
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}
	for _, line := range previews {
		fmt.Println(line)
	}
	return nil
}
