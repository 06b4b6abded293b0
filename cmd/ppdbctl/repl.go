package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/siltdb/ppdb/internal/errs"
	"github.com/siltdb/ppdb/pkg/ppdb"
)

const replHelp = `  put <key> <value>   Store a value under key
  get <key>           Print the value for key
  del <key>           Delete key
  scan [limit]        Print up to limit keys in order (default 20)
  help                Show this help
  exit / quit / q     Leave the REPL`

func runREPL(db *ppdb.DB) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("ppdbctl — type 'help' for commands, 'exit' to quit")
	for {
		input, err := line.Prompt("ppdb> ")
		if err != nil { // EOF or Ctrl-C/Ctrl-D
			fmt.Println()
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !dispatch(db, input) {
			return
		}
	}
}

// dispatch runs one REPL command and reports whether the REPL should keep
// looping.
func dispatch(db *ppdb.DB, input string) bool {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "exit", "quit", "q":
		return false
	case "help":
		fmt.Println(replHelp)
	case "put":
		if len(args) < 2 {
			fmt.Println("usage: put <key> <value>")
			return true
		}
		value := strings.Join(args[1:], " ")
		if err := db.Put([]byte(args[0]), []byte(value)); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "get":
		if len(args) != 1 {
			fmt.Println("usage: get <key>")
			return true
		}
		v, err := db.Get([]byte(args[0]))
		if errs.Is(err, errs.NotFound) {
			fmt.Println("(not found)")
			return true
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println(string(v))
	case "del":
		if len(args) != 1 {
			fmt.Println("usage: del <key>")
			return true
		}
		if err := db.Delete([]byte(args[0])); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "scan":
		limit := 20
		if len(args) == 1 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				limit = n
			}
		}
		it := db.Iterate()
		n := 0
		for n < limit && it.Next() {
			fmt.Printf("%s = %s\n", it.Key(), it.Value())
			n++
		}
		if n == 0 {
			fmt.Println("(empty)")
		}
	default:
		fmt.Printf("unknown command %q; type 'help'\n", cmd)
	}
	return true
}
