// Command hashcli is a small REPL for exercising a hash index directly:
// open an index file, insert/delete/find keys, and inspect its shape.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hashidx/pkg/config"
	"hashidx/pkg/hash"
	"hashidx/pkg/kv"

	"github.com/icza/backscanner"
)

// setupCloseHandler closes idx on SIGINT/SIGTERM so the buffer pool gets
// a chance to flush.
func setupCloseHandler(idx *hash.Index) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		idx.Close()
		os.Exit(0)
	}()
}

func main() {
	var dbFlag = flag.String("db", "data/"+config.IndexName, "path to the index's backing file")
	var hashFlag = flag.String("hashfn", "xxhash", "hash function: [xxhash,murmur3]")
	flag.Parse()

	hashFn := kv.XXHashFunction
	if *hashFlag == "murmur3" {
		hashFn = kv.MurmurHashFunction
	}

	idx, err := hash.OpenIndex(config.IndexName, *dbFlag, kv.IntComparator, hashFn)
	if err != nil {
		panic(err)
	}
	defer idx.Close()
	setupCloseHandler(idx)

	oplogPath := *dbFlag + config.OpLogSuffix
	oplog, err := os.OpenFile(oplogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		panic(err)
	}
	defer oplog.Close()

	fmt.Println("hashidx> insert/delete/find/depth/verify/stats/snapshot/logtail")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatch(idx, oplog, oplogPath, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(idx *hash.Index, oplog io.Writer, oplogPath, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "insert":
		key, value, err := parseKV(args)
		if err != nil {
			return err
		}
		if err := idx.Insert(hash.NilTxnID, key, value); err != nil {
			return err
		}
		logOp(oplog, "insert", key, value)
		fmt.Println("ok")

	case "delete":
		key, value, err := parseKV(args)
		if err != nil {
			return err
		}
		if err := idx.Remove(hash.NilTxnID, key, value); err != nil {
			return err
		}
		logOp(oplog, "delete", key, value)
		fmt.Println("ok")

	case "find":
		key, err := parseKey(args)
		if err != nil {
			return err
		}
		values, err := idx.GetValue(hash.NilTxnID, key)
		if err != nil {
			return err
		}
		fmt.Println(values)

	case "depth":
		depth, err := idx.GetTable().GetGlobalDepth()
		if err != nil {
			return err
		}
		fmt.Println(depth)

	case "verify":
		if err := idx.GetTable().CheckIntegrity(); err != nil {
			return err
		}
		fmt.Println("ok")

	case "stats":
		stats, err := idx.GetTable().Stats()
		if err != nil {
			return err
		}
		fmt.Printf("global depth: %d\ndirectory size: %d\nbuckets: %d\noccupancy: %d/%d\n",
			stats.GlobalDepth, stats.DirectorySize, stats.BucketCount, stats.TotalOccupancy, stats.TotalCapacity)

	case "snapshot":
		if len(args) != 1 {
			return fmt.Errorf("usage: snapshot <dest path>")
		}
		if err := hash.SnapshotIndex(idx, args[0]); err != nil {
			return err
		}
		fmt.Println("snapshot written to", args[0])

	case "logtail":
		n := 10
		if len(args) == 1 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("usage: logtail [n]")
			}
			n = parsed
		}
		return logtail(oplogPath, n)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func parseKey(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one key argument")
	}
	return strconv.ParseInt(args[0], 10, 64)
}

func parseKV(args []string) (int64, int64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("expected key and value arguments")
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	value, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return key, value, nil
}

// logOp appends one diagnostic line to the index's .oplog. This is never
// read back by the index itself -- only logtail tails it for a human.
func logOp(w io.Writer, op string, key, value int64) {
	fmt.Fprintf(w, "%s %s %d %d\n", time.Now().UTC().Format(time.RFC3339), op, key, value)
}

// logtail prints the last n lines of the file at path, oldest of the
// tailed lines first, by scanning backward from the end with backscanner
// rather than reading the whole file forward.
func logtail(path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	lines := make([]string, 0, n)
	scanner := backscanner.New(f, int(info.Size()))
	for i := 0; i < n; i++ {
		line, _, err := scanner.Line()
		if err != nil {
			break
		}
		lines = append(lines, line)
	}
	for i := len(lines) - 1; i >= 0; i-- {
		fmt.Println(lines[i])
	}
	return nil
}
