// Command hashstress drives concurrent insert/delete/find workloads
// against a single hash index, built around golang.org/x/sync/errgroup
// in place of a raw sync.WaitGroup and unbuffered channel fan-out.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"hashidx/pkg/hash"
	"hashidx/pkg/kv"

	"golang.org/x/sync/errgroup"
)

var maxDelay int64 = 10

func jitter() time.Duration {
	return time.Duration(rand.Int63n(maxDelay)+1) * time.Millisecond
}

// op is one parsed line of a workload file: "insert <k> <v>", "delete <k>
// <v>", or "find <k>".
type op struct {
	cmd   string
	key   int64
	value int64
}

func parseWorkload(path string) ([]op, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ops []op
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		parsed := op{cmd: fields[0]}
		switch parsed.cmd {
		case "insert", "delete":
			if len(fields) != 3 {
				return nil, fmt.Errorf("malformed line %q", scanner.Text())
			}
			parsed.key, err = strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, err
			}
			parsed.value, err = strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, err
			}
		case "find":
			if len(fields) != 2 {
				return nil, fmt.Errorf("malformed line %q", scanner.Text())
			}
			parsed.key, err = strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown workload op %q", parsed.cmd)
		}
		ops = append(ops, parsed)
	}
	return ops, scanner.Err()
}

// applyShare applies every stride-th op of workload to index, starting at
// offset, jittering between ops to encourage overlap with the other goroutines'
// shares of the workload.
func applyShare(index *hash.Index, workload []op, offset, stride int) error {
	for i := offset; i < len(workload); i += stride {
		time.Sleep(jitter())
		o := workload[i]
		switch o.cmd {
		case "insert":
			if err := index.Insert(hash.NilTxnID, o.key, o.value); err != nil {
				if err != hash.ErrDuplicateEntry {
					return err
				}
			}
		case "delete":
			if err := index.Remove(hash.NilTxnID, o.key, o.value); err != nil {
				if err != hash.ErrKeyNotFound {
					return err
				}
			}
		case "find":
			if _, err := index.GetValue(hash.NilTxnID, o.key); err != nil && err != hash.ErrKeyNotFound {
				return err
			}
		}
	}
	return nil
}

func main() {
	var dbFlag = flag.String("db", "data/hashstress", "path to the index's backing file")
	var workloadFlag = flag.String("workload", "", "workload file (required)")
	var nFlag = flag.Int("n", 4, "number of goroutines to run")
	var verifyFlag = flag.Bool("verify", true, "verify the index's invariants after the workload completes")
	flag.Parse()

	if *workloadFlag == "" {
		fmt.Println("no workload file given")
		return
	}
	workload, err := parseWorkload(*workloadFlag)
	if err != nil {
		fmt.Println(err)
		return
	}

	os.Remove(*dbFlag)
	index, err := hash.OpenIndex("hashstress", *dbFlag, kv.IntComparator, kv.XXHashFunction)
	if err != nil {
		panic(err)
	}
	defer index.Close()

	var g errgroup.Group
	for i := 0; i < *nFlag; i++ {
		offset := i
		g.Go(func() error {
			return applyShare(index, workload, offset, *nFlag)
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Println("workload error:", err)
		return
	}

	if *verifyFlag {
		if err := index.GetTable().CheckIntegrity(); err != nil {
			fmt.Println("integrity violation:", err)
			return
		}
		fmt.Println("integrity ok")
	}
}
