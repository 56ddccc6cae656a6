// Package main is a batch and interactive driver for the bindex library.
//
// It rebuilds the index file on every run, optionally seeds it with
// generated keys, replays batch operation files in the harness format
// ("<key>", "i <key>" or "d <key>" per line), and, with -i, serves an
// interactive prompt.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-faker/faker/v4"
	"github.com/golang/snappy"

	bindex "github.com/oda/bindex"
	"github.com/oda/bindex/bbuf"
	"github.com/oda/bindex/bdisk"
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

type driver struct {
	path string
	bp   *bbuf.BufferPool
	tree *bindex.Tree
}

func main() {
	var (
		dbPath      = flag.String("db", "bindex.db", "database file (recreated on every run)")
		poolSize    = flag.Int("pool", 256, "buffer pool frames")
		leafMax     = flag.Int("leaf-max", 64, "leaf page max size")
		internalMax = flag.Int("internal-max", 64, "internal page max size")
		loadFile    = flag.String("load", "", "batch operations file to replay")
		seedCount   = flag.Int("seed", 0, "seed the index with N generated keys")
		scanFrom    = flag.Uint64("scan", 0, "scan keys starting at the given key")
		doPrint     = flag.Bool("print", false, "dump the tree pages after batch work")
		drawPath    = flag.String("draw", "", "write a Graphviz rendering to the given path")
		dumpPath    = flag.String("dump", "", "write a snappy-compressed snapshot to the given path")
		showStats   = flag.Bool("stats", false, "show file statistics")
		interactive = flag.Bool("i", false, "start an interactive prompt")
	)
	flag.Parse()

	d, err := open(*dbPath, *poolSize, *leafMax, *internalMax)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer d.bp.Close()

	if *seedCount > 0 {
		if err := d.seed(*seedCount); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}
	if *loadFile != "" {
		if err := d.load(*loadFile); err != nil {
			log.Fatalf("load: %v", err)
		}
	}
	if flag.Arg(0) != "" {
		log.Fatalf("unexpected argument %q", flag.Arg(0))
	}

	if *scanFrom > 0 {
		if err := d.scan(*scanFrom); err != nil {
			log.Fatalf("scan: %v", err)
		}
	}
	if *doPrint {
		if err := d.tree.Print(); err != nil {
			log.Fatalf("print: %v", err)
		}
	}
	if *drawPath != "" {
		if err := d.tree.DrawFile(*drawPath); err != nil {
			log.Fatalf("draw: %v", err)
		}
		infoColor.Printf("wrote %s\n", *drawPath)
	}
	if *showStats {
		if err := d.stats(); err != nil {
			log.Fatalf("stats: %v", err)
		}
	}
	if *dumpPath != "" {
		if err := d.dump(*dumpPath); err != nil {
			log.Fatalf("dump: %v", err)
		}
	}

	if *interactive {
		d.repl()
	}
}

// open recreates the database file and builds the tree over a fresh header
// page.
func open(path string, poolSize, leafMax, internalMax int) (*driver, error) {
	_ = os.Remove(path)

	disk, err := bdisk.Open(path)
	if err != nil {
		return nil, err
	}
	bp := bbuf.New(disk, poolSize)

	headerID, guard, err := bp.NewPage()
	if err != nil {
		bp.Close()
		return nil, err
	}
	guard.Drop()

	tree, err := bindex.New(path, headerID, bp, bindex.CompareUint64, leafMax, internalMax)
	if err != nil {
		bp.Close()
		return nil, err
	}
	return &driver{path: path, bp: bp, tree: tree}, nil
}

// seed inserts n keys derived from generated identifiers.
func (d *driver) seed(n int) error {
	inserted := 0
	for inserted < n {
		key := xxhash.Sum64String(faker.UUIDHyphenated())
		ok, err := d.tree.Insert(key, bindex.NewRID(key, 0))
		if err != nil {
			return err
		}
		if ok {
			inserted++
		}
	}
	infoColor.Printf("seeded %s keys\n", humanize.Comma(int64(n)))
	return nil
}

// load replays a batch operations file. A bare key means insert; "i <key>"
// and "d <key>" select the operation explicitly.
func (d *driver) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	inserts, deletes := 0, 0
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		op := "i"
		keyField := fields[0]
		if len(fields) == 2 {
			op = fields[0]
			keyField = fields[1]
		}
		key, err := strconv.ParseUint(keyField, 10, 64)
		if err != nil {
			return fmt.Errorf("%s:%d: bad key %q", path, lineNo, keyField)
		}

		switch op {
		case "i":
			if _, err := d.tree.Insert(key, bindex.NewRID(key, 0)); err != nil {
				return fmt.Errorf("%s:%d: insert %d: %w", path, lineNo, key, err)
			}
			inserts++
		case "d":
			if err := d.tree.Remove(key); err != nil {
				return fmt.Errorf("%s:%d: delete %d: %w", path, lineNo, key, err)
			}
			deletes++
		default:
			return fmt.Errorf("%s:%d: unknown op %q", path, lineNo, op)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	infoColor.Printf("replayed %s: %d inserts, %d deletes\n", path, inserts, deletes)
	return nil
}

func (d *driver) scan(from uint64) error {
	it, err := d.tree.BeginAt(from)
	if err != nil {
		return err
	}
	count := 0
	for !it.IsEnd() {
		key, rid, ok, err := it.Entry()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Printf("%d -> (%d, %d)\n", key, rid.DataPageID(), rid.SlotNum())
		count++
		if err := it.Next(); err != nil {
			return err
		}
	}
	infoColor.Printf("%d entries\n", count)
	return nil
}

func (d *driver) stats() error {
	if err := d.bp.FlushAll(); err != nil {
		return err
	}
	info, err := os.Stat(d.path)
	if err != nil {
		return err
	}
	root, err := d.tree.GetRootPageID()
	if err != nil {
		return err
	}
	fmt.Printf("file:  %s (%s)\n", d.path, humanize.Bytes(uint64(info.Size())))
	fmt.Printf("pages: %s of %s each\n",
		humanize.Comma(info.Size()/bdisk.PageSize), humanize.Bytes(bdisk.PageSize))
	fmt.Printf("root:  page %d\n", root)
	return nil
}

// dump writes a snappy-compressed snapshot of the database file.
func (d *driver) dump(path string) error {
	if err := d.bp.FlushAll(); err != nil {
		return err
	}
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, raw)
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return err
	}
	infoColor.Printf("dumped %s -> %s (%s -> %s)\n",
		d.path, path, humanize.Bytes(uint64(len(raw))), humanize.Bytes(uint64(len(compressed))))
	return nil
}

func (d *driver) repl() {
	infoColor.Println("commands: insert <k>, delete <k>, get <k>, scan [k], print, draw <file>, stats, quit")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && d.execute(fields) {
			return
		}
		fmt.Print("> ")
	}
}

// execute runs one prompt command; it returns true on quit.
func (d *driver) execute(fields []string) bool {
	arg := func(i int) (uint64, bool) {
		if i >= len(fields) {
			errColor.Println("missing key argument")
			return 0, false
		}
		k, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			errColor.Printf("bad key %q\n", fields[i])
			return 0, false
		}
		return k, true
	}

	switch fields[0] {
	case "insert", "i":
		key, ok := arg(1)
		if !ok {
			return false
		}
		inserted, err := d.tree.Insert(key, bindex.NewRID(key, 0))
		switch {
		case err != nil:
			errColor.Printf("insert: %v\n", err)
		case !inserted:
			errColor.Printf("duplicate key %d\n", key)
		default:
			okColor.Println("ok")
		}

	case "delete", "d":
		key, ok := arg(1)
		if !ok {
			return false
		}
		if err := d.tree.Remove(key); err != nil {
			errColor.Printf("delete: %v\n", err)
		} else {
			okColor.Println("ok")
		}

	case "get", "g":
		key, ok := arg(1)
		if !ok {
			return false
		}
		rid, found, err := d.tree.GetValue(key)
		switch {
		case err != nil:
			errColor.Printf("get: %v\n", err)
		case !found:
			errColor.Println("not found")
		default:
			okColor.Printf("(%d, %d)\n", rid.DataPageID(), rid.SlotNum())
		}

	case "scan":
		from := uint64(0)
		if len(fields) > 1 {
			k, ok := arg(1)
			if !ok {
				return false
			}
			from = k
		}
		var err error
		if from == 0 {
			err = d.scanAll()
		} else {
			err = d.scan(from)
		}
		if err != nil {
			errColor.Printf("scan: %v\n", err)
		}

	case "print":
		if err := d.tree.Print(); err != nil {
			errColor.Printf("print: %v\n", err)
		}

	case "draw":
		if len(fields) < 2 {
			errColor.Println("missing output path")
			return false
		}
		if err := d.tree.DrawFile(fields[1]); err != nil {
			errColor.Printf("draw: %v\n", err)
		} else {
			okColor.Printf("wrote %s\n", fields[1])
		}

	case "stats":
		if err := d.stats(); err != nil {
			errColor.Printf("stats: %v\n", err)
		}

	case "quit", "q", "exit":
		return true

	default:
		errColor.Printf("unknown command %q\n", fields[0])
	}
	return false
}

func (d *driver) scanAll() error {
	it, err := d.tree.Begin()
	if err != nil {
		return err
	}
	count := 0
	for !it.IsEnd() {
		key, rid, ok, err := it.Entry()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Printf("%d -> (%d, %d)\n", key, rid.DataPageID(), rid.SlotNum())
		count++
		if err := it.Next(); err != nil {
			return err
		}
	}
	infoColor.Printf("%d entries\n", count)
	return nil
}
