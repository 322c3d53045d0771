// Command flatdb inspects and maintains flatdb record files.
//
// Usage:
//
//	flatdb -file orders.db -record-size 16 [flags] <command> [args]
//
// Commands:
//
//	stats                          print store statistics
//	get <key>                      print one record as a hex dump
//	dump                           print every live record
//	remove <key>                   remove a record
//	optimize                       compact the file in key order
//	merge <src> [policy]           merge another file (error|skip|replace|next)
//	backup <dir> <name> [codec]    back up into dir (none|lz4|zstd)
//	backups <dir>                  list the backups in dir
//	restore <dir> <name>           restore a backup over -file
//	shell                          read commands from stdin
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"

	"github.com/hupe1980/flatdb"
	"github.com/hupe1980/flatdb/backup"
	"github.com/hupe1980/flatdb/blobstore"
	"github.com/hupe1980/flatdb/codec"
	"github.com/hupe1980/flatdb/schema"
)

type config struct {
	file       string
	recordSize int
	header     int64
	pageSize   int64
	keyType    string
	keyOffset  int
	keyLen     int
	codec      string
	create     bool
	verbose    bool
}

var errUsage = errors.New("usage")

func main() {
	var cfg config
	flag.StringVar(&cfg.file, "file", "", "Path of the record file")
	flag.IntVar(&cfg.recordSize, "record-size", 0, "Size of one record in bytes")
	flag.Int64Var(&cfg.header, "header", 0, "Size of the file header in bytes")
	flag.Int64Var(&cfg.pageSize, "page-size", 0, "Size of the mapped window in bytes (0 = default)")
	flag.StringVar(&cfg.keyType, "key-type", "uint32", "Key type: uint8|uint16|uint32|uint64|int32|int64|string|positional")
	flag.IntVar(&cfg.keyOffset, "key-offset", 0, "Offset of the key field inside a record")
	flag.IntVar(&cfg.keyLen, "key-len", 0, "Capacity of a string key field")
	flag.StringVar(&cfg.codec, "manifest-codec", "", "Codec for new backup manifests: "+strings.Join(codec.Names(), "|"))
	flag.BoolVar(&cfg.create, "create", false, "Create the file when it does not exist")
	flag.BoolVar(&cfg.verbose, "v", false, "Log progress and store events")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := dispatch(ctx, cfg, flag.Args(), os.Stdin, os.Stdout)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "flatdb:", err)
		os.Exit(1)
	}
}

// dispatch resolves the key type and runs args against the store.
func dispatch(ctx context.Context, cfg config, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	// Restore replaces the file, so it must run without an open store.
	switch args[0] {
	case "restore":
		if len(args) != 3 || cfg.file == "" {
			return fmt.Errorf("%w: -file <path> restore <dir> <name>", errUsage)
		}
		m, err := backup.Restore(ctx, blobstore.NewLocalStore(args[1]), args[2], cfg.file,
			backup.WithLogger(newLogger(cfg).Logger))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "restored %s: %d records, %s\n", m.Name, m.Records, humanize.IBytes(uint64(m.RawSize)))
		return nil
	case "backups":
		if len(args) != 2 {
			return fmt.Errorf("%w: backups <dir>", errUsage)
		}
		return listBackups(ctx, blobstore.NewLocalStore(args[1]), out)
	}

	if cfg.file == "" || cfg.recordSize <= 0 {
		return fmt.Errorf("%w: -file and -record-size are required", errUsage)
	}

	off := cfg.keyOffset
	switch cfg.keyType {
	case "uint8":
		return run(ctx, cfg, schema.Scalar[uint8](off), parseUint[uint8](8), args, in, out)
	case "uint16":
		return run(ctx, cfg, schema.Scalar[uint16](off), parseUint[uint16](16), args, in, out)
	case "uint32":
		return run(ctx, cfg, schema.Scalar[uint32](off), parseUint[uint32](32), args, in, out)
	case "uint64":
		return run(ctx, cfg, schema.Scalar[uint64](off), parseUint[uint64](64), args, in, out)
	case "int32":
		return run(ctx, cfg, schema.Scalar[int32](off), parseInt[int32](32), args, in, out)
	case "int64":
		return run(ctx, cfg, schema.Scalar[int64](off), parseInt[int64](64), args, in, out)
	case "positional":
		return run(ctx, cfg, schema.Positional(), parseInt[int64](64), args, in, out)
	case "string":
		if cfg.keyLen <= 0 {
			return fmt.Errorf("%w: -key-len is required for string keys", errUsage)
		}
		return run(ctx, cfg, schema.FixedString(off, cfg.keyLen), parseString, args, in, out)
	}
	return fmt.Errorf("%w: unknown key type %q", errUsage, cfg.keyType)
}

func newLogger(cfg config) *flatdb.Logger {
	if cfg.verbose {
		return flatdb.NewTextLogger(slog.LevelDebug)
	}
	return flatdb.NewTextLogger(slog.LevelWarn)
}

func storeOptions(cfg config, create bool) []flatdb.Option {
	opts := []flatdb.Option{
		flatdb.WithHeaderOffset(cfg.header),
		flatdb.WithPageSize(cfg.pageSize),
		flatdb.WithLogger(newLogger(cfg)),
	}
	if create {
		opts = append(opts, flatdb.WithCreate(0))
	}
	return opts
}

func run[K comparable](ctx context.Context, cfg config, s schema.Schema[K], parse func(string) (K, error), args []string, in io.Reader, out io.Writer) error {
	store, err := flatdb.Open(ctx, cfg.file, cfg.recordSize, s, storeOptions(cfg, cfg.create)...)
	if err != nil {
		return err
	}

	sess := &session[K]{cfg: cfg, schema: s, store: store, parse: parse, out: out}
	if args[0] == "shell" {
		err = sess.shell(ctx, in)
	} else {
		err = sess.exec(ctx, args)
	}
	return errors.Join(err, store.Close())
}

type session[K comparable] struct {
	cfg    config
	schema schema.Schema[K]
	store  *flatdb.Store[K]
	parse  func(string) (K, error)
	out    io.Writer
}

func (s *session[K]) exec(ctx context.Context, args []string) error {
	switch args[0] {
	case "stats":
		st := s.store.Stats()
		fmt.Fprintf(s.out, "path:          %s\n", st.Path)
		fmt.Fprintf(s.out, "records:       %d\n", st.Records)
		fmt.Fprintf(s.out, "slots:         %d\n", st.Slots)
		fmt.Fprintf(s.out, "tombstones:    %d\n", st.Tombstones)
		fmt.Fprintf(s.out, "record size:   %d\n", st.RecordSize)
		fmt.Fprintf(s.out, "header offset: %d\n", st.HeaderOffset)
		fmt.Fprintf(s.out, "page size:     %d\n", st.PageSize)
		fmt.Fprintf(s.out, "file size:     %d (%s)\n", st.FileSize, humanize.IBytes(uint64(st.FileSize)))
		fmt.Fprintf(s.out, "extent:        %d (%s)\n", s.store.Extent(), humanize.IBytes(uint64(s.store.Extent())))
		return nil

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("%w: get <key>", errUsage)
		}
		key, err := s.parse(args[1])
		if err != nil {
			return err
		}
		rec, err := s.store.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, hex.Dump(rec))
		return nil

	case "dump":
		for e, err := range s.store.All(ctx) {
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%v\t%s\n", e.Key, hex.EncodeToString(e.Record))
		}
		return nil

	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("%w: remove <key>", errUsage)
		}
		key, err := s.parse(args[1])
		if err != nil {
			return err
		}
		return s.store.Remove(key)

	case "optimize":
		before := s.store.Stats().FileSize
		if err := s.store.Optimize(ctx); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "optimized: %s -> %s\n",
			humanize.IBytes(uint64(before)), humanize.IBytes(uint64(s.store.Stats().FileSize)))
		return nil

	case "merge":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("%w: merge <src> [error|skip|replace|next]", errUsage)
		}
		policy := flatdb.MergeError
		if len(args) == 3 {
			p, err := flatdb.ParseMergePolicy(args[2])
			if err != nil {
				return err
			}
			policy = p
		}
		return s.merge(ctx, args[1], policy)

	case "backup":
		if len(args) < 3 || len(args) > 4 {
			return fmt.Errorf("%w: backup <dir> <name> [none|lz4|zstd]", errUsage)
		}
		c := backup.CompressionZSTD
		if len(args) == 4 {
			p, err := backup.ParseCompression(args[3])
			if err != nil {
				return err
			}
			c = p
		}
		opts := []backup.Option{backup.WithCompression(c)}
		if s.cfg.codec != "" {
			mc, ok := codec.ByName(s.cfg.codec)
			if !ok {
				return fmt.Errorf("%w: unknown manifest codec %q", errUsage, s.cfg.codec)
			}
			opts = append(opts, backup.WithCodec(mc))
		}
		m, err := s.store.Backup(ctx, blobstore.NewLocalStore(args[1]), args[2], opts...)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "backup %s: %d records, %s -> %s (%s)\n",
			m.Name, m.Records, humanize.IBytes(uint64(m.RawSize)), humanize.IBytes(uint64(m.StoredSize)), m.Compression)
		return nil

	case "restore", "backups", "shell":
		return fmt.Errorf("%w: %s is not available here", errUsage, args[0])
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func (s *session[K]) merge(ctx context.Context, path string, policy flatdb.MergePolicy) error {
	src, err := flatdb.Open(ctx, path, s.cfg.recordSize, s.schema, storeOptions(s.cfg, false)...)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	remap, err := s.store.Merge(ctx, src, policy)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "merged %d records from %s, %d renamed\n", src.Len(), path, len(remap))
	for old, key := range remap {
		fmt.Fprintf(s.out, "%v -> %v\n", old, key)
	}
	return nil
}

// shell runs one command per input line until EOF or "exit". Command
// errors are printed and do not end the session.
func (s *session[K]) shell(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(s.out, "flatdb %s (%d records). Type 'help' for commands or 'exit' to quit.\n",
		s.store.Path(), s.store.Len())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		words, err := shellquote.Split(line)
		if err != nil {
			fmt.Fprintln(s.out, "parse error:", err)
			continue
		}

		switch words[0] {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(s.out, "stats | get <key> | dump | remove <key> | optimize | merge <src> [policy] | backup <dir> <name> [codec] | exit")
			continue
		}

		if err := s.exec(ctx, words); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(s.out, "error:", err)
		}
	}
}

func listBackups(ctx context.Context, bs blobstore.BlobStore, out io.Writer) error {
	names, err := backup.List(ctx, bs)
	if err != nil {
		return err
	}
	current, err := backup.Latest(ctx, bs)
	if err != nil && !errors.Is(err, backup.ErrNoBackup) {
		return err
	}

	for _, name := range names {
		m, err := backup.ReadManifest(ctx, bs, name)
		if err != nil {
			return err
		}
		marker := " "
		if name == current {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\t%s\t%d records\t%s\t%s\n",
			marker, name, humanize.Time(m.CreatedAt), m.Records, humanize.IBytes(uint64(m.StoredSize)), m.Compression)
	}
	return nil
}

func parseUint[N ~uint8 | ~uint16 | ~uint32 | ~uint64](bits int) func(string) (N, error) {
	return func(s string) (N, error) {
		v, err := strconv.ParseUint(s, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: key %q: %w", flatdb.ErrInvalidArgument, s, err)
		}
		return N(v), nil
	}
}

func parseInt[N ~int32 | ~int64](bits int) func(string) (N, error) {
	return func(s string) (N, error) {
		v, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: key %q: %w", flatdb.ErrInvalidArgument, s, err)
		}
		return N(v), nil
	}
}

func parseString(s string) (string, error) { return s, nil }
