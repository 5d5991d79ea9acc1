// terraintool is a CLI utility for inspecting terrain fragment stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/storage/fragstore"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "list", "ls":
		cmdList(args)
	case "show":
		cmdShow(args)
	case "verify":
		cmdVerify(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`terraintool - terrain fragment store utility

Usage:
  terraintool <command> [options]

Commands:
  info <store.db>                  Show store summary and bake metadata
  list <store.db>                  List stored fragments
  show <store.db> <x> <y>          Show one fragment's levels and buckets
  verify <store.db>                Decode every chunk and vertex bucket

Examples:
  terraintool info terrain.db
  terraintool list -n 20 terrain.db
  terraintool show -chunks terrain.db 0 -1
  terraintool verify terrain.db`)
}

func openStore(path string) *fragstore.Store {
	s, err := fragstore.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return s
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraintool info <store.db>")
		os.Exit(1)
	}
	ctx := context.Background()
	store := openStore(args[0])
	defer store.Close()

	info, err := store.Info(ctx)
	if err != nil {
		fail(err)
	}
	meta, err := store.AllMeta(ctx)
	if err != nil {
		fail(err)
	}

	fmt.Printf("Store:     %s\n", args[0])
	fmt.Printf("Fragments: %d\n", info.Fragments)
	fmt.Printf("Chunks:    %s\n", humanize.Comma(int64(info.Chunks)))
	fmt.Printf("Buckets:   %d\n", info.Buckets)
	fmt.Printf("Size:      %s (headers %s, indices %s, vertices %s)\n",
		humanize.Bytes(uint64(info.TotalBytes())),
		humanize.Bytes(uint64(info.HeaderBytes)),
		humanize.Bytes(uint64(info.IndexBytes)),
		humanize.Bytes(uint64(info.VertexBytes)))

	if len(meta) == 0 {
		return
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println()
	fmt.Println("Metadata:")
	for _, k := range keys {
		fmt.Printf("  %-16s %s\n", k, meta[k])
	}
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("n", 0, "Limit output to N fragments (0 = all)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraintool list <store.db>")
		os.Exit(1)
	}
	ctx := context.Background()
	store := openStore(fs.Arg(0))
	defer store.Close()

	ids, err := store.List(ctx)
	if err != nil {
		fail(err)
	}

	for i, id := range ids {
		if *limit > 0 && i >= *limit {
			fmt.Fprintf(os.Stderr, "\n(showing first %d of %d, use -n 0 for all)\n", *limit, len(ids))
			return
		}
		h, err := store.Header(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v: %v\n", id, err)
			continue
		}
		b := h.Meta.Bounds
		fmt.Printf("%-10v levels=%d chunks=%-5d height=[%.1f, %.1f]\n",
			id, h.Meta.Resolution, len(h.Chunks), b.Min[1], b.Max[1])
	}
}

func cmdShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	chunks := fs.Bool("chunks", false, "Print every chunk record")
	fs.Parse(args)

	if fs.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "Usage: terraintool show <store.db> <x> <y>")
		os.Exit(1)
	}
	x, errX := strconv.ParseInt(fs.Arg(1), 10, 32)
	y, errY := strconv.ParseInt(fs.Arg(2), 10, 32)
	if errX != nil || errY != nil {
		fail(fmt.Errorf("bad fragment coordinates %q %q", fs.Arg(1), fs.Arg(2)))
	}
	id := terrain.FragmentID{X: int32(x), Y: int32(y)}

	ctx := context.Background()
	store := openStore(fs.Arg(0))
	defer store.Close()

	h, err := store.Header(ctx, id)
	if errors.Is(err, fragstore.ErrNotFound) {
		fail(fmt.Errorf("fragment %v not in store", id))
	} else if err != nil {
		fail(err)
	}

	m := h.Meta
	fmt.Printf("Fragment:  %v (format v%d)\n", id, h.Version)
	fmt.Printf("Samples:   %d x %d\n", m.Size, m.Size)
	fmt.Printf("Width:     %.1f\n", m.Width)
	fmt.Printf("Bounds:    %v .. %v\n", m.Bounds.Min, m.Bounds.Max)
	if m.Skirts {
		fmt.Printf("Skirts:    %.1f deep\n", m.SkirtDepth)
	}
	fmt.Println()

	tree, err := quadtree.New[terrain.ChunkData](m.Resolution)
	if err != nil {
		fail(err)
	}
	fmt.Println("Level  Chunks  MaxError  Vertices")
	for depth := 0; depth < m.Resolution; depth++ {
		first, end := tree.LevelRange(depth)
		var worst float32
		for _, r := range h.Chunks[first:end] {
			worst = max(worst, r.MaxError)
		}
		verts := 0
		if depth < len(m.BucketSizes) {
			verts = m.BucketSizes[depth]
		}
		fmt.Printf("%5d  %6d  %8.2f  %8s\n", depth, int(end-first), worst, humanize.Comma(int64(verts)))
	}

	if !*chunks {
		return
	}
	fmt.Println()
	fmt.Println(" Node  Depth  Bucket  MaxError")
	for _, r := range h.Chunks {
		fmt.Printf("%5d  %5d  %6d  %8.2f\n", r.Node, tree.Depth(r.Node), r.Bucket, r.MaxError)
	}
}

func cmdVerify(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraintool verify <store.db>")
		os.Exit(1)
	}
	ctx := context.Background()
	store := openStore(args[0])
	defer store.Close()

	ids, err := store.List(ctx)
	if err != nil {
		fail(err)
	}

	bad := 0
	triangles := 0
	for _, id := range ids {
		f, err := store.LoadFragment(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v: header: %v\n", id, err)
			bad++
			continue
		}
		for level := 0; level < f.Buckets(); level++ {
			if _, err := store.LoadBucket(ctx, id, level); err != nil {
				fmt.Fprintf(os.Stderr, "%v: bucket %d: %v\n", id, level, err)
				bad++
			}
		}
		for i := 0; i < f.Tree().Len(); i++ {
			c, err := store.LoadChunk(ctx, terrain.ChunkID{Fragment: id, Node: quadtree.Index(i)})
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v: chunk %d: %v\n", id, i, err)
				bad++
				continue
			}
			triangles += c.Triangles()
		}
	}

	fmt.Printf("Checked %d fragments, %s triangles\n", len(ids), humanize.Comma(int64(triangles)))
	if bad > 0 {
		fmt.Fprintf(os.Stderr, "%d errors\n", bad)
		os.Exit(1)
	}
}
