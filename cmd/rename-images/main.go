// Command rename-images renames the JPEG files in a directory to a
// sequential dataset naming scheme, e.g. camellia_pollen_0001.jpg.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func main() {
	dir := flag.String("dir", "snapshots", "directory with images to rename")
	base := flag.String("base", "", "new base name, e.g. camellia_pollen")
	dryRun := flag.Bool("dry-run", false, "print the renames without applying them")
	flag.Parse()

	if *base == "" {
		log.Fatal("missing -base name")
	}

	renames, err := planRenames(*dir, *base)
	if err != nil {
		log.Fatalf("plan renames: %v", err)
	}
	if len(renames) == 0 {
		fmt.Println("No .jpg files to rename.")
		return
	}

	for _, r := range renames {
		fmt.Printf("Renamed: %s -> %s\n", r.from, r.to)
	}
	if !*dryRun {
		if err := applyRenames(*dir, renames); err != nil {
			log.Fatalf("apply renames: %v", err)
		}
	}
	fmt.Printf("Batch rename complete: %d files.\n", len(renames))
}

type rename struct {
	from, to string
}

// planRenames lists the .jpg files of dir in sorted order and assigns
// sequential names. It refuses to plan a rename onto an existing file that
// is not itself part of the batch.
func planRenames(dir, base string) ([]rename, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	inBatch := make(map[string]bool, len(files))
	for _, f := range files {
		inBatch[f] = true
	}

	var renames []rename
	for i, f := range files {
		target := fmt.Sprintf("%s_%04d.jpg", base, i+1)
		if target == f {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, target)); err == nil && !inBatch[target] {
			return nil, fmt.Errorf("target %s already exists", target)
		}
		renames = append(renames, rename{from: f, to: target})
	}
	return renames, nil
}

// applyRenames moves every file through a temporary name first, so renames
// whose target is another file of the same batch cannot collide.
func applyRenames(dir string, renames []rename) error {
	for i, r := range renames {
		tmp := fmt.Sprintf(".rename-tmp-%04d", i)
		if err := os.Rename(filepath.Join(dir, r.from), filepath.Join(dir, tmp)); err != nil {
			return fmt.Errorf("stage %s: %w", r.from, err)
		}
	}
	for i, r := range renames {
		tmp := fmt.Sprintf(".rename-tmp-%04d", i)
		if err := os.Rename(filepath.Join(dir, tmp), filepath.Join(dir, r.to)); err != nil {
			return fmt.Errorf("finish %s: %w", r.to, err)
		}
	}
	return nil
}
