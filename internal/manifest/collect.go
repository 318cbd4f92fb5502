package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Collect walks root, following symbolic links, and gathers every regular
// file whose extension matches ext case-insensitively. Paths are absolute
// with symlinks resolved.
func Collect(root, ext string) (Manifest, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	m := Manifest{}
	w := walker{ext: strings.ToLower(ext), seen: map[string]bool{}, out: m}
	if err := w.dir(abs); err != nil {
		return nil, err
	}
	return m, nil
}

type walker struct {
	ext  string
	seen map[string]bool
	out  Manifest
}

func (w *walker) dir(path string) error {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if w.seen[real] {
		return nil
	}
	w.seen[real] = true

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", path, err)
	}
	for _, e := range entries {
		p := filepath.Join(path, e.Name())
		// os.Stat follows links, unlike the DirEntry type bits.
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			if err := w.dir(p); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() || strings.ToLower(filepath.Ext(p)) != w.ext {
			continue
		}
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		if err := w.out.Add(resolved); err != nil {
			return err
		}
	}
	return nil
}
