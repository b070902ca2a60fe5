// Package discover implements source discovery (C6): expanding `SRC:DST`
// mappings into concrete TemplateUnits, and rejecting configurations whose
// sources and destinations collide, loop, or would destroy their own input.
//
// Grounded on original_source/src/secrets/manager.rs's
// SecretFileOpts::resolve (loop/destructive checks) and collisions
// (duplicate/nested destination checks), and on its handle_write directory
// walk for expanding a directory source into one TemplateUnit per file.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bpbradley/locket/internal/config"
	locketerrors "github.com/bpbradley/locket/internal/errors"
)

// Options configures expansion defaults applied to every discovered unit;
// no mapping or source can override them individually.
type Options struct {
	InjectPolicy  config.InjectPolicy
	MaxFileSize   int64
	FileMode      uint32
	DirMode       uint32
	Owner         *config.Owner
	IncludeHidden bool
}

// Expand walks every mapping and produces the full set of TemplateUnits a
// single resolution cycle must render. It validates the mapping set as a
// whole (collisions, loops, destructive overlaps, duplicate destinations)
// before returning, so a bad configuration is caught before the first
// cycle runs.
func Expand(mappings []config.PathMapping, opts Options) ([]config.TemplateUnit, error) {
	if err := checkLoopsAndDestruction(mappings); err != nil {
		return nil, err
	}

	var units []config.TemplateUnit
	for _, m := range mappings {
		expanded, err := expandOne(m, opts)
		if err != nil {
			return nil, err
		}
		units = append(units, expanded...)
	}

	if err := checkCollisions(units); err != nil {
		return nil, err
	}

	return units, nil
}

func expandOne(m config.PathMapping, opts Options) ([]config.TemplateUnit, error) {
	info, err := os.Stat(m.Src)
	if err != nil {
		return nil, locketerrors.Config("discover.Expand", fmt.Errorf("stat source %q: %w", m.Src, err))
	}

	if !info.IsDir() {
		return []config.TemplateUnit{newFileUnit(m.Src, m.Dst, opts)}, nil
	}

	var units []config.TemplateUnit
	err = filepath.WalkDir(m.Src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
			return nil
		}

		// Symlinks are followed for identity (content resolution reads
		// through them) but never themselves materialized as links at the
		// destination — the destination always receives rendered bytes of
		// a regular file.
		if d.Type()&fs.ModeSymlink != 0 {
			target, statErr := os.Stat(path)
			if statErr != nil {
				return fmt.Errorf("resolving symlink %q: %w", path, statErr)
			}
			if target.IsDir() {
				return nil
			}
		}

		rel, relErr := filepath.Rel(m.Src, path)
		if relErr != nil {
			return relErr
		}
		dst := filepath.Join(m.Dst, rel)
		units = append(units, newFileUnit(path, dst, opts))
		return nil
	})
	if err != nil {
		return nil, locketerrors.Config("discover.Expand", fmt.Errorf("walking source %q: %w", m.Src, err))
	}
	return units, nil
}

func newFileUnit(src, dst string, opts Options) config.TemplateUnit {
	return config.TemplateUnit{
		Template: config.Template{
			Kind:       config.TemplateFile,
			SourcePath: src,
		},
		Destination:  config.PathOnDisk(dst),
		InjectPolicy: opts.InjectPolicy,
		MaxFileSize:  opts.MaxFileSize,
		FileMode:     opts.FileMode,
		DirMode:      opts.DirMode,
		Owner:        opts.Owner,
	}
}

// checkLoopsAndDestruction rejects a mapping set where any destination lies
// inside one of the sources (Loop) or any source lies inside one of the
// destinations (Destructive) — ported from
// SecretFileOpts::resolve's dst.starts_with(src)/src.starts_with(dst)
// checks.
func checkLoopsAndDestruction(mappings []config.PathMapping) error {
	var sources, destinations []string
	for _, m := range mappings {
		sources = append(sources, cleanAbs(m.Src))
		destinations = append(destinations, cleanAbs(m.Dst))
	}

	for _, src := range sources {
		for _, dst := range destinations {
			if isAncestor(src, dst) {
				return locketerrors.ConfigSuggest("discover.checkLoopsAndDestruction",
					"choose a destination outside the watched source tree",
					fmt.Errorf("loop: destination %q is inside source %q", dst, src))
			}
			if isAncestor(dst, src) {
				return locketerrors.ConfigSuggest("discover.checkLoopsAndDestruction",
					"choose a source outside the materialized destination tree",
					fmt.Errorf("destructive: source %q is inside destination %q", src, dst))
			}
		}
	}
	return nil
}

// checkCollisions rejects two sources writing the same destination, and one
// destination nested inside another — ported from manager.rs's collisions,
// which sorts entries and does a linear adjacency scan.
func checkCollisions(units []config.TemplateUnit) error {
	paths := make([]string, 0, len(units))
	for _, u := range units {
		if u.Destination.Kind == config.DestinationPath {
			paths = append(paths, cleanAbs(u.Destination.AbsolutePath))
		}
	}
	sort.Strings(paths)

	for i := 1; i < len(paths); i++ {
		if paths[i] == paths[i-1] {
			return locketerrors.Config("discover.checkCollisions", fmt.Errorf("duplicate destination: %q is written by more than one source", paths[i]))
		}
		if isAncestor(paths[i-1], paths[i]) {
			return locketerrors.Config("discover.checkCollisions", fmt.Errorf("structure conflict: destination %q is nested inside destination %q", paths[i], paths[i-1]))
		}
	}
	return nil
}

func cleanAbs(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}

// isAncestor reports whether dst is equal to or nested beneath src.
func isAncestor(src, dst string) bool {
	if src == dst {
		return true
	}
	return strings.HasPrefix(dst, src+string(filepath.Separator))
}
