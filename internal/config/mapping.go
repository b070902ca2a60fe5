package config

import (
	"fmt"
	"strings"
)

// PathMapping is one parsed `SRC:DST` or `SRC=DST` pair from the `--map`
// grammar (C6). Expansion into concrete TemplateUnits happens in
// internal/discover, which needs filesystem access this package
// deliberately avoids so it stays trivially testable.
type PathMapping struct {
	Src string
	Dst string
}

// ParseMappings splits a comma-separated list of `SRC:DST`/`SRC=DST` pairs.
// Either `:` or `=` separates source from destination within one pair;
// multiple pairs are comma-separated, matching `--map a:b,c:d` and
// repeated `--map` flags collapsed into one slice by the CLI layer.
func ParseMappings(raw string) ([]PathMapping, error) {
	var mappings []PathMapping
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, err := parseMapping(part)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func parseMapping(pair string) (PathMapping, error) {
	sep := strings.IndexAny(pair, ":=")
	if sep < 0 {
		return PathMapping{}, fmt.Errorf("mapping %q: expected SRC:DST or SRC=DST", pair)
	}
	src := strings.TrimSpace(pair[:sep])
	dst := strings.TrimSpace(pair[sep+1:])
	if src == "" || dst == "" {
		return PathMapping{}, fmt.Errorf("mapping %q: source and destination must be non-empty", pair)
	}
	return PathMapping{Src: src, Dst: dst}, nil
}
