// Package config defines the parsed configuration shapes locket's core
// operates on. Loading these shapes from flags/environment is a CLI-layer
// concern (cmd/locket); this package only defines what a fully-parsed
// configuration looks like, grounded on
// systmms/dsops/internal/config.Config's struct shapes and on
// original_source/src/secrets/manager.rs's SecretFileOpts.
package config

import "time"

// InjectPolicy controls what happens to a placeholder when its reference
// fails to resolve, applied by the renderer (C2) at render time.
type InjectPolicy string

const (
	// InjectError aborts the entire cycle; the destination is left untouched.
	InjectError InjectPolicy = "error"
	// InjectPassthrough keeps the original "{{ ... }}" text in place of the
	// value. "copy-unmodified" is accepted as a synonym spelling.
	InjectPassthrough InjectPolicy = "passthrough"
	// InjectIgnore removes the placeholder (empty substitution) and logs a warning.
	InjectIgnore InjectPolicy = "ignore"
)

// ParseInjectPolicy accepts both the canonical spellings and
// "copy-unmodified"/"copy_unmodified" as synonyms for passthrough.
func ParseInjectPolicy(s string) (InjectPolicy, bool) {
	switch s {
	case "error":
		return InjectError, true
	case "passthrough", "copy-unmodified", "copy_unmodified":
		return InjectPassthrough, true
	case "ignore":
		return InjectIgnore, true
	default:
		return "", false
	}
}

// DestinationKind tags a Destination's variant.
type DestinationKind string

const (
	DestinationPath        DestinationKind = "path"
	DestinationEnvironment DestinationKind = "environment"
	DestinationVolume      DestinationKind = "volume"
)

// Destination is where a rendered template's bytes end up.
type Destination struct {
	Kind DestinationKind

	// PathOnDisk
	AbsolutePath string

	// EnvironmentEntry
	EnvName string

	// VolumeMount
	VolumeID     string
	RelativePath string
}

func PathOnDisk(path string) Destination {
	return Destination{Kind: DestinationPath, AbsolutePath: path}
}

func EnvironmentEntry(name string) Destination {
	return Destination{Kind: DestinationEnvironment, EnvName: name}
}

func VolumeMount(volumeID, relPath string) Destination {
	return Destination{Kind: DestinationVolume, VolumeID: volumeID, RelativePath: relPath}
}

// TemplateKind tags a Template's variant.
type TemplateKind string

const (
	TemplateFile    TemplateKind = "file"
	TemplateInline  TemplateKind = "inline"
	TemplateLiteral TemplateKind = "literal"
)

// Template is the source of a rendering job's raw bytes.
type Template struct {
	Kind TemplateKind

	// FileTemplate
	SourcePath string
	ModTime    time.Time
	Size       int64

	// InlineTemplate / LiteralFile share Label
	Label string
	// InlineTemplate
	Text string
	// LiteralFile
	LiteralPath string

	// Bytes holds already-loaded content for FileTemplate/LiteralFile once
	// read; nil means "not yet loaded".
	Bytes []byte
}

// TemplateUnit is one logical rendering job, produced by discovery (C6) and
// consumed by the resolver (C5), renderer (C2), and materializer (C7).
type TemplateUnit struct {
	Template    Template
	Destination Destination

	InjectPolicy InjectPolicy
	MaxFileSize  int64

	FileMode uint32
	DirMode  uint32
	Owner    *Owner
}

// Owner names a uid/gid pair to apply to a materialized destination.
type Owner struct {
	UID int
	GID int
}

// DefaultMaxFileSize matches the common default of 10MiB
// ("10M" in original_source/src/secrets/manager.rs).
const DefaultMaxFileSize = 10 * 1024 * 1024

// DefaultFileMode and DefaultDirMode mirror common secrets-directory
// conventions: owner read/write only for files, owner rwx for directories.
const (
	DefaultFileMode uint32 = 0600
	DefaultDirMode  uint32 = 0700
)
