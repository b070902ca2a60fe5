// Package volume implements the Docker volume driver (C10): a
// docker/go-plugins-helpers volume.Driver that resolves a secret reference
// on Mount and exposes it as a file inside a per-volume tmpfs, never
// touching persistent disk.
//
// Grounded directly on rahoogan-docker-volume-secrets's
// DockerSecretsVolumeDriver (volumes/driver.go): the Create-registers/
// Mount-fetches split, the mountpoint-as-sentinel-file check in
// checkSecretOk, and the volume.NewHandler/ServeUnix bootstrap in its
// main.go. Unlike that driver, which persists the secret's plaintext
// value to its mountpoint file directly, locket's Mount backs the
// mountpoint with a tmpfs (internal/materialize.MountTmpfs) so the
// plaintext never reaches a persistent filesystem, and Unmount wipes the
// file rather than leaving it resident.
package volume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	dockervolume "github.com/docker/go-plugins-helpers/volume"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	locketerrors "github.com/bpbradley/locket/internal/errors"
	"github.com/bpbradley/locket/internal/materialize"
	"github.com/bpbradley/locket/internal/reference"
)

// DefaultTmpfsSize bounds each per-volume tmpfs when a volume's options
// don't request a different size. Mounted secrets are a handful of bytes;
// this leaves comfortable headroom without committing meaningful RAM.
const DefaultTmpfsSize = 1 << 20 // 1 MiB

// SecretFetcher resolves a single reference to its plaintext value at Mount
// time. internal/resolve.Resolver satisfies this.
type SecretFetcher interface {
	FetchOne(ctx context.Context, ref reference.Reference) ([]byte, error)
}

// Record is the on-disk, value-free state for one registered volume. It
// never carries the resolved secret — only enough to re-resolve it on
// Mount.
type Record struct {
	Name      string    `json:"name"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// Driver implements docker/go-plugins-helpers/volume.Driver.
type Driver struct {
	stateDir  string // <state-dir>/volumes/<name>.json
	mountDir  string // <state-dir>/mounts/<name>/secret
	tmpfsSize int64
	fetcher   SecretFetcher
	logger    zerolog.Logger

	mu      sync.Mutex
	mounted map[string]bool // volume name -> tmpfs currently mounted at mountPointDir(name)
}

// New constructs a Driver rooted at stateDir, backing every mount with a
// DefaultTmpfsSize tmpfs.
func New(stateDir string, fetcher SecretFetcher, logger zerolog.Logger) *Driver {
	return &Driver{
		stateDir:  filepath.Join(stateDir, "volumes"),
		mountDir:  filepath.Join(stateDir, "mounts"),
		tmpfsSize: DefaultTmpfsSize,
		fetcher:   fetcher,
		logger:    logger,
		mounted:   make(map[string]bool),
	}
}

func (d *Driver) recordPath(name string) string {
	return filepath.Join(d.stateDir, name+".json")
}

func (d *Driver) mountPointDir(name string) string {
	return filepath.Join(d.mountDir, name)
}

func (d *Driver) mountPath(name string) string {
	return filepath.Join(d.mountPointDir(name), "secret")
}

func (d *Driver) loadRecord(name string) (Record, error) {
	data, err := os.ReadFile(d.recordPath(name))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("corrupt volume record %q: %w", name, err)
	}
	return rec, nil
}

func (d *Driver) saveRecord(rec Record) error {
	if err := os.MkdirAll(d.stateDir, 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(d.recordPath(rec.Name), data, 0o600)
}

// Create registers a new named volume. The request's "secret" option must
// name a reference this driver's grammar (C1) accepts; nothing is resolved
// or written to disk until Mount.
func (d *Driver) Create(request *dockervolume.CreateRequest) error {
	raw, ok := request.Options["secret"]
	if !ok || raw == "" {
		return errors.New("volume option \"secret\" is required")
	}
	if _, ok := reference.Parse(raw); !ok {
		return fmt.Errorf("volume %q: %q is not a recognized secret reference", request.Name, raw)
	}

	if _, err := d.loadRecord(request.Name); err == nil {
		return fmt.Errorf("volume %q already exists", request.Name)
	}

	return d.saveRecord(Record{
		Name:      request.Name,
		Reference: raw,
		CreatedAt: time.Now(),
	})
}

// Get reports a registered volume's name and mountpoint.
func (d *Driver) Get(request *dockervolume.GetRequest) (*dockervolume.GetResponse, error) {
	if _, err := d.loadRecord(request.Name); err != nil {
		return nil, fmt.Errorf("volume %q not found: %w", request.Name, err)
	}
	return &dockervolume.GetResponse{
		Volume: &dockervolume.Volume{Name: request.Name, Mountpoint: d.mountPath(request.Name)},
	}, nil
}

// List enumerates every registered volume. This does not reach the
// underlying provider; it only reflects what Create has registered here.
func (d *Driver) List() (*dockervolume.ListResponse, error) {
	entries, err := os.ReadDir(d.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &dockervolume.ListResponse{Volumes: []*dockervolume.Volume{}}, nil
		}
		return nil, err
	}

	volumes := make([]*dockervolume.Volume, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := trimJSONSuffix(e.Name())
		if name == "" {
			continue
		}
		volumes = append(volumes, &dockervolume.Volume{Name: name, Mountpoint: d.mountPath(name)})
	}
	return &dockervolume.ListResponse{Volumes: volumes}, nil
}

// Remove deletes a registered volume's state and wipes its mountpoint if
// present.
func (d *Driver) Remove(request *dockervolume.RemoveRequest) error {
	if _, err := d.loadRecord(request.Name); err != nil {
		return fmt.Errorf("volume %q not found: %w", request.Name, err)
	}
	if err := d.wipeMount(request.Name); err != nil {
		return err
	}
	if err := d.teardownTmpfs(request.Name); err != nil {
		return err
	}
	return os.Remove(d.recordPath(request.Name))
}

// Path reports the mountpoint a volume will use, without resolving it.
func (d *Driver) Path(request *dockervolume.PathRequest) (*dockervolume.PathResponse, error) {
	if _, err := d.loadRecord(request.Name); err != nil {
		return nil, fmt.Errorf("volume %q not found: %w", request.Name, err)
	}
	return &dockervolume.PathResponse{Mountpoint: d.mountPath(request.Name)}, nil
}

// Mount resolves the volume's reference and writes the plaintext into a
// per-volume tmpfs-backed file, returning that path as the mountpoint.
func (d *Driver) Mount(request *dockervolume.MountRequest) (*dockervolume.MountResponse, error) {
	rec, err := d.loadRecord(request.Name)
	if err != nil {
		return nil, fmt.Errorf("volume %q not found: %w", request.Name, err)
	}

	ref, ok := reference.Parse(rec.Reference)
	if !ok {
		return nil, locketerrors.PluginProtocol("volume.Mount", fmt.Errorf("volume %q: stored reference %q no longer parses", request.Name, rec.Reference))
	}

	value, err := d.fetcher.FetchOne(context.Background(), ref)
	if err != nil {
		return nil, locketerrors.PluginProtocol("volume.Mount", fmt.Errorf("resolving secret for volume %q: %w", request.Name, err))
	}

	if err := d.ensureTmpfs(request.Name); err != nil {
		return nil, err
	}

	path := d.mountPath(request.Name)
	if err := os.WriteFile(path, value, 0o400); err != nil {
		return nil, err
	}

	d.logger.Debug().Str("volume", request.Name).Msg("volume: mounted secret")
	return &dockervolume.MountResponse{Mountpoint: path}, nil
}

// ensureTmpfs mounts the per-volume tmpfs backing name's mountpoint, unless
// this driver already mounted it. Docker may call Mount more than once for
// the same volume across multiple containers; unix.Mount on an
// already-mounted target fails with EBUSY, which is not an error here.
func (d *Driver) ensureTmpfs(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mounted[name] {
		return nil
	}
	if err := materialize.MountTmpfs(d.mountPointDir(name), d.tmpfsSize); err != nil {
		if !errors.Is(err, unix.EBUSY) {
			return err
		}
	}
	d.mounted[name] = true
	return nil
}

// Unmount wipes the mounted secret's plaintext and, once no other mount of
// this volume remains, unmounts its tmpfs so the backing memory is released.
func (d *Driver) Unmount(request *dockervolume.UnmountRequest) error {
	if err := d.wipeMount(request.Name); err != nil {
		return err
	}
	return d.teardownTmpfs(request.Name)
}

func (d *Driver) teardownTmpfs(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mounted[name] {
		return nil
	}
	if err := materialize.UnmountTmpfs(d.mountPointDir(name)); err != nil {
		return err
	}
	delete(d.mounted, name)
	return nil
}

func (d *Driver) wipeMount(name string) error {
	path := d.mountPath(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := overwriteZero(path, info.Size()); err != nil {
		d.logger.Warn().Err(err).Str("volume", name).Msg("volume: failed to zero mountpoint before removal")
	}
	return os.Remove(path)
}

func overwriteZero(path string, size int64) error {
	if size <= 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	zeros := make([]byte, size)
	_, err = f.WriteAt(zeros, 0)
	return err
}

// Capabilities reports local scope: locket does not propagate volumes
// across a Swarm cluster.
func (d *Driver) Capabilities() *dockervolume.CapabilitiesResponse {
	return &dockervolume.CapabilitiesResponse{Capabilities: dockervolume.Capability{Scope: "local"}}
}

func trimJSONSuffix(name string) string {
	const suffix = ".json"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return ""
	}
	return name[:len(name)-len(suffix)]
}
