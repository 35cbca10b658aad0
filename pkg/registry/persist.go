package registry

import (
	"crypto/sha1" //nolint:gosec // used only to derive a stable filename, not for security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Disk is the filesystem-backed Persister: one JSON document per
// Service under <root>/servers/*.json, written via temp-file + rename
// so a crash mid-write never leaves a torn document (spec.md §4.3).
type Disk struct {
	Root string
}

// NewDisk returns a Disk persister rooted at dataRoot/servers,
// creating the directory if necessary.
func NewDisk(dataRoot string) (*Disk, error) {
	dir := filepath.Join(dataRoot, "servers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating servers dir: %w", err)
	}
	return &Disk{Root: dir}, nil
}

// filename derives a stable, filesystem-safe basename from a Service
// path. The basename carries no semantic meaning per spec.md §6; it
// only needs to be stable and collision-free across registrations.
func (d *Disk) filename(path string) string {
	sum := sha1.Sum([]byte(path)) //nolint:gosec
	return hex.EncodeToString(sum[:]) + ".json"
}

// Save atomically (over)writes the document for svc.
func (d *Disk) Save(svc Service) error {
	data, err := json.MarshalIndent(svc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling service %q: %w", svc.Path, err)
	}

	dest := filepath.Join(d.Root, d.filename(svc.Path))
	tmp, err := os.CreateTemp(d.Root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Delete removes the persisted document for path, if any.
func (d *Disk) Delete(path string) error {
	name := filepath.Join(d.Root, d.filename(path))
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// LoadAll reads every persisted Service document under Root.
func (d *Disk) LoadAll() ([]Service, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("reading servers dir: %w", err)
	}

	var out []Service
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.Root, ent.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ent.Name(), err)
		}
		var svc Service
		if err := json.Unmarshal(data, &svc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ent.Name(), err)
		}
		out = append(out, svc)
	}
	return out, nil
}
