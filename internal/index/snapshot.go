package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion changes whenever the on-disk layout does. A version
// mismatch is not an error, it just forces a rebuild from the catalog.
const snapshotVersion = "hnsw-v1"

type snapshotNode struct {
	ID        string     `msgpack:"id"`
	Vector    []float32  `msgpack:"vec"`
	Neighbors [][]uint32 `msgpack:"nbr"`
	Level     int        `msgpack:"lvl"`
	Deleted   bool       `msgpack:"del"`
}

type snapshot struct {
	Version  string         `msgpack:"version"`
	Config   Config         `msgpack:"config"`
	Nodes    []snapshotNode `msgpack:"nodes"`
	Entry    uint32         `msgpack:"entry"`
	HasEntry bool           `msgpack:"has_entry"`
	MaxLevel int            `msgpack:"max_level"`
}

// SaveSnapshot serializes the full graph to path. The write goes through a
// temp file and rename so a crash never leaves a truncated snapshot behind.
func (ix *Index) SaveSnapshot(path string) error {
	ix.mu.RLock()
	snap := snapshot{
		Version:  snapshotVersion,
		Config:   ix.cfg,
		Nodes:    make([]snapshotNode, len(ix.nodes)),
		Entry:    ix.entry,
		HasEntry: ix.hasEntry,
		MaxLevel: ix.maxLevel,
	}
	for i, n := range ix.nodes {
		snap.Nodes[i] = snapshotNode{
			ID:        n.id,
			Vector:    n.vector,
			Neighbors: n.neighbors,
			Level:     n.level,
			Deleted:   n.deleted,
		}
	}
	ix.mu.RUnlock()

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores an index from a file written by SaveSnapshot.
// Returns (nil, false, nil) when the file is missing, unreadable as a
// snapshot, built by a different version, or shaped for a different config:
// the caller falls back to a catalog rebuild in every one of those cases.
func LoadSnapshot(path string, cfg Config) (*Index, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, false, nil
	}
	if snap.Version != snapshotVersion || snap.Config != cfg {
		return nil, false, nil
	}

	ix, err := New(cfg)
	if err != nil {
		return nil, false, err
	}
	ix.nodes = make([]*node, len(snap.Nodes))
	for i, sn := range snap.Nodes {
		if len(sn.Vector) != cfg.Dimension {
			return nil, false, nil
		}
		ix.nodes[i] = &node{
			id:        sn.ID,
			vector:    sn.Vector,
			neighbors: sn.Neighbors,
			level:     sn.Level,
			deleted:   sn.Deleted,
		}
		if !sn.Deleted {
			ix.byID[sn.ID] = uint32(i)
			ix.live++
		}
	}
	ix.entry = snap.Entry
	ix.hasEntry = snap.HasEntry && int(snap.Entry) < len(ix.nodes)
	ix.maxLevel = snap.MaxLevel
	return ix, true, nil
}
