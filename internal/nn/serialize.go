package nn

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

const formatHeader = "arrhythmia/cnn-lstm"

const formatVersion = 1

var ErrBadFormat = errors.New("unrecognised model file format")

type snapshot struct {
	Format  string
	Version int
	Width   int
	Classes int
	Params  map[string][]float64
}

// Save пишет веса сети в gob
func (n *Network) Save(w io.Writer) error {
	snap := snapshot{
		Format:  formatHeader,
		Version: formatVersion,
		Width:   n.Width,
		Classes: n.Classes,
		Params:  make(map[string][]float64, 11),
	}
	for _, p := range n.params() {
		snap.Params[p.Name] = p.Data
	}
	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return nil
}

// Load восстанавливает сеть, сохраненную через Save
func Load(r io.Reader) (*Network, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if snap.Format != formatHeader {
		return nil, fmt.Errorf("%w: header %q", ErrBadFormat, snap.Format)
	}
	if snap.Version != formatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadFormat, snap.Version)
	}

	n, err := BuildCNNLSTM(snap.Width, snap.Classes, 0)
	if err != nil {
		return nil, err
	}
	for _, p := range n.params() {
		data, ok := snap.Params[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrBadFormat, p.Name)
		}
		if len(data) != len(p.Data) {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrBadFormat, p.Name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}
	return n, nil
}
