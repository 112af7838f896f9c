package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/labdesk/internal/models"
)

// SchemaVersion is the version written with every save.
const SchemaVersion = 1

// ErrUnsupportedVersion is returned by Load when the slot was written by a
// newer schema than this build understands.
var ErrUnsupportedVersion = errors.New("store: unsupported schema version")

// envelope is the stored shape. Slots written before versioning hold a bare
// JSON array, which decodes as version 0.
type envelope struct {
	Version int                  `json:"version"`
	Threads []models.SavedThread `json:"threads"`
}

// Gateway serializes the thread list into one slot of a KV.
type Gateway struct {
	kv  KV
	key string
}

// NewGateway returns a Gateway writing under key.
func NewGateway(kv KV, key string) (*Gateway, error) {
	if kv == nil {
		return nil, fmt.Errorf("store: gateway: kv is required")
	}
	if key == "" {
		return nil, fmt.Errorf("store: gateway: key is required")
	}
	return &Gateway{kv: kv, key: key}, nil
}

// Save overwrites the slot with threads.
func (g *Gateway) Save(ctx context.Context, threads []models.SavedThread) error {
	data, err := Encode(threads)
	if err != nil {
		return err
	}
	return g.kv.Put(ctx, g.key, data)
}

// Load reads the slot. An empty slot yields no threads and no error.
func (g *Gateway) Load(ctx context.Context) ([]models.SavedThread, error) {
	data, found, err := g.kv.Get(ctx, g.key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return Decode(data)
}

// Encode renders threads in the current schema.
func Encode(threads []models.SavedThread) ([]byte, error) {
	if threads == nil {
		threads = []models.SavedThread{}
	}
	data, err := json.Marshal(envelope{Version: SchemaVersion, Threads: threads})
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

// Decode parses either schema version.
func Decode(data []byte) ([]models.SavedThread, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var threads []models.SavedThread
		if err := json.Unmarshal(data, &threads); err != nil {
			return nil, fmt.Errorf("store: decode legacy slot: %w", err)
		}
		return threads, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("store: decode: %w", err)
	}
	if env.Version > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	return env.Threads, nil
}
