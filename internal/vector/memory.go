package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/pkg/utils"
)

// MemoryStore is an in-process store using brute-force search. Suitable for
// tests and small corpora; Save and Load persist it as a snapshot file.
type MemoryStore struct {
	collections map[string]*memCollection
	mu          sync.RWMutex
	// snapshotPath, when set, is written on Close.
	snapshotPath string
}

type memCollection struct {
	dimension int
	distance  Distance
	points    map[string]Point
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, name string, dimension int, distance Distance) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", models.ErrMalformedInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		return checkDimension(name, c.dimension, dimension)
	}
	m.collections[name] = &memCollection{dimension: dimension, distance: distance, points: make(map[string]Point)}
	return nil
}

func (m *MemoryStore) collection(name string) (*memCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: collection %s", models.ErrNotFound, name)
	}
	return c, nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return checkDimension(collection, c.dimension, len(p.Vector))
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		c.points[p.ID] = Point{ID: p.ID, Vector: vec, Payload: p.Payload}
	}
	return nil
}

// Search scores every point; ties break by id for stable output.
func (m *MemoryStore) Search(_ context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dimension {
		return nil, checkDimension(collection, c.dimension, len(vector))
	}
	if topK <= 0 {
		return nil, nil
	}
	hits := make([]Hit, 0, len(c.points))
	for _, p := range c.points {
		if !matches(p.Payload, filter) {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: score(c.distance, vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

func (m *MemoryStore) DeleteByFilter(_ context.Context, collection string, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for id, p := range c.points {
		if matches(p.Payload, filter) {
			delete(c.points, id)
		}
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	return len(c.points), nil
}

// Close writes the snapshot if the store was opened with one.
func (m *MemoryStore) Close() error {
	return m.Save(m.snapshotPath)
}

// OpenMemoryStore loads the snapshot at path (if it exists) and returns a
// store that saves back to it on Close.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	m := NewMemoryStore()
	if err := m.Load(path); err != nil {
		return nil, err
	}
	m.snapshotPath = path
	return m, nil
}

// Save writes a snapshot to path, creating the directory if needed. Format,
// little-endian: collection count, then per collection its name, dimension,
// distance, and point count, then per point its id, vector, and JSON payload.
// Strings and payloads are length-prefixed.
func (m *MemoryStore) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	w := bufio.NewWriter(f)

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	err = func() error {
		if err := writeUint32(w, uint32(len(names))); err != nil {
			return err
		}
		for _, name := range names {
			c := m.collections[name]
			if err := writeBytes(w, []byte(name)); err != nil {
				return err
			}
			if err := writeUint32(w, uint32(c.dimension)); err != nil {
				return err
			}
			if err := writeBytes(w, []byte(c.distance)); err != nil {
				return err
			}
			if err := writeUint32(w, uint32(len(c.points))); err != nil {
				return err
			}
			for _, p := range c.points {
				payload, err := json.Marshal(p.Payload)
				if err != nil {
					return fmt.Errorf("encode payload of %s: %w", p.ID, err)
				}
				if err := writeBytes(w, []byte(p.ID)); err != nil {
					return err
				}
				if _, err := w.Write(utils.Float32sToBytes(p.Vector)); err != nil {
					return err
				}
				if err := writeBytes(w, payload); err != nil {
					return err
				}
			}
		}
		return w.Flush()
	}()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the store's contents with the snapshot at path.
// If the file does not exist, no error is returned and the store is unchanged.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	collections := make(map[string]*memCollection)
	n, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		name, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read collection name: %w", err)
		}
		dim, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read dimension: %w", err)
		}
		dist, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read distance: %w", err)
		}
		count, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read point count: %w", err)
		}
		c := &memCollection{dimension: int(dim), distance: Distance(dist), points: make(map[string]Point, count)}
		buf := make([]byte, int(dim)*4)
		for j := uint32(0); j < count; j++ {
			id, err := readBytes(r)
			if err != nil {
				return fmt.Errorf("read point id: %w", err)
			}
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("read vector: %w", err)
			}
			vec, _ := utils.BytesToFloat32s(buf)
			raw, err := readBytes(r)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("decode payload of %s: %w", id, err)
			}
			c.points[string(id)] = Point{ID: string(id), Vector: vec, Payload: payload}
		}
		collections[string(name)] = c
	}

	m.mu.Lock()
	m.collections = collections
	m.mu.Unlock()
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	_, err = io.ReadFull(r, b)
	return b, err
}
