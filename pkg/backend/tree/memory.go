package tree

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// MemoryStore keeps nodes and contents in maps. Contents are lost on Close.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	children map[string]map[string]struct{}
	data     map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]Node),
		children: make(map[string]map[string]struct{}),
		data:     make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, path string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", path, vfs.ErrNotFound)
	}
	return &n, nil
}

func (s *MemoryStore) Put(_ context.Context, path string, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[path] = *n
	if path != "/" {
		dir, name := vfs.Split(path)
		kids, ok := s.children[dir]
		if !ok {
			kids = make(map[string]struct{})
			s.children[dir] = kids
		}
		kids[name] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, path)
	delete(s.children, path)
	if path != "/" {
		dir, name := vfs.Split(path)
		delete(s.children[dir], name)
	}
	return nil
}

func (s *MemoryStore) Children(_ context.Context, dir string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[dir]; !ok {
		return nil, fmt.Errorf("node %s: %w", dir, vfs.ErrNotFound)
	}
	names := make([]string, 0, len(s.children[dir]))
	for name := range s.children[dir] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) ReadData(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("data %s: %w", id, vfs.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) WriteData(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.data[id] = buf
	return nil
}

func (s *MemoryStore) DeleteData(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *MemoryStore) Usage(context.Context) (Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := Usage{Nodes: int64(len(s.nodes))}
	for _, d := range s.data {
		u.Bytes += int64(len(d))
	}
	return u, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]Node)
	s.children = make(map[string]map[string]struct{})
	s.data = make(map[string][]byte)
	return nil
}
