// Package tree implements a hierarchical read/write backend on top of a
// key-value style NodeStore. Two stores are provided: an in-memory one and
// a BadgerDB one that persists across restarts.
package tree

import (
	"context"
	"io/fs"
	"time"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// Node is the metadata of one file or directory, keyed by its canonical
// path.
type Node struct {
	Dir    bool      `json:"dir"`
	Perm   uint32    `json:"perm"`
	Size   int64     `json:"size"`
	DataID string    `json:"data_id,omitempty"`
	Atime  time.Time `json:"atime"`
	Mtime  time.Time `json:"mtime"`
	Ctime  time.Time `json:"ctime"`
}

// Stat converts the node to a vfs.Stat.
func (n *Node) Stat() vfs.Stat {
	mode := fs.FileMode(n.Perm) & fs.ModePerm
	nlink := uint32(1)
	if n.Dir {
		mode |= fs.ModeDir
		nlink = 2
	}
	return vfs.Stat{
		Mode:  mode,
		Size:  n.Size,
		Nlink: nlink,
		Atime: n.Atime,
		Mtime: n.Mtime,
		Ctime: n.Ctime,
	}
}

// Usage reports what a store holds.
type Usage struct {
	Bytes int64
	Nodes int64
}

// NodeStore persists nodes and file contents.
//
// Put and Delete maintain the parent's child index; Children lists the
// direct children of a directory in lexical order. File contents live under
// the node's DataID so renames never copy data.
//
// Get, ReadData and Children return an error wrapping vfs.ErrNotFound for
// missing keys.
type NodeStore interface {
	Get(ctx context.Context, path string) (*Node, error)
	Put(ctx context.Context, path string, n *Node) error
	Delete(ctx context.Context, path string) error
	Children(ctx context.Context, dir string) ([]string, error)

	ReadData(ctx context.Context, id string) ([]byte, error)
	WriteData(ctx context.Context, id string, data []byte) error
	DeleteData(ctx context.Context, id string) error

	Usage(ctx context.Context) (Usage, error)
	Close() error
}
