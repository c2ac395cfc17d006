package vfs

// CollectionEntry locates one member of a container file (an archive, a
// package, a partition) inside the container's byte stream.
type CollectionEntry struct {
	Name   string
	Offset int64
	Size   int64
}

// Collection is implemented by container backends that can enumerate their
// members without opening them.
type Collection interface {
	Entries() []CollectionEntry
}
