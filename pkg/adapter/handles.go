package adapter

// DefaultMaxHandles bounds the open files and open directories of one
// device, each table separately.
const DefaultMaxHandles = 256

// handleTable hands out small integer descriptors, lowest free first.
type handleTable[T any] struct {
	items []*T
	limit int
	used  int
}

func newHandleTable[T any](limit int) handleTable[T] {
	return handleTable[T]{limit: limit}
}

func (t *handleTable[T]) add(item *T) (int, bool) {
	for i, it := range t.items {
		if it == nil {
			t.items[i] = item
			t.used++
			return i, true
		}
	}
	if len(t.items) >= t.limit {
		return -1, false
	}
	t.items = append(t.items, item)
	t.used++
	return len(t.items) - 1, true
}

func (t *handleTable[T]) get(fd int) *T {
	if fd < 0 || fd >= len(t.items) {
		return nil
	}
	return t.items[fd]
}

func (t *handleTable[T]) remove(fd int) *T {
	it := t.get(fd)
	if it != nil {
		t.items[fd] = nil
		t.used--
	}
	return it
}

// drain removes and returns every live item.
func (t *handleTable[T]) drain() []*T {
	var out []*T
	for i, it := range t.items {
		if it != nil {
			out = append(out, it)
			t.items[i] = nil
		}
	}
	t.used = 0
	return out
}

func (t *handleTable[T]) len() int { return t.used }
