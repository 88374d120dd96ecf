package cache

import "container/list"

// lruEntry is the bookkeeping record for one cached key: its class:id
// composite, its approximate size in bytes, and its position in the
// recency list.
type lruEntry struct {
	key   string
	bytes int
}

// lruIndex tracks recency order and total byte size across every cached
// entry, independent of bbolt's own on-disk layout, so eviction decisions
// never require a full bucket scan.
type lruIndex struct {
	ll        *list.List
	elements  map[string]*list.Element
	totalSize int
}

func newLRUIndex() *lruIndex {
	return &lruIndex{ll: list.New(), elements: make(map[string]*list.Element)}
}

// touch records an access to key, moving it to the front (most recently
// used) and updating its tracked size.
func (l *lruIndex) touch(key string, size int) {
	if el, ok := l.elements[key]; ok {
		l.totalSize -= el.Value.(*lruEntry).bytes
		el.Value.(*lruEntry).bytes = size
		l.totalSize += size
		l.ll.MoveToFront(el)
		return
	}
	el := l.ll.PushFront(&lruEntry{key: key, bytes: size})
	l.elements[key] = el
	l.totalSize += size
}

// remove drops key from the index, if present.
func (l *lruIndex) remove(key string) {
	if el, ok := l.elements[key]; ok {
		l.totalSize -= el.Value.(*lruEntry).bytes
		l.ll.Remove(el)
		delete(l.elements, key)
	}
}

// evictOldest pops and returns the least-recently-used key, or ("", false)
// if the index is empty.
func (l *lruIndex) evictOldest() (string, bool) {
	el := l.ll.Back()
	if el == nil {
		return "", false
	}
	entry := el.Value.(*lruEntry)
	l.ll.Remove(el)
	delete(l.elements, entry.key)
	l.totalSize -= entry.bytes
	return entry.key, true
}

func (l *lruIndex) len() int {
	return l.ll.Len()
}
