package modcache

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ResolveName maps an import name to a source path. A name ending in
// ".lua" or containing a path separator is a file path; any other name is
// dotted, with "a.b" naming "a/b.lua". Relative names are looked up in
// importer's directory first and then in each search path directory.
func (c *Cache) ResolveName(name, importer string, searchPath []string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrModuleNotFound)
	}
	rel := name
	if !strings.HasSuffix(name, ".lua") && !strings.ContainsRune(name, '/') {
		rel = strings.ReplaceAll(name, ".", string(filepath.Separator)) + ".lua"
	}
	if filepath.IsAbs(rel) {
		if fileExists(rel) {
			return filepath.Clean(rel), nil
		}
		return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	var dirs []string
	if importer != "" {
		dirs = append(dirs, filepath.Dir(importer))
	}
	dirs = append(dirs, searchPath...)

	key := nameKey{name: rel, dirs: strings.Join(dirs, string(filepath.ListSeparator))}
	if p, ok := c.names.get(key); ok {
		return p, nil
	}
	for _, dir := range dirs {
		candidate := normalize(filepath.Join(dir, rel))
		if fileExists(candidate) {
			c.names.put(key, candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type nameKey struct {
	name string
	dirs string
}

type nameItem struct {
	key  nameKey
	path string
}

// nameCache is a bounded LRU of import name resolutions.
type nameCache struct {
	mu       sync.Mutex
	capacity int
	items    map[nameKey]*list.Element
	order    *list.List
}

func newNameCache(capacity int) *nameCache {
	return &nameCache{
		capacity: capacity,
		items:    make(map[nameKey]*list.Element),
		order:    list.New(),
	}
}

func (n *nameCache) get(key nameKey) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	elem, ok := n.items[key]
	if !ok {
		return "", false
	}
	n.order.MoveToFront(elem)
	return elem.Value.(*nameItem).path, true
}

func (n *nameCache) put(key nameKey, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if elem, ok := n.items[key]; ok {
		elem.Value.(*nameItem).path = path
		n.order.MoveToFront(elem)
		return
	}
	n.items[key] = n.order.PushFront(&nameItem{key: key, path: path})
	if n.order.Len() > n.capacity {
		oldest := n.order.Back()
		n.order.Remove(oldest)
		delete(n.items, oldest.Value.(*nameItem).key)
	}
}

func (n *nameCache) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.order.Len()
}

func (n *nameCache) clear() {
	n.mu.Lock()
	n.items = make(map[nameKey]*list.Element)
	n.order.Init()
	n.mu.Unlock()
}
