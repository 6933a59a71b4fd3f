package config

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Catalog is a read-only class-id ↔ class-name table, swappable atomically
// under a hot reload (spec §9: "parse once at startup, then share a
// read-only table"). It implements connection.ClassResolver without
// importing internal/connection, so internal/connection can import
// internal/config-shaped interfaces without a cycle.
type Catalog struct {
	mu       sync.RWMutex
	idToName map[int]string
	nameToID map[string]int
}

// NewCatalog builds a Catalog from an ordered name list, assigning ids
// 0..len(names)-1 in list order.
func NewCatalog(names []string) *Catalog {
	c := &Catalog{}
	c.replace(names)
	return c
}

func (c *Catalog) replace(names []string) {
	idToName := make(map[int]string, len(names))
	nameToID := make(map[string]int, len(names))
	for i, n := range names {
		idToName[i] = n
		nameToID[n] = i
	}
	c.mu.Lock()
	c.idToName = idToName
	c.nameToID = nameToID
	c.mu.Unlock()
}

// Swap atomically replaces the catalog's contents, used by the config
// watcher's hot-reload callback.
func (c *Catalog) Swap(names []string) {
	c.replace(names)
}

// Resolve implements connection.ClassResolver: it maps class names to ids,
// returning unknown names separately rather than erroring (spec §6.3:
// "Unknown class names in filters are warned and dropped").
func (c *Catalog) Resolve(names []string) (map[int]bool, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make(map[int]bool, len(names))
	var unknown []string
	for _, n := range names {
		if id, ok := c.nameToID[n]; ok {
			ids[id] = true
		} else {
			unknown = append(unknown, n)
		}
	}
	return ids, unknown
}

// Name returns the class name for id, and whether it was found.
func (c *Catalog) Name(id int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.idToName[id]
	return n, ok
}

// Names returns the catalog's class names in id order, for catalog-dump.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.idToName))
	for id, name := range c.idToName {
		if id >= 0 && id < len(out) {
			out[id] = name
		}
	}
	return out
}

// LoadCatalog resolves spec §6.3's class-catalog precedence: inline list in
// config wins if present; else a JSON array file (.json); else a
// newline-delimited text file; else the built-in 80-class catalog.
func LoadCatalog(m ModelConfig) (*Catalog, error) {
	if len(m.ClassCatalog) > 0 {
		return NewCatalog(m.ClassCatalog), nil
	}
	if m.ClassCatalogPath != "" {
		names, err := loadCatalogFile(m.ClassCatalogPath)
		if err != nil {
			return nil, err
		}
		return NewCatalog(names), nil
	}
	return NewCatalog(DefaultClassNames), nil
}

func loadCatalogFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read class catalog %s", path)
	}

	if strings.HasSuffix(path, ".json") {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, eris.Wrapf(err, "config: parse JSON class catalog %s", path)
		}
		return names, nil
	}

	var names []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "config: scan class catalog %s", path)
	}
	return names, nil
}
