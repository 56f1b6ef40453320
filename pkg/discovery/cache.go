package discovery

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/grafana/arrow-dataset/pkg/filesystem"
	"github.com/grafana/arrow-dataset/pkg/format"
)

// DefaultSchemaCacheSize is the number of file schemas kept by caches
// created with a non-positive size.
const DefaultSchemaCacheSize = 1024

// SchemaCache keeps the schemas of recently inspected files. Entries are
// keyed by format, path, size and modification time, so rewritten files are
// inspected again. Discoveries sharing a cache must use formats that
// resolve the same schema for the same file. It is safe for concurrent use.
type SchemaCache struct {
	cache *lru.Cache[string, *arrow.Schema]
}

// NewSchemaCache returns a cache holding up to size schemas.
func NewSchemaCache(size int) (*SchemaCache, error) {
	if size <= 0 {
		size = DefaultSchemaCacheSize
	}
	cache, err := lru.New[string, *arrow.Schema](size)
	if err != nil {
		return nil, err
	}
	return &SchemaCache{cache: cache}, nil
}

// Get returns the cached schema for key.
func (c *SchemaCache) Get(key string) (*arrow.Schema, bool) {
	return c.cache.Get(key)
}

// Add caches schema under key.
func (c *SchemaCache) Add(key string, schema *arrow.Schema) {
	c.cache.Add(key, schema)
}

// Len returns the number of cached schemas.
func (c *SchemaCache) Len() int { return c.cache.Len() }

func cacheKey(f format.Format, s filesystem.FileStats) string {
	return f.Name() + ":" + s.Path + "@" + strconv.FormatInt(s.Size, 10) + "." + strconv.FormatInt(s.ModTime.UnixNano(), 10)
}
