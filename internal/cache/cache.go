// Package cache implements the two-tier compilation cache of spec §4.3: an
// in-memory LRU fronting a persistent on-disk store, keyed by a
// content-addressed fingerprint of the exact handler source bytes.
//
// # A note on "compiled artifact" under goja
//
// spec §6 describes the disk tier as storing opaque, engine-specific
// compiled-bytecode bytes. github.com/dop251/goja is a tree-walking
// interpreter: it exposes no stable serialization of a *goja.Program to
// bytes, only Compile(name, src, strict) -> *goja.Program from source. The
// memory tier therefore holds the real compiled artifact (a live
// *goja.Program, reused directly, no recompilation on hit). The disk tier
// holds the content-addressed *source* bytes behind the same on-disk framing
// spec §6 mandates (4-byte length prefix, 2-byte version tag, payload). On a
// disk hit the stored payload is checked against the fingerprint and then
// recompiled, so the disk tier saves no compile work over a full miss and
// GetOrCompile reports it as hit=false; callers always supply the source. This is recorded as an Open Question resolution in
// DESIGN.md rather than left implicit.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
)

const diskFormatVersion uint16 = 1

// Artifact is the platform-independent compiled representation of a
// handler, owned by the cache; sandboxes borrow it by reference (spec §3).
type Artifact struct {
	Fingerprint string
	Program     *goja.Program
	SourceSize  int64
}

type memEntry struct {
	artifact *Artifact
	elem     *list.Element // position in lru
	lastUsed time.Time
}

// Stats reports cumulative cache counters (spec §4.3 stats()).
type Stats struct {
	Hits        int64
	Misses      int64
	EntryCount  int
	TotalBytes  int64
	DiskEntries int
}

// Cache is the shared, concurrency-safe compilation cache.
//
// Concurrent misses for the same fingerprint are coalesced via
// singleflight (spec §9 resolves this Open Question in favor of
// coalescing, grounded in the same pattern the example pack's VM pool uses
// for cold-start dedup, _examples/oriys-nova/internal/pool).
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*memEntry
	lru         *list.List // front = most recently used
	totalBytes  int64
	maxBytes    int64
	cacheDir    string
	maxDiskSize int
	log         zerolog.Logger

	sf singleflight.Group

	hits   int64
	misses int64
}

// New constructs a Cache. cacheDir may be empty to disable the disk tier.
// log must not be nil.
func New(maxBytes int64, cacheDir string, maxDiskEntries int, log *logging.Logger) (*Cache, error) {
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create cache dir: %w", err)
		}
	}
	return &Cache{
		entries:     make(map[string]*memEntry),
		lru:         list.New(),
		maxBytes:    maxBytes,
		cacheDir:    cacheDir,
		maxDiskSize: maxDiskEntries,
		log:         log.Component("cache"),
	}, nil
}

// Fingerprint computes the content-addressed cache key for source, the
// exact bytes with no normalization (spec §4.3 policy).
func Fingerprint(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// GetOrCompile returns the compiled artifact for source, compiling and
// inserting into both tiers on a full miss.
func (c *Cache) GetOrCompile(name string, source []byte) (artifact *Artifact, hit bool, compileDuration time.Duration, err error) {
	fp := Fingerprint(source)

	if a, ok := c.lookupMemory(fp); ok {
		c.bumpHit()
		return a, true, 0, nil
	}

	v, err, _ := c.sf.Do(fp, func() (any, error) {
		// Re-check memory: another goroutine may have finished compiling
		// while we were waiting to enter the singleflight group.
		if a, ok := c.lookupMemory(fp); ok {
			return result{artifact: a, hit: true}, nil
		}

		if src, ok := c.readDisk(fp, source); ok {
			a, dur, cerr := c.compile(name, fp, src)
			if cerr != nil {
				return nil, cerr
			}
			c.insertMemory(a)
			return result{artifact: a, hit: false, dur: dur}, nil
		}

		a, dur, cerr := c.compile(name, fp, source)
		if cerr != nil {
			return nil, cerr
		}
		c.insertMemory(a)
		c.writeDisk(fp, source)
		return result{artifact: a, hit: false, dur: dur}, nil
	})
	if err != nil {
		c.bumpMiss()
		return nil, false, 0, err
	}
	r := v.(result)
	if r.hit {
		c.bumpHit()
	} else {
		c.bumpMiss()
	}
	return r.artifact, r.hit, r.dur, nil
}

type result struct {
	artifact *Artifact
	hit      bool
	dur      time.Duration
}

func (c *Cache) compile(name, fp string, source []byte) (*Artifact, time.Duration, error) {
	start := time.Now()
	// A handler is a function-body fragment that may use a top-level return,
	// so it is compiled as the body of an immediately-invoked function whose
	// result is the handler's return value. Column numbers reported for line
	// 1 include the 13-character wrapper prefix.
	prog, err := goja.Compile(name, "(function() {"+string(source)+"\n})()", true)
	dur := time.Since(start)
	if err != nil {
		return nil, dur, compileErrorFrom(err)
	}
	return &Artifact{Fingerprint: fp, Program: prog, SourceSize: int64(len(source))}, dur, nil
}

func (c *Cache) lookupMemory(fp string) (*Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	c.lru.MoveToFront(e.elem)
	return e.artifact, true
}

func (c *Cache) insertMemory(a *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[a.Fingerprint]; exists {
		return
	}
	elem := c.lru.PushFront(a.Fingerprint)
	c.entries[a.Fingerprint] = &memEntry{artifact: a, elem: elem, lastUsed: time.Now()}
	c.totalBytes += a.SourceSize
	c.evictLocked()
}

// evictLocked evicts least-recently-used entries until under the byte
// watermark. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	for c.totalBytes > c.maxBytes {
		back := c.lru.Back()
		if back == nil {
			return
		}
		fp := back.Value.(string)
		e := c.entries[fp]
		c.lru.Remove(back)
		delete(c.entries, fp)
		if e != nil {
			c.totalBytes -= e.artifact.SourceSize
		}
	}
}

// Invalidate removes fingerprint from both tiers.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	if e, ok := c.entries[fingerprint]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, fingerprint)
		c.totalBytes -= e.artifact.SourceSize
	}
	c.mu.Unlock()
	if c.cacheDir != "" {
		_ = os.Remove(c.diskPath(fingerprint))
	}
}

// Stats reports cumulative counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		EntryCount: len(c.entries),
		TotalBytes: c.totalBytes,
	}
	if c.cacheDir != "" {
		if entries, err := os.ReadDir(c.cacheDir); err == nil {
			s.DiskEntries = len(entries)
		}
	}
	return s
}

func (c *Cache) bumpHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) bumpMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *Cache) diskPath(fingerprint string) string {
	return filepath.Join(c.cacheDir, fingerprint)
}

// readDisk reads and validates the on-disk entry for fingerprint. It
// verifies the version tag, the length prefix and, since the cache is
// content-addressed, that the decoded payload hashes to fingerprint
// (expectedSource itself is not compared); any mismatch or
// corruption is treated as a miss (and the file is removed), per spec §4.3
// and §6 ("corrupted or unknown-version entries are ignored and MAY be
// deleted").
func (c *Cache) readDisk(fingerprint string, expectedSource []byte) ([]byte, bool) {
	if c.cacheDir == "" {
		return nil, false
	}
	path := c.diskPath(fingerprint)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if len(data) < 6 {
		_ = os.Remove(path)
		return nil, false
	}
	length := binary.LittleEndian.Uint32(data[0:4])
	version := binary.LittleEndian.Uint16(data[4:6])
	payload := data[6:]
	if version != diskFormatVersion || uint32(len(payload)) != length {
		_ = os.Remove(path)
		return nil, false
	}
	if Fingerprint(payload) != fingerprint {
		_ = os.Remove(path)
		return nil, false
	}
	_ = expectedSource
	return payload, true
}

// writeDisk persists source under fingerprint using write-then-rename for
// atomicity (spec §5: "disk writes are write-then-rename"), and enforces the
// entry-count cap by evicting the oldest file when over budget.
func (c *Cache) writeDisk(fingerprint string, source []byte) {
	if c.cacheDir == "" {
		return
	}
	buf := make([]byte, 6+len(source))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(source)))
	binary.LittleEndian.PutUint16(buf[4:6], diskFormatVersion)
	copy(buf[6:], source)

	tmp, err := os.CreateTemp(c.cacheDir, fingerprint+".tmp-*")
	if err != nil {
		c.log.Warn().Err(err).Msg("create temp disk cache file failed")
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return
	}
	if err := os.Rename(tmpPath, c.diskPath(fingerprint)); err != nil {
		os.Remove(tmpPath)
		return
	}
	c.enforceDiskCap()
}

// enforceDiskCap removes the oldest on-disk entries until the directory
// holds at most maxDiskSize files (spec §4.3: "disk cap is entry count").
func (c *Cache) enforceDiskCap() {
	if c.maxDiskSize <= 0 {
		return
	}
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil || len(entries) <= c.maxDiskSize {
		return
	}
	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	for len(files) > c.maxDiskSize {
		oldestIdx := 0
		for i := 1; i < len(files); i++ {
			if files[i].modTime.Before(files[oldestIdx].modTime) {
				oldestIdx = i
			}
		}
		_ = os.Remove(filepath.Join(c.cacheDir, files[oldestIdx].name))
		files = append(files[:oldestIdx], files[oldestIdx+1:]...)
	}
}
