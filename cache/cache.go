// Package cache provides a bounded, content-addressed store for
// verification results.
//
// Entries are keyed by a SHA-256 digest of everything that determines a
// result, so a hit can only return the result the same inputs would
// produce again. Entries are never modified once written: Put on an
// existing key is a no-op. Memory is bounded by HardMaxCacheSizeMB; when
// a shard is full its oldest entries are evicted first.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"time"

	"github.com/allegro/bigcache/v3"
)

const (
	DefaultMaxEntries         = 4096
	DefaultHardMaxCacheSizeMB = 64
	DefaultLifeWindow         = time.Hour
	DefaultShards             = 64
)

// Config configures a Cache. Zero values select the defaults above.
type Config struct {
	// MaxEntries sizes the initial allocation of the cache.
	MaxEntries int

	// HardMaxCacheSizeMB bounds the memory used for entries.
	HardMaxCacheSizeMB int

	// LifeWindow is how long an entry is kept. Older entries are removed
	// by a cleaner running every LifeWindow/2 and when their shard is
	// written to.
	LifeWindow time.Duration

	// Shards is the number of independently locked shards. It must be a
	// power of two.
	Shards int

	// Logger receives cache warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Cache is safe for concurrent use.
type Cache struct {
	bc     *bigcache.BigCache
	logger *slog.Logger
}

// New creates a cache. The cleaner goroutine stops when ctx is done or
// Close is called.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.HardMaxCacheSizeMB <= 0 {
		cfg.HardMaxCacheSizeMB = DefaultHardMaxCacheSizeMB
	}
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = DefaultLifeWindow
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bcfg := bigcache.DefaultConfig(cfg.LifeWindow)
	bcfg.Shards = cfg.Shards
	bcfg.MaxEntriesInWindow = cfg.MaxEntries
	bcfg.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	bcfg.StatsEnabled = false
	bcfg.Verbose = true
	bcfg.Logger = printfLogger{cfg.Logger}
	bcfg.CleanWindow = cfg.LifeWindow / 2

	bc, err := bigcache.New(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Cache{bc: bc, logger: cfg.Logger}, nil
}

// Get returns the entry stored under key.
func (c *Cache) Get(key Key) ([]byte, bool) {
	v, err := c.bc.Get(key.String())
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.logger.Warn("cache lookup failed", slog.String("key", key.String()), slog.Any("error", err))
		}
		return nil, false
	}
	return v, true
}

// Put stores value under key unless an entry already exists.
func (c *Cache) Put(key Key, value []byte) error {
	k := key.String()
	if _, err := c.bc.Get(k); err == nil {
		return nil
	}
	if err := c.bc.Set(k, value); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	return c.bc.Len()
}

// Close releases the cache.
func (c *Cache) Close() error {
	return c.bc.Close()
}

type printfLogger struct {
	l *slog.Logger
}

func (p printfLogger) Printf(format string, v ...any) {
	p.l.Warn(fmt.Sprintf(format, v...), slog.String("component", "cache"))
}

// Key is a SHA-256 content digest.
type Key [sha256.Size]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// KeyBuilder hashes the inputs of a result into a Key. Every part is
// length-prefixed, so different splits of the same bytes give different
// keys.
type KeyBuilder struct {
	h hash.Hash
}

// NewKeyBuilder returns a builder whose keys are namespaced by label.
func NewKeyBuilder(label string) *KeyBuilder {
	b := &KeyBuilder{h: sha256.New()}
	b.AddString(label)
	return b
}

// Add adds p.
func (b *KeyBuilder) Add(p []byte) *KeyBuilder {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(p)))
	b.h.Write(n[:])
	b.h.Write(p)
	return b
}

// AddString adds s.
func (b *KeyBuilder) AddString(s string) *KeyBuilder {
	return b.Add([]byte(s))
}

// Key returns the digest of everything added so far.
func (b *KeyBuilder) Key() Key {
	var k Key
	b.h.Sum(k[:0])
	return k
}
