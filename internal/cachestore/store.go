// Package cachestore implements the content-addressed, per-(provider,
// market, symbol, interval, day) day-file cache: atomic writes, checksum
// verification, quarantine on mismatch, and a per-key single-writer
// discipline, per the cache store component.
package cachestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/terrylica/kline-fcp/internal/kline"
	"github.com/terrylica/kline-fcp/internal/stageerr"
	"github.com/terrylica/kline-fcp/internal/timegrid"
)

// Key identifies one cache entry: one UTC calendar day of rows for a
// (provider, market, symbol, interval) series.
type Key struct {
	Provider string
	Market   string
	Symbol   string
	Interval timegrid.Interval
	Day      time.Time // must be UTC midnight
}

// QuarantineNotifier is notified whenever a cache file is quarantined, so
// callers can record an audit trail. It is optional; a nil notifier is a
// silent no-op.
type QuarantineNotifier interface {
	NotifyQuarantine(ctx context.Context, key Key, reason, path string)
}

// Config tunes a Store.
type Config struct {
	Root       string
	MaxAge     time.Duration // advisory only; checksum is authoritative
	Notifier   QuarantineNotifier
}

// Store is rooted at Config.Root.
type Store struct {
	cfg      Config
	locksMu  sync.Mutex
	locks    map[string]*sync.Mutex
}

// New constructs a Store rooted at cfg.Root.
func New(cfg Config) *Store {
	return &Store{cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(key Key) *sync.Mutex {
	id := pathID(key)
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func pathID(key Key) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", key.Provider, key.Market, key.Symbol, key.Interval, key.Day.Format("2006-01-02"))
}

func (s *Store) dataPath(key Key) string {
	return filepath.Join(s.cfg.Root, key.Provider, key.Market, key.Symbol, string(key.Interval), key.Day.Format("2006-01-02")+".kbin")
}

func (s *Store) metaPath(key Key) string {
	return s.dataPath(key) + ".meta"
}

// Read attempts to serve key entirely from disk. A missing file, a
// missing/unreadable meta sidecar, or a checksum mismatch all degrade
// silently to a cache miss (ok=false), per the failure-mode policy:
// cache read errors never fail the request, they just widen the missing
// set.
func (s *Store) Read(ctx context.Context, key Key) (rows []kline.Row, ok bool) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	dataPath := s.dataPath(key)
	metaPath := s.metaPath(key)

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		s.reconcileOrphan(key)
		return nil, false
	}
	meta, err := decodeMeta(metaBytes)
	if err != nil {
		return nil, false
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		// meta without data: delete the orphaned sidecar.
		_ = os.Remove(metaPath)
		return nil, false
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != meta.Checksum {
		s.quarantine(ctx, key, "checksum mismatch")
		return nil, false
	}

	closeTimeFor := func(openTime time.Time) time.Time {
		return closeTimeForOpen(openTime, key.Interval)
	}
	rows, err = decodeFrame(bytes.NewReader(data), closeTimeFor)
	if err != nil {
		s.quarantine(ctx, key, "decode failure: "+err.Error())
		return nil, false
	}
	return rows, true
}

// reconcileOrphan deletes a data file left behind without its meta
// sidecar, which only happens if a crash interrupted the write-temp/
// rename sequence between the two renames.
func (s *Store) reconcileOrphan(key Key) {
	dataPath := s.dataPath(key)
	if _, err := os.Stat(dataPath); err == nil {
		_ = os.Remove(dataPath)
	}
}

// Write serialises rows for key using write-to-temp, fsync, atomic
// rename for both the data file and its meta sidecar, in that order, so
// a crash mid-write never leaves a meta file pointing at absent or
// truncated data.
func (s *Store) Write(ctx context.Context, key Key, rows []kline.Row) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	dataPath := s.dataPath(key)
	metaPath := s.metaPath(key)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return stageerr.Transient("cachestore: mkdir failed", err)
	}

	buf := &bytes.Buffer{}
	if err := encodeFrame(buf, rows); err != nil {
		return stageerr.Integrity("cachestore: encode failed", err)
	}
	data := buf.Bytes()
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	if err := atomicWriteFile(dataPath, data); err != nil {
		return stageerr.Transient("cachestore: data write failed", err)
	}

	meta := Meta{Checksum: checksum, RecordCount: len(rows), WrittenAt: time.Now().UTC(), SchemaVersion: schemaVersion}
	metaBytes, err := encodeMeta(meta)
	if err != nil {
		return stageerr.Integrity("cachestore: meta encode failed", err)
	}
	if err := atomicWriteFile(metaPath, metaBytes); err != nil {
		return stageerr.Transient("cachestore: meta write failed", err)
	}
	return nil
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// quarantine renames a corrupt data+meta pair aside for operator
// inspection and notifies the configured audit sink, if any.
func (s *Store) quarantine(ctx context.Context, key Key, reason string) {
	dataPath := s.dataPath(key)
	metaPath := s.metaPath(key)
	suffix := fmt.Sprintf(".quarantine-%d", time.Now().UnixNano())
	quarantinedPath := dataPath + suffix
	if err := os.Rename(dataPath, quarantinedPath); err != nil {
		log.Warn().Err(err).Str("path", dataPath).Msg("cachestore: failed to quarantine data file")
	}
	_ = os.Rename(metaPath, metaPath+suffix)

	log.Warn().Str("reason", reason).Str("path", quarantinedPath).Msg("cachestore: quarantined corrupt cache entry")
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.NotifyQuarantine(ctx, key, reason, quarantinedPath)
	}
}

func closeTimeForOpen(openTime time.Time, iv timegrid.Interval) time.Time {
	var next time.Time
	if timegrid.IsCalendar(iv) {
		next = timegrid.Step(iv, openTime)
	} else {
		next = openTime.Add(time.Duration(timegrid.Micros(iv)) * time.Microsecond)
	}
	return next.Add(-time.Microsecond)
}
