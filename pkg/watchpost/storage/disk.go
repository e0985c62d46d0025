package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
	"github.com/watchpost/watchpost/pkg/logger"
)

// diskVersion namespaces the on-disk envelope format; bumping it lets a
// future incompatible layout coexist with, or cleanly replace, entries
// written by an older binary.
const diskVersion = "v1"

// envelope is the self-describing record written to disk: the value plus
// the bookkeeping Storage.Get must hand back.
type envelope struct {
	Value   []byte
	AddedAt time.Time
	TTL     time.Duration
}

// Disk is a Storage back-end persisting entries as files under a versioned
// directory. Keys are hashed to filenames; writes go to a temp file in the
// same directory and are atomically renamed into place so a reader never
// observes a partial write (spec §4.1: "atomic write via temp-file +
// rename").
type Disk struct {
	dir     string
	watcher *fsnotify.Watcher
}

// NewDisk builds a Disk store rooted at dir/<diskVersion>, creating the
// directory if necessary.
func NewDisk(dir string) (*Disk, error) {
	root := filepath.Join(dir, diskVersion)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wperrors.StorageUnavailable("disk", err)
	}
	return &Disk{dir: root}, nil
}

// WatchMutations starts an optional background watch on the store's
// directory root and logs any write, remove, or rename event that did not
// originate from Store/Delete. It exists purely for observability: seeing
// an external process touch the cache directory is worth a log line, but
// watchpost never reacts to it by reloading checks or invalidating
// entries it still holds in memory. Calling it twice replaces the prior
// watcher. Stop with StopWatching.
func (d *Disk) WatchMutations(log *logger.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return wperrors.StorageUnavailable("disk", err)
	}
	if err := w.Add(d.dir); err != nil {
		w.Close()
		return wperrors.StorageUnavailable("disk", err)
	}

	d.watcher = w
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				size := "gone"
				if info, err := os.Stat(event.Name); err == nil {
					size = humanize.Bytes(uint64(info.Size()))
				}
				log.WithFields(map[string]interface{}{
					"path": event.Name,
					"op":   event.Op.String(),
					"size": size,
				}).Warn("disk cache directory mutated externally")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithField("error", err).Warn("disk cache directory watch error")
			}
		}
	}()
	return nil
}

// StopWatching tears down the watch started by WatchMutations, if any.
func (d *Disk) StopWatching() error {
	if d.watcher == nil {
		return nil
	}
	err := d.watcher.Close()
	d.watcher = nil
	return err
}

func (d *Disk) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:]))
}

// Get reads and decodes the entry stored under key. Any I/O or decode
// failure is treated as a miss, per spec §4.1's failure model: "transport
// errors from persistent back-ends are logged and treated as cache miss".
func (d *Disk) Get(key string) (Entry, bool) {
	raw, err := os.ReadFile(d.pathFor(key))
	if err != nil {
		return Entry{}, false
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return Entry{}, false
	}
	return Entry{Value: env.Value, AddedAt: env.AddedAt, TTL: env.TTL}, true
}

// Store encodes value and its bookkeeping into the self-describing envelope
// and writes it atomically: encode to a temp file beside the target, then
// rename over it.
func (d *Disk) Store(key string, value []byte, addedAt time.Time, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Value: value, AddedAt: addedAt, TTL: ttl}); err != nil {
		return wperrors.StorageUnavailable("disk", err)
	}

	target := d.pathFor(key)
	tmp := target + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return wperrors.StorageUnavailable("disk", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return wperrors.StorageUnavailable("disk", err)
	}
	return nil
}

// Delete removes the file backing key, if present.
func (d *Disk) Delete(key string) error {
	err := os.Remove(d.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return wperrors.StorageUnavailable("disk", err)
	}
	return nil
}
