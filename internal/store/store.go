// Package store persists GPU samples in one append-only bbolt file per host.
//
// Each file holds two buckets:
//
//	samples: key = timestamp (unix nanos, 8 bytes BE) || sequence (8 bytes BE)
//	         value = JSON Record
//	latest:  key = GPU index (8 bytes BE), value = JSON Sample
//
// A batch is written in one read-write transaction that bbolt fsyncs on
// commit, so a batch is either fully visible to readers or not at all.
// Readers run in read-only transactions and never block the writer.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/gpu"
	"github.com/rileyhilliard/gpustat/internal/logger"
	bolt "go.etcd.io/bbolt"
)

const (
	fileExt = ".db"

	// pageSize is how many records one read transaction decodes before the
	// iterator hands them to the caller.
	pageSize = 512

	defaultMmapSize    = 64 << 20
	defaultLockTimeout = time.Second
)

var (
	samplesBucket = []byte("samples")
	latestBucket  = []byte("latest")
)

// Record is one stored sample with its per-host sequence number.
type Record struct {
	Seq uint64 `json:"seq"`
	gpu.Sample
}

// Options tune how host files are opened.
type Options struct {
	// ReadOnly opens existing files with a shared lock and never creates any.
	ReadOnly bool

	// LockTimeout bounds the wait for another process holding a file.
	LockTimeout time.Duration

	// InitialMmapSize is sized so the writer rarely has to remap, which would
	// wait for open read transactions.
	InitialMmapSize int
}

// Store is safe for concurrent use. Appends for one host must come from a
// single goroutine; appends for different hosts go to different files.
type Store struct {
	dir  string
	opts Options
	log  logger.Logger

	mu      sync.Mutex
	dbs     map[string]*bolt.DB
	opening map[string]*sync.Mutex
	closed  bool
}

// Open prepares a store rooted at dir. Host files are opened on first use.
func Open(dir string, opts Options, log logger.Logger) (*Store, error) {
	if opts.LockTimeout == 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.InitialMmapSize == 0 {
		opts.InitialMmapSize = defaultMmapSize
	}

	if opts.ReadOnly {
		if _, err := os.Stat(dir); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrIO,
				"Data directory not readable: "+dir,
				"Check settings.data_dir, or pass --data-dir")
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrIO,
			"Can't create data directory "+dir,
			"Check settings.data_dir and its permissions")
	}

	return &Store{
		dir:  dir,
		opts: opts,
		log:  logger.Named(log, "store"),
		dbs:     make(map[string]*bolt.DB),
		opening: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory holding the host files.
func (s *Store) Dir() string {
	return s.dir
}

// Append durably writes batch for host. All samples must belong to host and
// each timestamp must be strictly later than the newest stored one for the
// same GPU. Nothing is written when any check fails.
func (s *Store) Append(host string, batch []gpu.Sample) error {
	if err := validateHost(host); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	if s.opts.ReadOnly {
		return errors.New(errors.ErrIO, "Store is read-only", "")
	}

	for _, smp := range batch {
		if smp.Host != host {
			return errors.New(errors.ErrIO,
				fmt.Sprintf("Sample for host '%s' appended to '%s'", smp.Host, host), "")
		}
		if smp.Timestamp.UnixNano() < 0 {
			return errors.New(errors.ErrIO,
				fmt.Sprintf("Sample timestamp %s is before 1970", smp.Timestamp), "")
		}
	}

	db, err := s.db(host, true)
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		samples := tx.Bucket(samplesBucket)
		latest := tx.Bucket(latestBucket)

		for _, smp := range batch {
			smp.Timestamp = smp.Timestamp.Round(0).UTC()

			idxKey := u64(uint64(smp.GPUIndex))
			if prev := latest.Get(idxKey); prev != nil {
				var last gpu.Sample
				if err := json.Unmarshal(prev, &last); err != nil {
					return fmt.Errorf("decode latest for gpu %d: %w", smp.GPUIndex, err)
				}
				if !smp.Timestamp.After(last.Timestamp) {
					return fmt.Errorf("gpu %d: timestamp %s is not after stored %s",
						smp.GPUIndex, smp.Timestamp.Format(time.RFC3339Nano), last.Timestamp.Format(time.RFC3339Nano))
				}
			}

			seq, err := samples.NextSequence()
			if err != nil {
				return err
			}
			value, err := json.Marshal(Record{Seq: seq, Sample: smp})
			if err != nil {
				return err
			}
			if err := samples.Put(sampleKey(smp.Timestamp, seq), value); err != nil {
				return err
			}

			latestValue, err := json.Marshal(smp)
			if err != nil {
				return err
			}
			if err := latest.Put(idxKey, latestValue); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrIO,
			fmt.Sprintf("Failed to store %d sample(s) for '%s'", len(batch), host),
			"Check free disk space and permissions on the data directory")
	}
	return nil
}

// Query yields the samples for host with from <= timestamp <= to in
// ascending timestamp order. A zero from or to leaves that side open.
//
// Records are read in pages, each in its own short read transaction, so the
// caller may take as long as it likes between items. Every call starts a new
// scan. An unknown host yields nothing.
//
// Timestamps come back in UTC without a monotonic reading, so compare them
// to appended values with time.Time.Equal, not ==.
func (s *Store) Query(host string, from, to time.Time) iter.Seq2[gpu.Sample, error] {
	return func(yield func(gpu.Sample, error) bool) {
		if err := validateHost(host); err != nil {
			yield(gpu.Sample{}, err)
			return
		}
		db, err := s.db(host, false)
		if err != nil {
			yield(gpu.Sample{}, err)
			return
		}
		if db == nil {
			return
		}

		start := rangeStart(from)
		var resume []byte

		for {
			page := make([]gpu.Sample, 0, pageSize)
			more := false

			err := db.View(func(tx *bolt.Tx) error {
				c := tx.Bucket(samplesBucket).Cursor()

				var k, v []byte
				if resume == nil {
					k, v = c.Seek(start)
				} else {
					k, v = c.Seek(resume)
					if k != nil && bytes.Equal(k, resume) {
						k, v = c.Next()
					}
				}

				for ; k != nil; k, v = c.Next() {
					if !to.IsZero() && keyTime(k).After(to) {
						return nil
					}
					var rec Record
					if err := json.Unmarshal(v, &rec); err != nil {
						return fmt.Errorf("decode record %x: %w", k, err)
					}
					page = append(page, rec.Sample)
					if len(page) == pageSize {
						resume = append(resume[:0], k...)
						more = true
						return nil
					}
				}
				return nil
			})
			if err != nil {
				yield(gpu.Sample{}, errors.WrapWithCode(err, errors.ErrIO,
					fmt.Sprintf("Failed to read samples for '%s'", host), ""))
				return
			}

			for _, smp := range page {
				if !yield(smp, nil) {
					return
				}
			}
			if !more {
				return
			}
		}
	}
}

// Latest returns the newest sample per GPU index for host. Timestamps are
// UTC, as with Query.
func (s *Store) Latest(host string) (map[int]gpu.Sample, error) {
	out := make(map[int]gpu.Sample)
	if err := validateHost(host); err != nil {
		return out, err
	}
	db, err := s.db(host, false)
	if err != nil || db == nil {
		return out, err
	}

	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(latestBucket).ForEach(func(_, v []byte) error {
			var smp gpu.Sample
			if err := json.Unmarshal(v, &smp); err != nil {
				return err
			}
			out[smp.GPUIndex] = smp
			return nil
		})
	})
	if err != nil {
		return map[int]gpu.Sample{}, errors.WrapWithCode(err, errors.ErrIO,
			fmt.Sprintf("Failed to read latest samples for '%s'", host), "")
	}
	return out, nil
}

// Count returns the number of stored samples for host.
func (s *Store) Count(host string) (int, error) {
	if err := validateHost(host); err != nil {
		return 0, err
	}
	db, err := s.db(host, false)
	if err != nil || db == nil {
		return 0, err
	}

	var n int
	err = db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(samplesBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrIO, fmt.Sprintf("Failed to count samples for '%s'", host), "")
	}
	return n, nil
}

// Hosts lists hosts that have a file in the data directory, sorted.
func (s *Store) Hosts() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrIO, "Failed to list "+s.dir, "")
	}

	var hosts []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		hosts = append(hosts, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(hosts)
	return hosts, nil
}

// Close closes every open host file. Further calls fail with ErrIO.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for host, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = errors.WrapWithCode(err, errors.ErrIO, "Failed to close store for '"+host+"'", "")
		}
		delete(s.dbs, host)
	}
	return firstErr
}

// db returns the open handle for host, opening the file on first use.
// Without create, a host with no file returns nil and no error.
//
// bbolt's file lock is per descriptor, so a second bolt.Open of the same
// file in this process would wait on the first. Opens of one host are
// serialized and later callers reuse the first handle.
func (s *Store) db(host string, create bool) (*bolt.DB, error) {
	db, hostMu, err := s.cached(host)
	if db != nil || err != nil {
		return db, err
	}

	hostMu.Lock()
	defer hostMu.Unlock()

	// Another caller may have finished opening while we waited.
	if db, _, err := s.cached(host); db != nil || err != nil {
		return db, err
	}

	path := filepath.Join(s.dir, host+fileExt)
	if !create || s.opts.ReadOnly {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
	}

	// Opening can wait on another process's file lock, so it happens
	// outside s.mu.
	db, err = bolt.Open(path, 0o600, &bolt.Options{
		Timeout:         s.opts.LockTimeout,
		ReadOnly:        s.opts.ReadOnly,
		InitialMmapSize: s.opts.InitialMmapSize,
	})
	if err != nil {
		suggestion := "Check permissions on " + s.dir
		if errors.Is(err, bolt.ErrTimeout) {
			suggestion = "Another gpustat process has this host's data open. Stop it or query while it is not running."
		}
		return nil, errors.WrapWithCode(err, errors.ErrIO, "Can't open store file "+path, suggestion)
	}

	if !s.opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(samplesBucket); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(latestBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, errors.WrapWithCode(err, errors.ErrIO, "Can't initialize store file "+path, "")
		}
	} else if err := checkBuckets(db); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrIO, "Store file "+path+" is not a gpustat store", "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		db.Close()
		return nil, errors.New(errors.ErrIO, "Store is closed", "")
	}
	s.dbs[host] = db
	s.log.Debug("opened %s", path)
	return db, nil
}

// cached returns the open handle for host, or the mutex that serializes
// opening it.
func (s *Store) cached(host string) (*bolt.DB, *sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, errors.New(errors.ErrIO, "Store is closed", "")
	}
	if db, ok := s.dbs[host]; ok {
		return db, nil, nil
	}
	mu, ok := s.opening[host]
	if !ok {
		mu = &sync.Mutex{}
		s.opening[host] = mu
	}
	return nil, mu, nil
}

func checkBuckets(db *bolt.DB) error {
	return db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(samplesBucket) == nil || tx.Bucket(latestBucket) == nil {
			return fmt.Errorf("missing buckets")
		}
		return nil
	})
}

// validateHost keeps host names usable as file names inside the data dir.
func validateHost(host string) error {
	if host == "" || host == "." || host == ".." ||
		strings.ContainsAny(host, `/\`) || strings.ContainsRune(host, 0) {
		return errors.New(errors.ErrIO, fmt.Sprintf("Invalid host name %q for the store", host), "")
	}
	return nil
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func sampleKey(ts time.Time, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}

func keyTime(k []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(k[:8]))).UTC()
}

// rangeStart returns the first key at or after from.
func rangeStart(from time.Time) []byte {
	if from.IsZero() || from.UnixNano() < 0 {
		return make([]byte, 16)
	}
	return sampleKey(from, 0)
}
