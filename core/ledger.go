package core

// ledger.go – the persisted key/value state engine backing the Channel
// Manager and Settlement Batcher (§6's "persisted state layout"): a
// write-ahead log replayed at startup, periodic JSON snapshots that
// truncate the WAL, and a StateRW surface (GetState/SetState/DeleteState/
// HasState/PrefixIterator) built around a plain {op, key, value} log
// entry.

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// StateIterator walks a key range in the Ledger's PrefixIterator contract.
type StateIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
}

// StateRW is the persistence surface every core component that needs
// durable storage is written against, so tests can supply an in-memory
// fake.
type StateRW interface {
	GetState(key []byte) ([]byte, error)
	SetState(key, value []byte) error
	DeleteState(key []byte) error
	HasState(key []byte) (bool, error)
	PrefixIterator(prefix []byte) StateIterator
	Snapshot(fn func() error) error
}

type walOp uint8

const (
	walSet walOp = iota
	walDelete
)

type walEntry struct {
	Op    walOp  `json:"op"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// LedgerConfig configures WAL path, snapshot path and the mutation-count
// interval at which a snapshot is taken and the WAL truncated.
type LedgerConfig struct {
	WALPath          string
	SnapshotPath     string
	SnapshotInterval int
}

// Ledger is the single-writer, durable key/value store. All mutation goes
// through SetState/DeleteState; GetState/PrefixIterator/HasState may run
// concurrently with each other but not with a mutation, guarded by a single
// RWMutex over the in-memory state map.
type Ledger struct {
	mu               sync.RWMutex
	state            map[string][]byte
	walFile          *os.File
	snapshotPath     string
	snapshotInterval int
	opsSinceSnapshot int
	log              *log.Logger
}

func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.WALPath == "" {
		return nil, fmt.Errorf("ledger: WAL path required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.WALPath), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: mkdir: %w", err)
	}
	wal, err := os.OpenFile(cfg.WALPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open WAL: %w", err)
	}

	l := &Ledger{
		state:            make(map[string][]byte),
		walFile:          wal,
		snapshotPath:     cfg.SnapshotPath,
		snapshotInterval: cfg.SnapshotInterval,
		log:              log.New(),
	}

	if cfg.SnapshotPath != "" {
		if f, err := os.Open(cfg.SnapshotPath); err == nil {
			dec := json.NewDecoder(f)
			err := dec.Decode(&l.state)
			f.Close()
			if err != nil {
				wal.Close()
				return nil, fmt.Errorf("ledger: decode snapshot: %w", err)
			}
		} else if !os.IsNotExist(err) {
			wal.Close()
			return nil, fmt.Errorf("ledger: open snapshot: %w", err)
		}
	}

	scanner := bufio.NewScanner(wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e walEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			wal.Close()
			return nil, fmt.Errorf("ledger: WAL unmarshal: %w", err)
		}
		switch e.Op {
		case walSet:
			l.state[e.Key] = e.Value
		case walDelete:
			delete(l.state, e.Key)
		}
	}
	if err := scanner.Err(); err != nil {
		wal.Close()
		return nil, fmt.Errorf("ledger: WAL scan: %w", err)
	}

	l.log.WithField("entries", len(l.state)).Info("ledger: state restored")
	return l, nil
}

func (l *Ledger) appendWAL(e walEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.walFile.Write(append(data, '\n')); err != nil {
		return err
	}
	return l.walFile.Sync()
}

func (l *Ledger) GetState(key []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	val, ok := l.state[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

func (l *Ledger) SetState(key, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := append([]byte(nil), value...)
	if err := l.appendWAL(walEntry{Op: walSet, Key: string(key), Value: cp}); err != nil {
		return err
	}
	l.state[string(key)] = cp
	return l.maybeSnapshotLocked()
}

func (l *Ledger) DeleteState(key []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendWAL(walEntry{Op: walDelete, Key: string(key)}); err != nil {
		return err
	}
	delete(l.state, string(key))
	return l.maybeSnapshotLocked()
}

func (l *Ledger) HasState(key []byte) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.state[string(key)]
	return ok, nil
}

// Snapshot runs fn while holding a read lock, giving callers (e.g.
// ChannelEngine.List) a consistent view across a multi-key scan.
func (l *Ledger) Snapshot(fn func() error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn()
}

type memIter struct {
	keys   [][]byte
	values [][]byte
	idx    int
}

func (it *memIter) Next() bool { it.idx++; return it.idx < len(it.keys) }
func (it *memIter) Key() []byte {
	if it.idx < len(it.keys) {
		return it.keys[it.idx]
	}
	return nil
}
func (it *memIter) Value() []byte {
	if it.idx < len(it.values) {
		return it.values[it.idx]
	}
	return nil
}
func (it *memIter) Error() error { return nil }

func (l *Ledger) PrefixIterator(prefix []byte) StateIterator {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var keys [][]byte
	var vals [][]byte
	for k, v := range l.state {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, []byte(k))
			vals = append(vals, v)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	// re-sort vals to match: simplest is to rebuild from the sorted keys.
	sortedVals := make([][]byte, len(keys))
	for i, k := range keys {
		sortedVals[i] = l.state[string(k)]
	}
	_ = vals
	return &memIter{keys: keys, values: sortedVals, idx: -1}
}

// maybeSnapshotLocked writes a full-state snapshot and truncates the WAL
// once snapshotInterval mutations have accumulated.
func (l *Ledger) maybeSnapshotLocked() error {
	if l.snapshotPath == "" || l.snapshotInterval <= 0 {
		return nil
	}
	l.opsSinceSnapshot++
	if l.opsSinceSnapshot < l.snapshotInterval {
		return nil
	}
	l.opsSinceSnapshot = 0
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() error {
	f, err := os.Create(l.snapshotPath)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(l.state); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := l.walFile.Close(); err != nil {
		return err
	}
	wal, err := os.Create(l.walFile.Name())
	if err != nil {
		return err
	}
	l.walFile = wal
	l.log.Info("ledger: snapshot written, WAL truncated")
	return nil
}

// Close releases the underlying WAL file handle.
func (l *Ledger) Close() error {
	if l == nil || l.walFile == nil {
		return nil
	}
	return l.walFile.Close()
}
