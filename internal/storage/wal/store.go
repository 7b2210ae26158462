// Package wal makes the in-memory ledger durable. Every committed batch of
// mutations is written as one WAL record and the log is replayed on open.
package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"gw-ledger/internal/storage/memory"
)

const (
	DefaultDir   = "./wal/ledger"
	segmentLimit = 1000
	maxSegments  = 100

	commitKeyPrefix = "ledger_commit_"
)

// Store is a memory.Store whose commits are journaled to a WAL.
type Store struct {
	*memory.Store

	wal *gowal.Wal
	mu  sync.Mutex
}

// Open replays the WAL found in dir and returns a store ready for writes.
func Open(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger WAL dir")
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	w, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &Store{wal: w}
	s.Store = memory.NewStore(memory.WithJournal(s))

	if err := s.replay(); err != nil {
		_ = w.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) replay() error {
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, commitKeyPrefix) {
			continue
		}

		var batch []memory.Mutation
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			return errors.Wrapf(err, "decode ledger commit %s", msg.Key)
		}
		if err := s.Store.Replay(batch...); err != nil {
			return errors.Wrapf(err, "replay ledger commit %s", msg.Key)
		}
	}
	return nil
}

// Record implements memory.Journal.
func (s *Store) Record(ctx context.Context, mutations []memory.Mutation) error {
	if s == nil || s.wal == nil {
		return errors.New("ledger WAL is not initialized")
	}
	if len(mutations) == 0 {
		return nil
	}

	payload, err := json.Marshal(mutations)
	if err != nil {
		return errors.Wrap(err, "marshal ledger commit")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	key := fmt.Sprintf("%s%d", commitKeyPrefix, nextIndex)
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return errors.Wrap(err, "write ledger commit")
	}
	return nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *Store) CurrentIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.CurrentIndex()
}

func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("ledger WAL is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
