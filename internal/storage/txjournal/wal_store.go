package txjournal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

const (
	defaultJournalDir   = "./wal/tx"
	journalSegmentLimit = 1000
	journalMaxSegments  = 100
	handleKeyPrefix     = "tx_handle_"
)

// WALStore journals every transaction handle transition so a restart can
// pick up writes that were still waiting for confirmation.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "tx_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init tx journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the handle's current state.
func (s *WALStore) Save(handle domain.TxHandle) error {
	if s == nil || s.wal == nil {
		return errors.New("tx journal is not initialized")
	}
	if handle.ID == "" {
		return errors.New("tx handle id is required")
	}

	payload, err := json.Marshal(handle)
	if err != nil {
		return errors.Wrap(err, "marshal tx handle")
	}

	key := fmt.Sprintf("%s%s", handleKeyPrefix, handle.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, key, payload)
}

// Latest returns the last journaled state of every handle, in first-seen order.
func (s *WALStore) Latest() ([]domain.TxHandle, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("tx journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		order  []string
		latest = make(map[string]domain.TxHandle)
	)

	current := s.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, handleKeyPrefix) {
			continue
		}

		var handle domain.TxHandle
		if err := json.Unmarshal(payload, &handle); err != nil {
			return nil, errors.Wrap(err, "decode tx handle")
		}
		if _, seen := latest[handle.ID]; !seen {
			order = append(order, handle.ID)
		}
		latest[handle.ID] = handle
	}

	out := make([]domain.TxHandle, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}

	return out, nil
}

// Unfinished returns handles of the surface whose last state is not terminal.
func (s *WALStore) Unfinished(surface domain.Surface) ([]domain.TxHandle, error) {
	all, err := s.Latest()
	if err != nil {
		return nil, err
	}

	var out []domain.TxHandle
	for _, h := range all {
		if h.Surface == surface && !h.State.Terminal() {
			out = append(out, h)
		}
	}

	return out, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("tx journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
