package historycache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

const (
	defaultCacheDir   = "./wal/history"
	cacheSegmentLimit = 100
	cacheMaxSegments  = 10
	historyKeyPrefix  = "rebalance_history_"
)

type cachedHistory struct {
	SavedAt time.Time               `json:"saved_at"`
	Events  []domain.RebalanceEvent `json:"events"`
}

// WALStore keeps the last successfully reconciled history of each vault.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens the cache under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultCacheDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "history_",
		SegmentThreshold: cacheSegmentLimit,
		MaxSegments:      cacheMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init history cache WAL")
	}

	return &WALStore{wal: wal}, nil
}

func historyKey(chainID uint64, vault common.Address) string {
	return fmt.Sprintf("%s%d_%s", historyKeyPrefix, chainID, strings.ToLower(vault.Hex()))
}

// Save stores events as the latest history of the vault.
func (s *WALStore) Save(chainID uint64, vault common.Address, events []domain.RebalanceEvent) error {
	if s == nil || s.wal == nil {
		return errors.New("history cache is not initialized")
	}

	payload, err := json.Marshal(cachedHistory{SavedAt: time.Now().UTC(), Events: events})
	if err != nil {
		return errors.Wrap(err, "marshal history")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, historyKey(chainID, vault), payload)
}

// Load returns the most recently saved history of the vault.
func (s *WALStore) Load(chainID uint64, vault common.Address) ([]domain.RebalanceEvent, bool, error) {
	if s == nil || s.wal == nil {
		return nil, false, errors.New("history cache is not initialized")
	}

	want := historyKey(chainID, vault)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for idx := s.wal.CurrentIndex(); idx > 0; idx-- {
		key, payload, err := s.wal.Get(idx)
		if err != nil || key != want {
			continue
		}

		var cached cachedHistory
		if err := json.Unmarshal(payload, &cached); err != nil {
			return nil, false, errors.Wrap(err, "decode history")
		}
		return cached.Events, true, nil
	}

	return nil, false, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("history cache is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
