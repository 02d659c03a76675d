package reconciler

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// TimestampSource assigns wall-clock times to blocks. Logs carry none of their own.
type TimestampSource interface {
	Resolve(ctx context.Context, blocks []uint64) (map[uint64]time.Time, error)
}

type blockTimer interface {
	BlockTime(ctx context.Context, n uint64) (time.Time, error)
}

type headReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// BlockTimestamps looks up the header of every distinct block.
type BlockTimestamps struct {
	headers blockTimer
}

// NewBlockTimestamps creates a header-backed source.
func NewBlockTimestamps(headers blockTimer) *BlockTimestamps {
	return &BlockTimestamps{headers: headers}
}

// Resolve fetches each distinct block once.
func (s *BlockTimestamps) Resolve(ctx context.Context, blocks []uint64) (map[uint64]time.Time, error) {
	out := make(map[uint64]time.Time, len(blocks))
	for _, n := range blocks {
		if _, ok := out[n]; ok {
			continue
		}
		ts, err := s.headers.BlockTime(ctx, n)
		if err != nil {
			return out, errors.Wrapf(err, "timestamp of block %d", n)
		}
		out[n] = ts
	}
	return out, nil
}

// ApproximateTimestamps estimates block times from the head block, the current
// time and a fixed block interval. One ledger call per fetch.
type ApproximateTimestamps struct {
	head      headReader
	blockTime time.Duration
	now       func() time.Time
}

// NewApproximateTimestamps creates an estimating source.
func NewApproximateTimestamps(head headReader, blockTime time.Duration) *ApproximateTimestamps {
	if blockTime <= 0 {
		blockTime = 12 * time.Second
	}
	return &ApproximateTimestamps{
		head:      head,
		blockTime: blockTime,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Resolve places block n at now - (head-n) * blockTime.
func (s *ApproximateTimestamps) Resolve(ctx context.Context, blocks []uint64) (map[uint64]time.Time, error) {
	out := make(map[uint64]time.Time, len(blocks))
	if len(blocks) == 0 {
		return out, nil
	}

	head, err := s.head.HeadBlock(ctx)
	if err != nil {
		return out, errors.Wrap(err, "head block")
	}

	now := s.now()
	for _, n := range blocks {
		var distance uint64
		if head > n {
			distance = head - n
		}
		out[n] = now.Add(-time.Duration(distance) * s.blockTime)
	}

	return out, nil
}
