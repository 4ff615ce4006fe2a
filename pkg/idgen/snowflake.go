package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake id generator
// ============================================================================
//
// Campaign ids are assigned before anything is written, so the ledger hold
// and the campaign row can share the id across the two writes. A database
// auto-increment id would only exist after the campaign insert.
//
// Layout, 64 bits:
//
//	0 | 41 bits ms since epoch | 10 bits worker | 12 bits sequence
//
//   - sign bit always 0, ids stay positive
//   - 41 bits of milliseconds last about 69 years from epoch
//   - worker id 0-1023, one per running instance
//   - sequence 0-4095 within one millisecond, then wait for the next one
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID must be within 0-%d", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets the process-wide generator. Only the first call has effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = New(workerID)
	})
	return err
}

func NextID() int64 {
	if defaultGenerator == nil {
		_ = Init(1)
	}
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateReferenceID returns an external reference such as
// ADJ20240115143052_12345678 for ledger rows that have no natural key.
func GenerateReferenceID(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s_%08d", prefix, time.Now().UTC().Format("20060102150405"), id%100000000)
}
