package domain

import (
	"strconv"
	"time"
)

// RunID identifies a single workflow run
type RunID uint64

func (id RunID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// RunBatch is an ordered set of run ids collected in one fetch cycle.
// A batch is consumed by exactly one deletion pass.
type RunBatch []RunID

// Contains reports whether id is part of the batch
func (b RunBatch) Contains(id RunID) bool {
	for _, v := range b {
		if v == id {
			return true
		}
	}
	return false
}

// QuotaSnapshot is one reading of the primary API quota
type QuotaSnapshot struct {
	Remaining int64
	ResetAt   time.Time
}
