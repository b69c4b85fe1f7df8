package models

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// MaxSrcConnID keeps generated ids exact for consumers that decode JSON
// numbers as float64.
const MaxSrcConnID = 1<<53 - 1

// NewSrcConnID identifies one producer session. A consumer that sees it
// change treats the sequence numbers that follow as a fresh stream.
// The result is in [1, MaxSrcConnID].
func NewSrcConnID() uint64 {
	u := uuid.New()
	id := (uint64(time.Now().UnixNano()) ^ binary.BigEndian.Uint64(u[8:])) & MaxSrcConnID
	if id == 0 {
		return 1
	}
	return id
}
