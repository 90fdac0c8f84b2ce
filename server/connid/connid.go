// Package connid hands out connection identities.
package connid

import (
	"strconv"
	"sync/atomic"
)

// ID identifies one accepted connection for the lifetime of the process.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

var counter atomic.Uint64

// Generate returns the next connection ID. IDs start at 1, so the zero ID
// never names a real connection.
func Generate() ID {
	return ID(counter.Add(1))
}
