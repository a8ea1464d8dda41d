package proxy

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// suffixSpace is 36^6, the number of 6-character base36 suffixes.
const suffixSpace = 2176782336

// suffixStride is coprime with suffixSpace, so consecutive suffixes only
// repeat after suffixSpace calls.
const suffixStride = 1000003

// Correlator generates request IDs of the form mcp-<base36 ms>-<6 base36>.
// It is safe for concurrent use.
//
// The suffix is not drawn at random per call. It walks the suffix space from
// a random starting point in fixed steps, so no two IDs share a suffix within
// 36^6 calls, even inside one millisecond. The cost is that an observer who
// sees two consecutive IDs can predict the next one. IDs correlate logs and
// audit records; they must not be used as secrets.
type Correlator struct {
	now     func() time.Time
	offset  uint64
	counter atomic.Uint64
}

// NewCorrelator creates a Correlator seeded from crypto/rand.
func NewCorrelator() *Correlator {
	var seed [8]byte
	_, _ = rand.Read(seed[:])
	return &Correlator{
		now:    time.Now,
		offset: binary.LittleEndian.Uint64(seed[:]) % suffixSpace,
	}
}

// Next returns a new request ID. Suffixes repeat only after 36^6 calls,
// by which time the timestamp part has moved on.
func (c *Correlator) Next() string {
	n := c.counter.Add(1)
	suffix := (c.offset + n*suffixStride) % suffixSpace

	var b strings.Builder
	b.Grow(24)
	b.WriteString("mcp-")
	b.WriteString(strconv.FormatInt(c.now().UnixMilli(), 36))
	b.WriteByte('-')
	s := strconv.FormatUint(suffix, 36)
	for i := len(s); i < 6; i++ {
		b.WriteByte('0')
	}
	b.WriteString(s)
	return b.String()
}
