package utils

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/jxskiss/base62"
	"go.uber.org/atomic"
)

const (
	TransactionPrefix = "TX_"
	SubscriberPrefix  = "SUB_"
)

var guidCounter atomic.Uint64

// NewGuid returns a short unique id. The random part keeps ids unique across
// processes, the counter keeps them unique within one.
func NewGuid(prefix string) string {
	b := make([]byte, 14)
	if _, err := rand.Read(b[:6]); err != nil {
		binary.BigEndian.PutUint16(b[:2], 0xffff)
	}
	binary.BigEndian.PutUint64(b[6:], guidCounter.Add(1))
	return prefix + base62.EncodeToString(b)
}
