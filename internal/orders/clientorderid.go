package orders

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	minClientOrderIdLen = 3
	maxClientOrderIdLen = 36
)

// ClientOrderId is the engine-chosen order identifier. It embeds a
// millisecond timestamp prefix so ids sort stably by creation order, and is
// never chosen by a strategy (spec: "client_order_id ... is chosen by the
// engine, never by the strategy").
type ClientOrderId string

var idSeq uint64

// NewClientOrderId generates a globally-unique, timestamp-prefixed id.
func NewClientOrderId() ClientOrderId {
	seq := atomic.AddUint64(&idSeq, 1)
	return ClientOrderId(fmt.Sprintf("%013d-%06d", time.Now().UnixMilli(), seq%1_000_000))
}

func (c ClientOrderId) String() string { return string(c) }

func (c ClientOrderId) Validate() error {
	if len(c) < minClientOrderIdLen {
		return errors.New("lifecycle: too small length of clientOrderId")
	}
	if len(c) > maxClientOrderIdLen {
		return errors.New("lifecycle: too long clientOrderId")
	}
	return nil
}

func (c ClientOrderId) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('"')
	buf.WriteString(string(c))
	buf.WriteByte('"')
	return buf.Bytes(), nil
}

func (c *ClientOrderId) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("lifecycle: malformed clientOrderId json")
	}
	val := ClientOrderId(data[1 : len(data)-1])
	if err := val.Validate(); err != nil {
		return err
	}
	*c = val
	return nil
}
