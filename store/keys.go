package store

import (
	"encoding/binary"

	"github.com/CUXIDUMDUM/qpid/message"
)

// Key prefixes. Every key is Prefix|part|0|part...
const (
	prefixExchange byte = 'e'
	prefixQueue    byte = 'q'
	prefixBinding  byte = 'b'
	prefixMessage  byte = 'm'
)

// compKey builds a composite key; parts are 0 byte delimited
func compKey(prefix byte, parts ...string) []byte {
	n := 1
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	b = append(b, prefix)
	for i, p := range parts {
		if i > 0 {
			b = append(b, 0)
		}
		b = append(b, p...)
	}
	return b
}

func exchangeKey(virtualHost, name string) string {
	return string(compKey(prefixExchange, virtualHost, name))
}

func queueKey(virtualHost, name string) string {
	return string(compKey(prefixQueue, virtualHost, name))
}

func bindingKey(virtualHost, exchange, queue, routingKey string) string {
	return string(compKey(prefixBinding, virtualHost, exchange, queue, routingKey))
}

// messageKey sorts messages by id
func messageKey(id message.ID) []byte {
	b := make([]byte, 9)
	b[0] = prefixMessage
	binary.BigEndian.PutUint64(b[1:], uint64(id))
	return b
}

// prefixBounds returns the iterator bounds covering every key of prefix
func prefixBounds(prefix byte) (lower, upper []byte) {
	return []byte{prefix}, []byte{prefix + 1}
}
