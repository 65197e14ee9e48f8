package bridge

import (
	"github.com/google/uuid"
	"github.com/mr-tron/base58/base58"
)

// NewToken returns a fresh correlation token: a random UUID rendered in
// base58 so it stays short and needs no escaping inside a URL.
func NewToken() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
