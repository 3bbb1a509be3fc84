package orders

import (
	"crypto/rand"
	"fmt"
)

const (
	idPrefix   = "BD"
	idLength   = 6
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewID returns a short customer-facing order code like "BD7K2Q9X". Codes are
// not unique by construction; Store.Create enforces uniqueness and callers
// retry on ErrIDCollision.
func NewID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("order id entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return idPrefix + string(buf), nil
}
