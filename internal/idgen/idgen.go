// Package idgen generates short, URL-safe identifiers for orders and
// products. Order IDs are read out at the counter, so the alphabet drops
// characters that are easy to confuse.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// OrderPrefix is prepended to order IDs.
	OrderPrefix = "ord-"
	// ProductPrefix is prepended to product IDs.
	ProductPrefix = "prd-"
)

// Alphabet is lowercase letters and digits without 0, 1, i, l and o.
var Alphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// NewOrderID returns a fresh order ID.
func NewOrderID() (string, error) {
	return GenerateWithPrefix(OrderPrefix)
}

// NewProductID returns a fresh product ID.
func NewProductID() (string, error) {
	return GenerateWithPrefix(ProductPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
