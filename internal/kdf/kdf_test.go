package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerive_Is32Bytes(t *testing.T) {
	key := Derive("super-secret-passphrase")
	assert.Len(t, key, 32)
}

func TestDerive_Deterministic(t *testing.T) {
	a := Derive("same-passphrase")
	b := Derive("same-passphrase")
	assert.Equal(t, a, b)
}

func TestDerive_DifferentInputsDifferentKeys(t *testing.T) {
	a := Derive("passphrase-one")
	b := Derive("passphrase-two")
	assert.NotEqual(t, a, b)
}
