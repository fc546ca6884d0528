package rudt

import (
	"crypto/rand"
	"encoding/binary"
)

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(0x9e3779b9) // fallback constant, never reached under a working crypto/rand
	}
	return binary.BigEndian.Uint32(b[:])
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x9e3779b97f4a7c15
	}
	return binary.BigEndian.Uint64(b[:])
}
