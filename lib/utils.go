package lib

import (
	"crypto/rand"
	"encoding/binary"
)

// GenerateISN returns a random initial sequence number in [0, 2^31) so a
// connection's sequence space does not wrap.
func GenerateISN() (uint32, error) {
	var isn uint32
	if err := binary.Read(rand.Reader, binary.BigEndian, &isn); err != nil {
		return 0, err
	}
	return isn >> 1, nil
}
