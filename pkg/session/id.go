package session

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// IDLength is the length of a session id in hex characters.
const IDLength = 32

var generators = sync.Pool{
	New: func() any {
		var seed [32]byte
		if _, err := crand.Read(seed[:]); err != nil {
			binary.LittleEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
		}
		return rand.NewChaCha8(seed)
	},
}

// GenerateID returns a new session id mixing time, process id, the client
// address and two values from a pooled random generator.
func GenerateID(remoteAddr string) string {
	g := generators.Get().(*rand.ChaCha8)
	r1, r2 := g.Uint64(), g.Uint64()
	generators.Put(g)

	h, _ := blake2b.New(IDLength/2, nil)
	var buf [8]byte
	for _, v := range []uint64{uint64(time.Now().UnixNano()), uint64(os.Getpid()), r1, r2} {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	h.Write([]byte(remoteAddr))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateID reports whether id is exactly 32 lowercase hex characters.
func ValidateID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
