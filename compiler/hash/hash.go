package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/chazu/dpl/vm"
)

// HashProgram computes the SHA-256 content hash of a compiled program.
//
// The hash is computed over a deterministic serialization of the chunk tree
// with parameters replaced by de Bruijn slots and source positions left
// out. Reformatting, comments and consistent parameter renaming leave the
// hash unchanged.
func HashProgram(chunk *vm.Chunk) [32]byte {
	return sha256.Sum256(Serialize(chunk))
}

// HashSource computes the SHA-256 of source text prefixed with the bytecode
// version, so a format bump yields new keys for the same text.
func HashSource(src []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte("DOGC/" + strconv.Itoa(int(vm.BytecodeVersion)) + "\n"))
	h.Write(src)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Hex renders a hash as lowercase hexadecimal.
func Hex(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
