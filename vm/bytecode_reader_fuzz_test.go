package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzBytecodeReader: the DOGC reader must never panic or allocate without
// bound on arbitrary input. Errors are expected; panics are bugs.
// ---------------------------------------------------------------------------

func FuzzBytecodeReader(f *testing.F) {
	full, err := Serialize(buildFullChunk())
	if err != nil {
		f.Fatalf("Serialize failed: %v", err)
	}
	empty, err := Serialize(NewChunk())
	if err != nil {
		f.Fatalf("Serialize failed: %v", err)
	}

	f.Add(full)
	f.Add(empty)
	f.Add([]byte("DOGC"))
	f.Add([]byte{})
	f.Add(newRawBuilder().int32(0).int32(0x7fffffff).bytes())
	f.Add(newRawBuilder().int32(1).int32(0x7fffffff).bytes())

	f.Fuzz(func(t *testing.T, data []byte) {
		chunk, err := Deserialize(data)
		if err != nil {
			if _, ok := AsDiagnostic(err); !ok {
				t.Fatalf("decode error is not a diagnostic: %v", err)
			}
			return
		}

		// Anything that decodes must re-encode and decode to the same listing.
		again, err := Serialize(chunk)
		if err != nil {
			t.Fatalf("decoded chunk does not re-encode: %v", err)
		}
		back, err := Deserialize(again)
		if err != nil {
			t.Fatalf("re-encoded chunk does not decode: %v", err)
		}
		if back.Disassemble() != chunk.Disassemble() {
			t.Fatal("listing changed across a re-encode")
		}
	})
}
