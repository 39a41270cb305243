package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the program hashing stream.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every stored program hash.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// Structure tags.
const (
	TagReservedZero byte = 0x00

	TagChunk       byte = 0x01
	TagFunction    byte = 0x02
	TagInstruction byte = 0x03
)

// Operand tags. Names are hashed either as a positional parameter slot or
// as a free name.
const (
	TagSlotRef  byte = 0x10 // parameter, de Bruijn indexed
	TagFreeName byte = 0x11 // global, local or closure name

	TagConstInt    byte = 0x20
	TagConstDouble byte = 0x21
	TagConstBigInt byte = 0x22
	TagConstString byte = 0x23
	TagConstBool   byte = 0x24
	TagConstNone   byte = 0x25

	TagModuleCall byte = 0x30
	TagCount      byte = 0x31
	TagTarget     byte = 0x32
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagChunk, TagFunction, TagInstruction,
	TagSlotRef, TagFreeName,
	TagConstInt, TagConstDouble, TagConstBigInt, TagConstString, TagConstBool, TagConstNone,
	TagModuleCall, TagCount, TagTarget,
}
