package sheets

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// RowTag derives the stable, non-zero 31-bit row tag for a
// (destination, receipt) pair. The tag anchors a hidden per-row metadata
// entry, which is how Add stays idempotent across redeliveries. Collisions
// are possible at this width; the adapter disambiguates by also checking
// the receipt id stored in the metadata value.
func RowTag(destinationID, receiptID uuid.UUID) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(destinationID.String()))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(receiptID.String()))
	tag := int32(h.Sum32() & 0x7fffffff)
	if tag == 0 {
		tag = 1
	}
	return tag
}
