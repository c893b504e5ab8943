package badger

import (
	"encoding/binary"

	"github.com/poiesic/chunkstore/core"
)

// Key prefixes for different data types
const (
	collectionPrefix        = "col:"
	recordPrefix            = "docrec:"
	recordSourcePrefix      = "docsrc:"
	recordIDSeq             = "docrecseq"
	keySeparator       byte = 0
)

// makeCollectionKey generates the registry key for a collection.
func makeCollectionKey(collection string) []byte {
	return []byte(collectionPrefix + collection)
}

// makeRecordPrefix generates the prefix shared by every record of a collection.
// Format: prefix:collection\x00
func makeRecordPrefix(collection string) []byte {
	buf := make([]byte, 0, len(recordPrefix)+len(collection)+1)
	buf = append(buf, recordPrefix...)
	buf = append(buf, collection...)
	return append(buf, keySeparator)
}

// makeRecordKey generates a key for a record by ID.
// Format: prefix:collection\x00id
func makeRecordKey(collection string, id core.ID) []byte {
	// Write in BigEndian order so lexicographic sort works correctly
	return binary.BigEndian.AppendUint64(makeRecordPrefix(collection), uint64(id))
}

// makeSourceCollectionPrefix generates the prefix of a collection's source index.
// Format: prefix:collection\x00
func makeSourceCollectionPrefix(collection string) []byte {
	buf := make([]byte, 0, len(recordSourcePrefix)+len(collection)+1)
	buf = append(buf, recordSourcePrefix...)
	buf = append(buf, collection...)
	return append(buf, keySeparator)
}

// makePartialSourceKey generates a partial key for source queries.
// Format: prefix:collection\x00sourceID\x00
func makePartialSourceKey(collection, sourceID string) []byte {
	buf := makeSourceCollectionPrefix(collection)
	buf = append(buf, sourceID...)
	return append(buf, keySeparator)
}

// makeSourceKey generates a composite key for the source index.
// Format: prefix:collection\x00sourceID\x00id
func makeSourceKey(collection, sourceID string, id core.ID) []byte {
	return binary.BigEndian.AppendUint64(makePartialSourceKey(collection, sourceID), uint64(id))
}
