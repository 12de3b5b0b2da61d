package badger

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Key prefixes for different data types
const (
	jobRecordPrefix  = "ingjob"
	jobCreatedPrefix = "ingjobc"
	docRecordPrefix  = "kbdoc"
	chunkPrefix      = "kbchunk"
	dimensionKey     = "kbdim"
	sessionPrefix    = "sesturn"
	sessionNextKey   = "sestnext"
)

// makeJobKey generates a key for a job record by ID.
func makeJobKey(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobRecordPrefix, jobID))
}

// makeJobCreatedKey generates a composite key for the creation-time index.
// Format: prefix:timestamp:jobID
func makeJobCreatedKey(createdAt time.Time, jobID string) []byte {
	prefix := jobCreatedPrefix + ":"
	buf := make([]byte, len(prefix)+8+len(jobID))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], jobID)
	return buf
}

// makeDocKey generates a key for a knowledge document record by ID.
func makeDocKey(documentID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", docRecordPrefix, documentID))
}

// makeChunkKey generates a composite key for a chunk.
// Format: prefix:documentID:generation:ordinal
// Generation and ordinal are BigEndian so a generation-prefix scan yields
// that generation's chunks in ordinal order.
func makeChunkKey(documentID string, generation uint64, ordinal int) []byte {
	prefix := chunkPrefix + ":" + documentID + ":"
	buf := make([]byte, len(prefix)+16)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], generation)
	binary.BigEndian.PutUint64(buf[offset+8:], uint64(ordinal))
	return buf
}

// makeChunkGenPrefix generates the scan prefix covering one generation of a
// document's chunks.
func makeChunkGenPrefix(documentID string, generation uint64) []byte {
	prefix := chunkPrefix + ":" + documentID + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], generation)
	return buf
}

// makeChunkPrefix generates the scan prefix covering all chunks of a
// document, across generations.
func makeChunkPrefix(documentID string) []byte {
	return []byte(chunkPrefix + ":" + documentID + ":")
}

// parseChunkKey extracts the document ID and generation from a chunk key.
func parseChunkKey(key []byte) (documentID string, generation uint64, ok bool) {
	prefix := chunkPrefix + ":"
	if len(key) < len(prefix)+1+16 || string(key[:len(prefix)]) != prefix {
		return "", 0, false
	}
	body := key[len(prefix) : len(key)-16]
	if len(body) == 0 || body[len(body)-1] != ':' {
		return "", 0, false
	}
	documentID = string(body[:len(body)-1])
	generation = binary.BigEndian.Uint64(key[len(key)-16 : len(key)-8])
	return documentID, generation, true
}

// makeTurnKey generates a composite key for a conversation turn.
// Format: prefix:sessionID:index
func makeTurnKey(sessionID string, index uint64) []byte {
	prefix := sessionPrefix + ":" + sessionID + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], index)
	return buf
}

// makeTurnPrefix generates the scan prefix covering all turns of a session.
func makeTurnPrefix(sessionID string) []byte {
	return []byte(sessionPrefix + ":" + sessionID + ":")
}

// makeSessionNextKey generates the key holding a session's next turn index.
func makeSessionNextKey(sessionID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", sessionNextKey, sessionID))
}
