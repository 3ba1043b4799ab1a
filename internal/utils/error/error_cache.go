package error

import (
	"encoding/binary"
)

// seenKey builds the dedup cache key for a (source, message) pair.
func seenKey(source, message string) []byte {
	key := make([]byte, 0, len(source)+len(message)+1)
	key = append(key, source...)
	key = append(key, ':')
	key = append(key, message...)
	return key
}

// incrementSeenCount bumps and returns the occurrence counter stored in
// fastcache for the given key. Counters live in the cache rather than a
// map so unbounded distinct messages (attacker-controlled request paths,
// for example) cannot grow process memory without bound.
func (e *ErrorHandler) incrementSeenCount(key []byte) uint32 {
	buf := make([]byte, 4)
	if v := e.cache.Get(buf[:0], key); len(v) == 4 {
		count := binary.LittleEndian.Uint32(v) + 1
		binary.LittleEndian.PutUint32(buf, count)
		e.cache.Set(key, buf)
		return count
	}

	binary.LittleEndian.PutUint32(buf, 1)
	e.cache.Set(key, buf)
	return 1
}

// SeenCount returns how many times a (source, message) pair has been
// recorded, zero when never seen.
func (e *ErrorHandler) SeenCount(source, message string) uint32 {
	buf := make([]byte, 4)
	if v := e.cache.Get(buf[:0], seenKey(source, message)); len(v) == 4 {
		return binary.LittleEndian.Uint32(v)
	}
	return 0
}

func (e *ErrorHandler) Close() {
	if e.cache != nil {
		e.cache.Reset()
	}
}
