// Package hashmix implements the 32-bit x86 variant of MurmurHash3 used to
// deterministically bucket users into experiment allocations and
// distributions. The algorithm is a wire contract shared with the remote
// control plane that computes the same buckets server-side; it must match
// bit for bit, so it is hand-rolled here rather than delegated to one of the
// hashing libraries already in the module (cespare/xxhash, zeebo/xxh3) which
// implement different, incompatible algorithms.
package hashmix

const (
	c1 uint32 = 0xcc9e2d51
	c2 uint32 = 0x1b873593
	r1        = 15
	r2        = 13
	m  uint32 = 5
	n  uint32 = 0xe6546b64
)

// Sum32 computes the 32-bit MurmurHash3 (x86) of s with seed 0.
func Sum32(s string) uint32 {
	data := []byte(s)
	length := len(data)
	nBlocks := length / 4
	var hash uint32

	for i := 0; i < nBlocks; i++ {
		idx := i * 4
		k := readInt32LE(data, idx)
		hash = mix(k, hash)
	}

	idx := nBlocks * 4
	var k1 uint32
	remaining := length - idx

	switch remaining {
	case 3:
		k1 ^= uint32(data[idx+2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(data[idx+1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(data[idx])
		k1 *= c1
		k1 = rotateLeft32(k1, r1)
		k1 *= c2
		hash ^= k1
	}

	hash ^= uint32(length)
	return fmix(hash)
}

func mix(k, hash uint32) uint32 {
	k *= c1
	k = rotateLeft32(k, r1)
	k *= c2
	hash ^= k
	hash = rotateLeft32(hash, r2)
	hash = hash*m + n
	return hash
}

func fmix(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

func rotateLeft32(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}

// readInt32LE reads 4 bytes starting at index as a big-endian uint32 and
// then byte-reverses them, reproducing the reference implementation's
// read-big-endian-then-reverse-bytes round trip exactly (the two cancel out
// to a little-endian read, but both steps are kept to match the reference
// bit for bit in case of future divergence).
func readInt32LE(data []byte, index int) uint32 {
	n := uint32(data[index])<<24 | uint32(data[index+1])<<16 | uint32(data[index+2])<<8 | uint32(data[index+3])
	return reverseBytes(n)
}

func reverseBytes(n uint32) uint32 {
	return (n&0xff000000)>>24 | (n&0x00ff0000)>>8 | (n&0x0000ff00)<<8 | (n&0x000000ff)<<24
}
