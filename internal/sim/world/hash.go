package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// Digest hashes the replicated world state. Two worlds that consumed the
// same commands from the same dump have equal digests.
func (w *World) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteI64(h, &tmp, int64(w.tick))
	digestWriteU64(h, &tmp, uint64(len(w.order)))
	for _, id := range w.order {
		p := w.players[id]
		digestWriteI64(h, &tmp, int64(p.id))
		h.Write([]byte(p.nick))
		h.Write([]byte(p.team))
		for _, v := range []int{p.x, p.y, p.dx, p.dy, p.coins, p.respawnIn} {
			digestWriteI64(h, &tmp, int64(v))
		}
		h.Write([]byte{boolByte(p.dead), boolByte(p.allDead), boolByte(p.resyncing)})
	}
	digestWriteU64(h, &tmp, uint64(len(w.coins)))
	for _, c := range w.coins {
		for _, v := range []int{c.id, c.x, c.y, c.dx, c.dy, c.collected} {
			digestWriteI64(h, &tmp, int64(v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hash.Hash, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
