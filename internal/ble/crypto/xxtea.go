package crypto

import "encoding/binary"

const xxteaDelta = 0x9e3779b9

const words = BlockSize / 4

// xxteaBlock is Corrected Block TEA over one 16-byte frame. The device loads
// frame words big-endian (each 4-byte chunk reversed relative to the usual
// little-endian XXTEA), key words little-endian.
type xxteaBlock struct {
	key [4]uint32
}

func newXXTEA(key []byte) *xxteaBlock {
	b := &xxteaBlock{}
	for i := range b.key {
		b.key[i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	return b
}

func (b *xxteaBlock) BlockSize() int { return BlockSize }

func (b *xxteaBlock) Encrypt(dst, src []byte) {
	var v [words]uint32
	load(&v, src)
	b.encrypt(&v)
	store(dst, &v)
}

func (b *xxteaBlock) Decrypt(dst, src []byte) {
	var v [words]uint32
	load(&v, src)
	b.decrypt(&v)
	store(dst, &v)
}

func (b *xxteaBlock) mx(sum, y, z uint32, p int, e uint32) uint32 {
	return (((z >> 5) ^ (y << 2)) + ((y >> 3) ^ (z << 4))) ^ ((sum ^ y) + (b.key[(uint32(p)&3)^e] ^ z))
}

func (b *xxteaBlock) encrypt(v *[words]uint32) {
	const n = words
	rounds := 6 + 52/n
	var sum uint32
	z := v[n-1]
	for ; rounds > 0; rounds-- {
		sum += xxteaDelta
		e := (sum >> 2) & 3
		var p int
		for p = 0; p < n-1; p++ {
			y := v[p+1]
			v[p] += b.mx(sum, y, z, p, e)
			z = v[p]
		}
		y := v[0]
		v[n-1] += b.mx(sum, y, z, p, e)
		z = v[n-1]
	}
}

func (b *xxteaBlock) decrypt(v *[words]uint32) {
	const n = words
	rounds := 6 + 52/n
	sum := uint32(rounds) * xxteaDelta
	y := v[0]
	for ; rounds > 0; rounds-- {
		e := (sum >> 2) & 3
		var p int
		for p = n - 1; p > 0; p-- {
			z := v[p-1]
			v[p] -= b.mx(sum, y, z, p, e)
			y = v[p]
		}
		z := v[n-1]
		v[0] -= b.mx(sum, y, z, p, e)
		y = v[0]
		sum -= xxteaDelta
	}
}

func load(v *[words]uint32, src []byte) {
	for i := range v {
		v[i] = binary.BigEndian.Uint32(src[4*i:])
	}
}

func store(dst []byte, v *[words]uint32) {
	for i := range v {
		binary.BigEndian.PutUint32(dst[4*i:], v[i])
	}
}
