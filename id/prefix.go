package id

import "github.com/elastos-carrier/carrier-go/crypto"

// Prefix is a (id, depth) pair where bits [0..depth] of id are
// significant, per spec.md §3. Depth -1 denotes the whole ID space (no
// significant bits); depth 255 denotes a single concrete ID.
type Prefix struct {
	ID    ID
	Depth int
}

// NewPrefix returns the whole-space prefix, the root of the tree every
// routing table bucket ultimately descends from.
func NewPrefix() Prefix { return Prefix{Depth: -1} }

// IsPrefixOf reports whether other agrees with p in p's significant
// bits. Every ID is a match for the whole-space prefix (depth -1).
func (p Prefix) IsPrefixOf(other ID) bool {
	if p.Depth < 0 {
		return true
	}
	return BitsEqual(p.ID, other, p.Depth+1)
}

// Parent returns the prefix one level up the tree (depth-1), clamped at
// the whole-space prefix.
func (p Prefix) Parent() Prefix {
	if p.Depth <= -1 {
		return p
	}
	parent := p
	parent.Depth--
	// Clear bits below the new depth so the parent is in canonical form.
	parent.ID = parent.First()
	return parent
}

// Splittable reports whether p can be split further (spec.md §4.2: a
// bucket may split only while its prefix depth is below 255).
func (p Prefix) Splittable() bool { return p.Depth < Size*8-1 }

// Split divides p into its two children at depth+1, extending p's
// significant bits by one bit set to 0 and one bit set to 1 respectively.
// The caller receiving bit 0 is conventionally "low" and bit 1 "high".
func (p Prefix) Split() (low, high Prefix) {
	newDepth := p.Depth + 1
	low = Prefix{ID: p.First(), Depth: newDepth}
	high = Prefix{ID: p.First(), Depth: newDepth}
	setBit(&high.ID, newDepth, 1)
	return low, high
}

// SiblingOf returns the prefix covering the other half of p's parent:
// the prefix at the same depth as p with its least-significant
// significant bit flipped.
func (p Prefix) SiblingOf() Prefix {
	if p.Depth < 0 {
		return p
	}
	sib := p
	setBit(&sib.ID, p.Depth, 1-bitAt(p.ID, p.Depth))
	return sib
}

// First returns the smallest ID consistent with p: all bits past depth
// cleared to zero.
func (p Prefix) First() ID {
	var out ID
	copy(out[:], p.ID[:])
	if p.Depth < 0 {
		return Zero
	}
	clearBelow(&out, p.Depth)
	return out
}

// Last returns the largest ID consistent with p: all bits past depth set
// to one.
func (p Prefix) Last() ID {
	var out ID
	copy(out[:], p.ID[:])
	if p.Depth < 0 {
		for i := range out {
			out[i] = 0xFF
		}
		return out
	}
	setAbove(&out, p.Depth)
	return out
}

// clearBelow zeroes every bit with index > depth (0-based, MSB-first).
func clearBelow(id *ID, depth int) {
	fullBytes := (depth + 1) / 8
	rem := (depth + 1) % 8
	if rem != 0 {
		mask := byte(0xFF << uint(8-rem))
		id[fullBytes] &= mask
		fullBytes++
	}
	for i := fullBytes; i < Size; i++ {
		id[i] = 0
	}
}

// setAbove sets every bit with index > depth (0-based, MSB-first).
func setAbove(id *ID, depth int) {
	fullBytes := (depth + 1) / 8
	rem := (depth + 1) % 8
	if rem != 0 {
		mask := byte(0xFF >> uint(rem))
		id[fullBytes] |= mask
		fullBytes++
	}
	for i := fullBytes; i < Size; i++ {
		id[i] = 0xFF
	}
}

// RandomIDInPrefix returns a random ID consistent with p: the
// significant bits are fixed to p.ID's, the remainder are uniformly
// random. This backs spec.md §8's law `p.is_prefix_of(p.random_id_in_prefix())`.
func (p Prefix) RandomIDInPrefix() (ID, error) {
	randomBytes, err := crypto.RandomBytes(Size)
	if err != nil {
		return Zero, err
	}
	out, _ := FromBytes(randomBytes)
	if p.Depth < 0 {
		return out, nil
	}
	fullBytes := (p.Depth + 1) / 8
	rem := (p.Depth + 1) % 8
	copy(out[:fullBytes], p.ID[:fullBytes])
	if rem != 0 {
		mask := byte(0xFF << uint(8-rem))
		out[fullBytes] = (p.ID[fullBytes] & mask) | (out[fullBytes] &^ mask)
	}
	return out, nil
}

// String renders the prefix as "<id-hex>/<depth+1>", the number of
// significant bits.
func (p Prefix) String() string {
	if p.Depth < 0 {
		return "0x0/0"
	}
	return p.ID.Hex() + "/" + itoa(p.Depth+1)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
