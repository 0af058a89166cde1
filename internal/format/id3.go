package format

// ID3HeaderSize is the fixed length of an ID3v2 tag header.
const ID3HeaderSize = 10

// ID3TagSize returns the full length of a leading ID3v2 tag, header
// included, or 0 when p does not start with one. The size field is a
// 28-bit synchsafe integer: four bytes of seven significant bits each.
func ID3TagSize(p []byte) int {
	if len(p) < ID3HeaderSize || p[0] != 'I' || p[1] != 'D' || p[2] != '3' {
		return 0
	}
	size := int(p[6]&0x7F)<<21 |
		int(p[7]&0x7F)<<14 |
		int(p[8]&0x7F)<<7 |
		int(p[9]&0x7F)
	return ID3HeaderSize + size
}
