package mime

// NoSource marks positions of a cleaned buffer that hold padding rather
// than a byte of the original.
const NoSource = -1

var softBreak = [3]byte{'=', '\r', '\n'}

// CleanSoftBreaks removes quoted-printable soft line breaks ("=\r\n") from
// body. The cleaned bytes are followed by zero padding so the result is
// exactly as long as body. The returned map gives, for each position of
// the result, the position in body the byte came from, or NoSource for
// padding.
//
// Removal is applied to the output as it is built, so a soft break that
// only appears once another is removed is removed too. The result never
// contains "=\r\n" and cleaning it again changes nothing.
func CleanSoftBreaks(body []byte) ([]byte, []int) {
	cleaned := make([]byte, 0, len(body))
	index := make([]int, 0, len(body))
	for i, c := range body {
		cleaned = append(cleaned, c)
		index = append(index, i)
		if n := len(cleaned); n >= 3 && [3]byte(cleaned[n-3:]) == softBreak {
			cleaned = cleaned[:n-3]
			index = index[:n-3]
		}
	}
	for len(cleaned) < len(body) {
		cleaned = append(cleaned, 0)
		index = append(index, NoSource)
	}
	return cleaned, index
}
