package imageproxy

import "bytes"

// IsWebP checks the RIFF container signature: "RIFF" at offset 0 and "WEBP"
// at offset 8. Cached values that fail this check are never served.
func IsWebP(data []byte) bool {
	return len(data) > 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}
