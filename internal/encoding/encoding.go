// Package encoding converts arbitrary values into transport-safe forms
// before they are serialized into frames.
package encoding

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ChunkSize is the number of bytes handed to the base64 encoder per write.
const ChunkSize = 0x8000

// EscapeString coerces v to a string and re-expresses every UTF-8 byte
// as its own code point (U+0000..U+00FF). ASCII input is returned as is.
func EscapeString(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case nil:
		s = "null"
	case fmt.Stringer:
		s = x.String()
	case error:
		s = x.Error()
	default:
		s = fmt.Sprint(x)
	}

	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		b.WriteRune(rune(s[i]))
	}
	return b.String()
}

// Uint8ToBase64 encodes data with standard padded base64. The input is fed
// to the encoder in ChunkSize pieces; the encoder carries partial groups
// across writes so the output equals a single-shot encoding.
func Uint8ToBase64(data []byte) string {
	var out strings.Builder
	out.Grow(base64.StdEncoding.EncodedLen(len(data)))

	enc := base64.NewEncoder(base64.StdEncoding, &out)
	for index := 0; index < len(data); index += ChunkSize {
		end := min(index+ChunkSize, len(data))
		// strings.Builder never fails a write
		_, _ = enc.Write(data[index:end])
	}
	_ = enc.Close()
	return out.String()
}

// BoolToInt maps true to 1 and false to 0.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
