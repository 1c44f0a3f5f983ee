// Package routeros implements the RouterOS API wire protocol: the
// length-prefixed word codec, sentence framing and an authenticated
// request/response session.
//
// # Wire format
//
// A word is a length prefix followed by that many bytes. The prefix uses
// one of five size classes chosen by the word length L:
//
//	0x00000000-0x0000007F  1 byte   L
//	0x00000080-0x00003FFF  2 bytes  L | 0x8000
//	0x00004000-0x001FFFFF  3 bytes  L | 0xC00000
//	0x00200000-0x0FFFFFFF  4 bytes  L | 0xE0000000
//	0x10000000-0xFFFFFFFF  5 bytes  0xF0, L
//
// A sentence is a sequence of words terminated by a zero-length word.
package routeros

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Common errors
var (
	ErrConnectionClosed = errors.New("connection closed by remote end")
	ErrInvalidLength    = errors.New("invalid word length prefix")
	ErrWordTooLong      = errors.New("word exceeds maximum encodable length")
)

// MaxWordLength is the largest length the 5-byte prefix can carry.
const MaxWordLength = 0xFFFFFFFF

// MaxReadWordLength caps the words ReadWord accepts. Replies to the
// commands the gateway sends are a few hundred bytes.
const MaxReadWordLength = 4 << 20

// EncodeLength returns the length prefix for a word of n bytes.
func EncodeLength(n int) ([]byte, error) {
	switch {
	case n < 0:
		return nil, ErrInvalidLength
	case n < 0x80:
		return []byte{byte(n)}, nil
	case n < 0x4000:
		v := uint32(n) | 0x8000
		return []byte{byte(v >> 8), byte(v)}, nil
	case n < 0x200000:
		v := uint32(n) | 0xC00000
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}, nil
	case n < 0x10000000:
		v := uint32(n) | 0xE0000000
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}, nil
	case uint64(n) <= MaxWordLength:
		v := uint32(n)
		return []byte{0xF0, byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}, nil
	default:
		return nil, ErrWordTooLong
	}
}

// EncodeWord returns the wire form of a single word.
func EncodeWord(w string) ([]byte, error) {
	prefix, err := EncodeLength(len(w))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(prefix)+len(w))
	buf = append(buf, prefix...)
	buf = append(buf, w...)
	return buf, nil
}

// EncodeSentence returns the wire form of a sentence including the
// zero-length terminator.
func EncodeSentence(words []string) ([]byte, error) {
	var buf []byte
	for _, w := range words {
		enc, err := EncodeWord(w)
		if err != nil {
			return nil, fmt.Errorf("encode %.32q: %w", w, err)
		}
		buf = append(buf, enc...)
	}
	return append(buf, 0x00), nil
}

// ReadLength decodes a length prefix from r.
func ReadLength(r io.ByteReader) (int, error) {
	c, err := readByte(r)
	if err != nil {
		return 0, err
	}

	var extra int
	var n uint32
	switch {
	case c&0x80 == 0x00:
		return int(c), nil
	case c&0xC0 == 0x80:
		n, extra = uint32(c&^0xC0), 1
	case c&0xE0 == 0xC0:
		n, extra = uint32(c&^0xE0), 2
	case c&0xF0 == 0xE0:
		n, extra = uint32(c&^0xF0), 3
	case c&0xF8 == 0xF0:
		n, extra = 0, 4
	default:
		// 0xF8..0xFF are reserved control bytes
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidLength, c)
	}

	for i := 0; i < extra; i++ {
		b, err := readByte(r)
		if err != nil {
			return 0, err
		}
		n = n<<8 | uint32(b)
	}
	return int(n), nil
}

// ReadWord decodes one word from r. Words longer than MaxReadWordLength
// are rejected before any of their body is read.
func ReadWord(r *bufio.Reader) (string, error) {
	n, err := ReadLength(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > MaxReadWordLength {
		return "", fmt.Errorf("%w: %d bytes announced", ErrWordTooLong, n)
	}
	// Memory grows with the bytes that actually arrive, not the prefix.
	var sb strings.Builder
	if _, err := io.CopyN(&sb, r, int64(n)); err != nil {
		return "", closedErr(err)
	}
	return sb.String(), nil
}

// ReadSentence reads words until the zero-length terminator and returns
// them. Empty sentences are returned as an empty, non-nil slice.
func ReadSentence(r *bufio.Reader) ([]string, error) {
	words := []string{}
	for {
		w, err := ReadWord(r)
		if err != nil {
			return nil, err
		}
		if w == "" {
			return words, nil
		}
		words = append(words, w)
	}
}

// WriteSentence writes a sentence to w in a single call.
func WriteSentence(w io.Writer, words []string) error {
	buf, err := EncodeSentence(words)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return closedErr(err)
	}
	return nil
}

func readByte(r io.ByteReader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, closedErr(err)
	}
	return b, nil
}

// closedErr maps end-of-stream conditions to ErrConnectionClosed.
func closedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return err
}
