package agent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// ErrInvalidToken is returned by ReadToken when the payload is not UTF-8.
var ErrInvalidToken = errors.New("validation token is not valid UTF-8")

// ReadToken reads one handshake message: a big-endian uint16 byte length
// followed by that many UTF-8 bytes.
func ReadToken(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint16(lenBuf[:])
	data := make([]byte, int(length))
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidToken
	}
	return string(data), nil
}

// WriteToken writes token in the handshake framing read by ReadToken.
func WriteToken(w io.Writer, token string) error {
	if len(token) > math.MaxUint16 {
		return fmt.Errorf("validation token too large: %d bytes", len(token))
	}
	buf := make([]byte, 2+len(token))
	binary.BigEndian.PutUint16(buf, uint16(len(token)))
	copy(buf[2:], token)
	_, err := w.Write(buf)
	return err
}
