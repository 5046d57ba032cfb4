package mesh

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
)

// Canonical triangle id: STM1-FFLL-PPPPPPPPPPPPPPPPPPPP-CCCC
//
//	STM1   version prefix
//	FF     face, zero-padded 00..19
//	LL     level, zero-padded 01..21
//	P*20   path digits 0..3 (level-1 of them), right-padded with 'X'
//	CCCC   lower 16 bits of IEEE CRC-32 over everything before the last
//	       dash, lowercase hex
//
// The string form is the primary key in persistence and the wire encoding;
// encode/decode must stay round-trip stable forever.

const (
	idPrefix       = "STM1"
	pathFieldWidth = MaxLevel - 1
	pathPad        = 'X'
	idLength       = 4 + 1 + 4 + 1 + pathFieldWidth + 1 + 4
)

var (
	// ErrMalformedID reports an id that does not parse at all.
	ErrMalformedID = errors.New("malformed triangle id")
	// ErrBadChecksum reports a well-formed id whose checksum suffix does
	// not match its body.
	ErrBadChecksum = errors.New("triangle id checksum mismatch")
	// ErrMaxLevel reports an attempt to subdivide past level 21.
	ErrMaxLevel = errors.New("triangle is at the maximum level")
	// ErrRootLevel reports an attempt to take the parent of a root face.
	ErrRootLevel = errors.New("triangle is a root face")
)

func checksum(body string) string {
	return fmt.Sprintf("%04x", crc32.ChecksumIEEE([]byte(body))&0xffff)
}

// Encode builds the canonical id for (face, level, path).
func Encode(face, level int, path []int) (string, error) {
	if face < 0 || face >= NumFaces {
		return "", fmt.Errorf("%w: face %d out of range", ErrMalformedID, face)
	}
	if level < 1 || level > MaxLevel {
		return "", fmt.Errorf("%w: level %d out of range", ErrMalformedID, level)
	}
	if len(path) != level-1 {
		return "", fmt.Errorf("%w: path length %d does not match level %d", ErrMalformedID, len(path), level)
	}
	buf := make([]byte, 0, idLength)
	buf = append(buf, idPrefix...)
	buf = append(buf, '-')
	buf = appendPadded2(buf, face)
	buf = appendPadded2(buf, level)
	buf = append(buf, '-')
	for _, d := range path {
		if d < 0 || d > 3 {
			return "", fmt.Errorf("%w: path digit %d", ErrMalformedID, d)
		}
		buf = append(buf, byte('0'+d))
	}
	for i := len(path); i < pathFieldWidth; i++ {
		buf = append(buf, pathPad)
	}
	body := string(buf)
	return body + "-" + checksum(body), nil
}

// Decode parses a canonical id back into (face, level, path).
func Decode(id string) (face, level int, path []int, err error) {
	if len(id) != idLength || id[:5] != idPrefix+"-" || id[9] != '-' || id[10+pathFieldWidth] != '-' {
		return 0, 0, nil, ErrMalformedID
	}
	body := id[:10+pathFieldWidth]
	if id[11+pathFieldWidth:] != checksum(body) {
		return 0, 0, nil, ErrBadChecksum
	}
	face, err = strconv.Atoi(id[5:7])
	if err != nil || face < 0 || face >= NumFaces {
		return 0, 0, nil, ErrMalformedID
	}
	level, err = strconv.Atoi(id[7:9])
	if err != nil || level < 1 || level > MaxLevel {
		return 0, 0, nil, ErrMalformedID
	}
	field := id[10 : 10+pathFieldWidth]
	path = make([]int, 0, level-1)
	for i := 0; i < pathFieldWidth; i++ {
		c := field[i]
		if i < level-1 {
			if c < '0' || c > '3' {
				return 0, 0, nil, ErrMalformedID
			}
			path = append(path, int(c-'0'))
		} else if c != pathPad {
			return 0, 0, nil, ErrMalformedID
		}
	}
	return face, level, path, nil
}

// PathString renders a path as its digit string ("" for level 1).
func PathString(path []int) string {
	b := make([]byte, len(path))
	for i, d := range path {
		b[i] = byte('0' + d)
	}
	return string(b)
}

func appendPadded2(buf []byte, n int) []byte {
	return append(buf, byte('0'+n/10), byte('0'+n%10))
}
