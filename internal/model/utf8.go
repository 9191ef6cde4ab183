package model

import (
	"errors"
	"unicode/utf8"
)

var ErrInvalidUTF = errors.New("invalid UTF8")
var ErrContainsWildCards = errors.New("contains wildcard characters")

// CheckUTF8 validates an MQTT UTF-8 string. Topic names may not contain wildcards.
func CheckUTF8(str string, checkWildCards bool) error {
	for i := 0; i < len(str); {
		if str[i] == 0 {
			return ErrInvalidUTF
		}

		if checkWildCards && (str[i] == '+' || str[i] == '#') {
			return ErrContainsWildCards
		} else if str[i]&0x80 == 0 {
			i++
		} else {
			r, size := utf8.DecodeRuneInString(str[i:])
			if r == utf8.RuneError && size == 1 {
				return ErrInvalidUTF
			}
			i += size
		}
	}
	return nil
}
