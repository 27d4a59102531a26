package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
)

// --------------------------------------------------------------------------
// Incremental Scanner
// --------------------------------------------------------------------------

type valueKind uint8

const (
	kindNone valueKind = iota
	kindComposite
	kindString
	kindScalar
)

// Scanner finds the boundaries of top-level JSON values in an accumulating
// buffer. It remembers how far a pending value was scanned, so every byte is
// inspected once no matter how many reads a large message spans. Only complete
// values are validated and handed on.
//
// The buffer passed to Split must start with the bytes the previous call left
// unconsumed. The zero value is ready to use.
type Scanner struct {
	kind     valueKind
	pos      int // next byte to scan, relative to the buffer start
	depth    int
	inString bool
	escaped  bool
}

func (s *Scanner) reset() {
	*s = Scanner{}
}

// Split calls fn for every complete top-level value in buf and returns the
// number of leading bytes consumed. Whitespace between values is consumed too.
func (s *Scanner) Split(buf []byte, fn func(raw json.RawMessage) error) (int, error) {
	consumed := 0

	for {
		if s.kind == kindNone {
			for consumed < len(buf) && isSpace(buf[consumed]) {
				consumed++
			}
			if consumed == len(buf) {
				return consumed, nil
			}
		}

		end, err := s.scan(buf, consumed)
		if err != nil {
			s.reset()
			return consumed, &common.ProtocolError{Offset: consumed, Err: err}
		}

		// Case incomplete: resume at the same byte once the consumed prefix is dropped
		if end < 0 {
			s.pos -= consumed
			return consumed, nil
		}
		s.reset()

		var raw json.RawMessage
		if err := json.Unmarshal(buf[consumed:end], &raw); err != nil {
			return consumed, &common.ProtocolError{Offset: consumed, Err: err}
		}

		offset := consumed
		consumed = end

		if err := fn(raw); err != nil {
			var perr *common.ProtocolError
			if errors.As(err, &perr) {
				perr.Offset = offset
				return offset, perr
			}
			return offset, err
		}
	}
}

// scan advances over the value starting at start. It returns the end offset of
// the value, or -1 if buf ends before the value does.
func (s *Scanner) scan(buf []byte, start int) (int, error) {
	if s.kind == kindNone {
		switch c := buf[start]; {
		case c == '{' || c == '[':
			s.kind = kindComposite
		case c == '"':
			s.kind = kindString
		case c == '-' || (c >= '0' && c <= '9') || c == 't' || c == 'f' || c == 'n':
			s.kind = kindScalar
		default:
			return -1, fmt.Errorf("invalid character %q looking for beginning of value", c)
		}
		s.pos = start
	}

	for ; s.pos < len(buf); s.pos++ {
		c := buf[s.pos]

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inString = false
				if s.kind == kindString {
					return s.pos + 1, nil
				}
			}
			continue
		}

		switch s.kind {
		case kindString:
			// opening quote
			s.inString = true
		case kindScalar:
			if isSpace(c) || isDelimiter(c) {
				return s.pos, nil
			}
		case kindComposite:
			switch c {
			case '{', '[':
				s.depth++
			case '}', ']':
				s.depth--
				if s.depth == 0 {
					return s.pos + 1, nil
				}
			case '"':
				s.inString = true
			default:
				if !isValueByte(c) {
					return -1, fmt.Errorf("invalid character %q in value", c)
				}
			}
		}
	}
	return -1, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDelimiter(c byte) bool {
	switch c {
	case '{', '}', '[', ']', '"', ',', ':':
		return true
	}
	return false
}

// isValueByte reports whether c may appear outside a string inside an object or array.
// Exact grammar is checked once the value is complete.
func isValueByte(c byte) bool {
	if isSpace(c) || (c >= '0' && c <= '9') {
		return true
	}
	switch c {
	case ',', ':', '-', '+', '.', 'e', 'E', 't', 'r', 'u', 'f', 'a', 'l', 's', 'n':
		return true
	}
	return false
}
