package http11

// HeaderRef is one parsed header as a (name, value) pair of offset/length
// spans into a connection record's receive buffer. Names preserve
// original case; all lookups here are case-insensitive.
type HeaderRef struct {
	NameOff, NameLen   int
	ValueOff, ValueLen int
}

// Headers is the ordered sequence of HeaderRef produced for one request,
// backed by a caller-owned slice so the connection pool can preallocate
// it once per record instead of per request. Every recorded ref must lie
// inside the currently valid prefix of the bound buffer; callers that
// discard buffer bytes call Reset.
type Headers struct {
	buf  []byte
	refs []HeaderRef
}

// Bind points Headers at the receive buffer it will read offsets from
// and the backing array it will record refs into (capacity MaxHeaders,
// owned by the connection record).
func (h *Headers) Bind(buf []byte, storage []HeaderRef) {
	h.buf = buf
	h.refs = storage[:0]
}

// Add records one parsed header; returns NoUnusedElements if the
// preallocated storage is full. There is no retry: the caller must
// respond 413 or close.
func (h *Headers) Add(ref HeaderRef) Result {
	if len(h.refs) >= cap(h.refs) {
		return NoUnusedElements
	}
	h.refs = append(h.refs, ref)
	return OK
}

// Reset clears recorded headers without releasing the backing array.
func (h *Headers) Reset() {
	h.refs = h.refs[:0]
}

// Len returns the number of recorded headers.
func (h *Headers) Len() int { return len(h.refs) }

// At returns the name and value bytes of the i'th header.
func (h *Headers) At(i int) (name, value []byte) {
	r := h.refs[i]
	return h.buf[r.NameOff : r.NameOff+r.NameLen], h.buf[r.ValueOff : r.ValueOff+r.ValueLen]
}

// Get returns the value of the first header matching name
// case-insensitively, and whether one was found.
func (h *Headers) Get(name string) ([]byte, bool) {
	for i := range h.refs {
		n, v := h.At(i)
		if equalFoldASCII(n, name) {
			return v, true
		}
	}
	return nil, false
}

func equalFoldASCII(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		bc, sc := b[i], s[i]
		if bc >= 'A' && bc <= 'Z' {
			bc += 'a' - 'A'
		}
		if sc >= 'A' && sc <= 'Z' {
			sc += 'a' - 'A'
		}
		if bc != sc {
			return false
		}
	}
	return true
}

// GetField scans an RFC 2617 digest-auth header value for "name=",
// optionally quoted, and returns the slice of characters up to the first
// terminator outside {A-Z, a-z, 0-9, '-', '_'}. This is the field
// extractor the digest helper (pkg/shockwave/digest) is built on.
func GetField(value []byte, name string) ([]byte, bool) {
	needle := name + "="
	for i := 0; i+len(needle) <= len(value); i++ {
		if !equalFoldASCII(value[i:i+len(needle)], needle) {
			continue
		}
		// Reject a match that's a suffix of a longer token, e.g.
		// looking for "nc=" must not match inside "cnonce=".
		if i > 0 && isFieldNameByte(value[i-1]) {
			continue
		}
		start := i + len(needle)
		if start < len(value) && value[start] == '"' {
			start++
		}
		end := start
		for end < len(value) && isFieldValueByte(value[end]) {
			end++
		}
		return value[start:end], true
	}
	return nil, false
}

func isFieldNameByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_'
}

func isFieldValueByte(b byte) bool {
	return isFieldNameByte(b)
}
