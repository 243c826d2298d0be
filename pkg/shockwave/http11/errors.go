package http11

import "errors"

// Internal sentinel errors. The cursor-driven parse path reports
// BadMessage/WouldBlock/EndOfFile via Result instead; sentinels exist
// for the higher-level helpers that are naturally error-returning.
var (
	// ErrInvalidURL indicates a URL failed the
	// scheme://host[:port][/path] grammar.
	ErrInvalidURL = errors.New("http11: invalid url")
)
