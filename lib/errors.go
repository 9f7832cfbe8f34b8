package lib

import "errors"

var (
	ErrInvalidState = errors.New("operation not permitted in current state")
	ErrNotConnected = errors.New("connection is not established")
	ErrNotListening = errors.New("connection is not listening")
	ErrNotBound     = errors.New("connection has no local port")
	ErrAlreadyBound = errors.New("connection is already bound")
	ErrPortInUse    = errors.New("port already in use")
	ErrNoFreePort   = errors.New("no free ephemeral port")
	ErrNoFreeSlot   = errors.New("connection table is full")
	ErrWouldBlock   = errors.New("operation would block")
	ErrReleased     = errors.New("connection has been released")

	errShortSegment   = errors.New("segment shorter than header")
	errUnknownType    = errors.New("unknown segment type")
	errPayloadTooLong = errors.New("payload exceeds MSS")
	errUnexpectedData = errors.New("payload on a non-DATA segment")
)
