// Package packet encodes and decodes the two fixed-layout messages spoken
// between the pong server and its clients.
//
// Server -> client (state, 43 bytes):
//
//	ball_x int16 | ball_y int16 | p1y int16 | p2y int16 |
//	p1_name [16]byte | p2_name [16]byte | score_p1 uint8 | score_p2 uint8 | phase uint8
//
// Client -> server (input, 19 bytes):
//
//	name [16]byte | y int16 | key uint8
//
// All integers are little-endian. There is no framing beyond the fixed size,
// so both ends must read exactly StateSize or InputSize bytes per message.
package packet

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	NameSize  = 16
	StateSize = 43
	InputSize = 19

	// KeyServe is the only bit of PlayerInput.Key the server interprets.
	KeyServe uint8 = 32

	// PlaceholderName replaces a name that is not valid UTF-8.
	PlaceholderName = "?"
)

// ErrMalformedPacket is returned when a buffer does not have the expected size.
var ErrMalformedPacket = errors.New("malformed packet")

// State is the wire view of the game state.
type State struct {
	BallX, BallY int16
	P1Y, P2Y     int16
	P1Name       string
	P2Name       string
	Score1       uint8
	Score2       uint8
	Phase        uint8
}

// PlayerInput is one decoded client message.
type PlayerInput struct {
	Name string
	Y    int16
	Key  uint8
}

// Serve reports whether the serve bit is set.
func (in PlayerInput) Serve() bool {
	return in.Key&KeyServe != 0
}

type stateLayout struct {
	BallX, BallY int16
	P1Y, P2Y     int16
	P1Name       [NameSize]byte
	P2Name       [NameSize]byte
	Score1       uint8
	Score2       uint8
	Phase        uint8
}

type inputLayout struct {
	Name [NameSize]byte
	Y    int16
	Key  uint8
}

// EncodeState produces the StateSize byte state message.
func EncodeState(s State) []byte {
	l := stateLayout{
		BallX:  s.BallX,
		BallY:  s.BallY,
		P1Y:    s.P1Y,
		P2Y:    s.P2Y,
		P1Name: packName(s.P1Name),
		P2Name: packName(s.P2Name),
		Score1: s.Score1,
		Score2: s.Score2,
		Phase:  s.Phase,
	}
	buf := bytes.NewBuffer(make([]byte, 0, StateSize))
	// Writes to a bytes.Buffer of fixed-size fields cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, &l)
	return buf.Bytes()
}

// DecodeState parses a state message.
func DecodeState(b []byte) (State, error) {
	if len(b) != StateSize {
		return State{}, errors.Wrapf(ErrMalformedPacket, "state packet is %d bytes, want %d", len(b), StateSize)
	}
	var l stateLayout
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &l); err != nil {
		return State{}, errors.Wrap(ErrMalformedPacket, err.Error())
	}
	return State{
		BallX:  l.BallX,
		BallY:  l.BallY,
		P1Y:    l.P1Y,
		P2Y:    l.P2Y,
		P1Name: unpackName(l.P1Name),
		P2Name: unpackName(l.P2Name),
		Score1: l.Score1,
		Score2: l.Score2,
		Phase:  l.Phase,
	}, nil
}

// EncodeInput produces the InputSize byte input message.
func EncodeInput(in PlayerInput) []byte {
	l := inputLayout{
		Name: packName(in.Name),
		Y:    in.Y,
		Key:  in.Key,
	}
	buf := bytes.NewBuffer(make([]byte, 0, InputSize))
	_ = binary.Write(buf, binary.LittleEndian, &l)
	return buf.Bytes()
}

// DecodeInput parses an input message. Only a size mismatch is an error; a
// name that does not decode as UTF-8 becomes PlaceholderName.
func DecodeInput(b []byte) (PlayerInput, error) {
	if len(b) != InputSize {
		return PlayerInput{}, errors.Wrapf(ErrMalformedPacket, "input packet is %d bytes, want %d", len(b), InputSize)
	}
	var l inputLayout
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &l); err != nil {
		return PlayerInput{}, errors.Wrap(ErrMalformedPacket, err.Error())
	}
	return PlayerInput{
		Name: unpackName(l.Name),
		Y:    l.Y,
		Key:  l.Key,
	}, nil
}

// packName zero-pads name into a fixed buffer, cutting on a rune boundary
// when it is too long.
func packName(name string) [NameSize]byte {
	var out [NameSize]byte
	n := 0
	for _, r := range name {
		size := utf8.RuneLen(r)
		if size < 0 || n+size > NameSize {
			break
		}
		utf8.EncodeRune(out[n:], r)
		n += size
	}
	return out
}

func unpackName(raw [NameSize]byte) string {
	trimmed := bytes.TrimRight(raw[:], "\x00")
	if !utf8.Valid(trimmed) {
		return PlaceholderName
	}
	return string(trimmed)
}
