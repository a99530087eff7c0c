package pong

import (
	"math"

	"netpong/internal/packet"

	"golang.org/x/exp/constraints"
)

type Phase uint8

// Values match the phase byte of the state packet.
const (
	PhasePlay Phase = iota
	PhaseServeP1
	PhaseServeP2
	PhaseWaitForPlayers
	PhaseRoundEnd
)

func (p Phase) String() string {
	switch p {
	case PhasePlay:
		return "PLAY"
	case PhaseServeP1:
		return "SERVE_P1"
	case PhaseServeP2:
		return "SERVE_P2"
	case PhaseWaitForPlayers:
		return "WAIT_FOR_PLAYERS"
	case PhaseRoundEnd:
		return "ROUND_END"
	default:
		return "UNKNOWN"
	}
}

func (p Phase) Valid() bool {
	return p <= PhaseRoundEnd
}

// servePhase returns the serve phase of the player in slot.
func servePhase(slot int) Phase {
	if slot == 0 {
		return PhaseServeP1
	}
	return PhaseServeP2
}

type Vector struct {
	X float64
	Y float64
}

type Ball struct {
	Pos Vector
	Vel Vector
}

type Player struct {
	Name  string
	Y     int
	Score int
	Key   uint8
}

// GameState is the authoritative model. It is owned by the tick loop and
// never shared with another goroutine.
type GameState struct {
	Ball    Ball
	Players [2]Player
	Phase   Phase

	// Tick counts completed Steps. PhaseTick is the Tick the current phase
	// was entered on and LastHitTick the Tick of the last paddle hit, or -1.
	Tick        int64
	PhaseTick   int64
	LastHitTick int64
}

// Apply folds the newest input of the player in slot into the state.
func (s *GameState) Apply(slot int, in packet.PlayerInput, courtHeight float64) {
	p := &s.Players[slot]
	p.Name = in.Name
	p.Y = clamp(int(in.Y), 0, int(courtHeight))
	p.Key = in.Key
}

// Vacate clears the seat of a player that left. The score stays.
func (s *GameState) Vacate(slot int) {
	s.Players[slot].Name = ""
	s.Players[slot].Key = 0
}

// Promote moves the player in slot 1 into slot 0, swapping name, score and
// paddle with the seat being given up.
func (s *GameState) Promote() {
	s.Players[0], s.Players[1] = s.Players[1], s.Players[0]
}

// Snapshot quantizes the state for the wire. The ball position is truncated
// toward zero; the simulation keeps the float value.
func (s *GameState) Snapshot() packet.State {
	return packet.State{
		BallX:  int16(clamp(s.Ball.Pos.X, math.MinInt16, math.MaxInt16)),
		BallY:  int16(clamp(s.Ball.Pos.Y, math.MinInt16, math.MaxInt16)),
		P1Y:    int16(clamp(s.Players[0].Y, math.MinInt16, math.MaxInt16)),
		P2Y:    int16(clamp(s.Players[1].Y, math.MinInt16, math.MaxInt16)),
		P1Name: s.Players[0].Name,
		P2Name: s.Players[1].Name,
		Score1: uint8(clamp(s.Players[0].Score, 0, math.MaxUint8)),
		Score2: uint8(clamp(s.Players[1].Score, 0, math.MaxUint8)),
		Phase:  uint8(s.Phase),
	}
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
