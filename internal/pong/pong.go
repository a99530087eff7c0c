package pong

import (
	"math"
	"time"

	"netpong/internal/packet"
)

// Config holds every tunable of the simulation. Distances are court units,
// BallSpeed is court units per second.
type Config struct {
	CourtWidth  float64
	CourtHeight float64
	PaddleLen   float64
	PaddleSep   float64
	BallSpeed   float64

	TickInterval time.Duration
	HitInterval  time.Duration
	EndInterval  time.Duration

	WinScore int
}

// Engine advances a GameState by one fixed tick.
type Engine struct {
	cfg      Config
	dt       float64
	hitTicks int64
	endTicks int64
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		dt:       cfg.TickInterval.Seconds(),
		hitTicks: ticks(cfg.HitInterval, cfg.TickInterval),
		endTicks: ticks(cfg.EndInterval, cfg.TickInterval),
	}
}

// ticks rounds d up to whole ticks.
func ticks(d, tick time.Duration) int64 {
	if tick <= 0 {
		return 0
	}
	return int64((d + tick - 1) / tick)
}

// NewState returns a state waiting for players with the ball parked.
func (e *Engine) NewState() *GameState {
	s := &GameState{
		Phase:       PhaseWaitForPlayers,
		LastHitTick: -1,
	}
	for i := range s.Players {
		s.Players[i].Y = int(e.cfg.CourtHeight / 2)
	}
	e.park(s)
	return s
}

// Step runs one tick. occupied is the number of seated players.
func (e *Engine) Step(s *GameState, occupied int) {
	s.Tick++

	switch s.Phase {
	case PhaseWaitForPlayers:
		if occupied == 2 {
			e.setPhase(s, PhaseServeP1)
		}

	case PhaseServeP1, PhaseServeP2:
		if occupied < 2 {
			e.setPhase(s, PhaseWaitForPlayers)
			return
		}
		server := 0
		if s.Phase == PhaseServeP2 {
			server = 1
		}
		if s.Players[server].Key&packet.KeyServe != 0 {
			e.launch(s, server)
		}

	case PhasePlay:
		if occupied < 2 {
			e.park(s)
			e.setPhase(s, PhaseWaitForPlayers)
			return
		}
		e.play(s)

	case PhaseRoundEnd:
		if s.Tick-s.PhaseTick < e.endTicks {
			return
		}
		s0, s1 := s.Players[0].Score, s.Players[1].Score
		s.Players[0].Score = 0
		s.Players[1].Score = 0
		switch {
		case occupied < 2 || s0 == s1:
			e.setPhase(s, PhaseWaitForPlayers)
		case s0 > s1:
			e.setPhase(s, PhaseServeP1)
		default:
			e.setPhase(s, PhaseServeP2)
		}

	default:
		// Unknown phases never survive a tick.
		e.park(s)
		e.setPhase(s, PhaseWaitForPlayers)
	}
}

func (e *Engine) setPhase(s *GameState, p Phase) {
	s.Phase = p
	s.PhaseTick = s.Tick
}

func (e *Engine) park(s *GameState) {
	s.Ball = Ball{Pos: Vector{X: e.cfg.CourtWidth / 2, Y: e.cfg.CourtHeight / 2}}
}

// launch puts the ball next to the serving paddle heading for the opponent
// and consumes the serve bit.
func (e *Engine) launch(s *GameState, slot int) {
	p := &s.Players[slot]
	if slot == 0 {
		s.Ball.Pos = Vector{X: e.cfg.PaddleSep + 1, Y: float64(p.Y)}
		s.Ball.Vel = Vector{X: e.cfg.BallSpeed}
	} else {
		s.Ball.Pos = Vector{X: e.cfg.CourtWidth - e.cfg.PaddleSep - 1, Y: float64(p.Y)}
		s.Ball.Vel = Vector{X: -e.cfg.BallSpeed}
	}
	p.Key &^= packet.KeyServe
	s.LastHitTick = -1
	e.setPhase(s, PhasePlay)
}

func (e *Engine) play(s *GameState) {
	b := &s.Ball
	w := e.cfg.CourtWidth

	from := b.Pos
	b.Pos.X += b.Vel.X * e.dt
	b.Pos.Y += b.Vel.Y * e.dt
	to := b.Pos
	b.Pos.Y, b.Vel.Y = e.reflect(b.Pos.Y, b.Vel.Y)

	if slot, at, ok := e.contact(from, to, b.Vel.X); ok && e.hit(s, slot, at) {
		// A ball that crossed the paddle line within one tick is put back
		// where it met the paddle.
		if b.Pos.X < 0 || b.Pos.X > w {
			b.Pos = at
		}
	}

	if b.Pos.X < 0 {
		e.point(s, 1)
	} else if b.Pos.X > w {
		e.point(s, 0)
	}
}

// reflect folds y back into the court, turning vy away from the wall it hit.
func (e *Engine) reflect(y, vy float64) (float64, float64) {
	h := e.cfg.CourtHeight
	if y < 0 {
		y = -y
		vy = math.Abs(vy)
	} else if y > h {
		y = 2*h - y
		vy = -math.Abs(vy)
	}
	return clamp(y, 0, h), vy
}

// contact reports whether the path from -> to comes within reach of a paddle
// and where. A ball still inside the court meets the paddle where it ends
// the tick; one that would leave the court meets it on the paddle line.
func (e *Engine) contact(from, to Vector, vx float64) (int, Vector, bool) {
	w, sep := e.cfg.CourtWidth, e.cfg.PaddleSep

	var slot int
	x := to.X
	switch {
	case vx < 0 && from.X >= 0 && to.X <= sep:
		slot = 0
		if x < 0 {
			x = math.Min(from.X, sep)
		}
	case vx > 0 && from.X <= w && to.X >= w-sep:
		slot = 1
		if x > w {
			x = math.Max(from.X, w-sep)
		}
	default:
		return 0, Vector{}, false
	}

	y := to.Y
	if x != to.X {
		y = from.Y + (to.Y-from.Y)*(x-from.X)/(to.X-from.X)
	}
	y, _ = e.reflect(y, 0)
	return slot, Vector{X: x, Y: y}, true
}

// hit returns the ball off the paddle in slot if at is within its reach and
// the last hit is at least HitInterval old.
func (e *Engine) hit(s *GameState, slot int, at Vector) bool {
	b := &s.Ball
	offset := at.Y - float64(s.Players[slot].Y)
	if math.Abs(offset) > e.cfg.PaddleLen/2 {
		return false
	}
	if s.LastHitTick >= 0 && s.Tick-s.LastHitTick < e.hitTicks {
		return false
	}

	speed := math.Hypot(b.Vel.X, b.Vel.Y)
	dir := 1.0
	if slot == 1 {
		dir = -1
	}
	if math.Abs(offset) <= e.cfg.PaddleLen/6 {
		b.Vel = Vector{X: dir * speed}
	} else {
		c := speed / math.Sqrt2
		vy := c
		if offset < 0 {
			vy = -c
		}
		b.Vel = Vector{X: dir * c, Y: vy}
	}
	s.LastHitTick = s.Tick
	return true
}

// point credits scorer, parks the ball and hands the serve to the player who
// conceded, or ends the round once a score passes WinScore.
func (e *Engine) point(s *GameState, scorer int) {
	s.Players[scorer].Score++
	e.park(s)
	if s.Players[0].Score > e.cfg.WinScore || s.Players[1].Score > e.cfg.WinScore {
		e.setPhase(s, PhaseRoundEnd)
		return
	}
	e.setPhase(s, servePhase(1-scorer))
}
