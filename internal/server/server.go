// Package server runs the tick loop that owns the game.
//
// A single goroutine (Run) owns the GameState and the Lobby. It selects over
//  1. new connections handed off by the acceptor,
//  2. packets from the per-connection readers,
//  3. the physics ticker, which sweeps the lobby, folds the newest input of
//     each player into the state and advances the engine by exactly one step,
//  4. the broadcast ticker, which writes the encoded state to every player.
//
// Tickers drop ticks a slow receiver misses, so the loop never runs more than
// one physics step to catch up. Writes carry a deadline so a stalled client
// cannot hold up the others.
package server

import (
	"context"
	"net"
	"time"

	"netpong/internal/config"
	"netpong/internal/lobby"
	plog "netpong/internal/log"
	"netpong/internal/netwrk"
	"netpong/internal/packet"
	"netpong/internal/pong"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Rules advances the game by one tick.
type Rules interface {
	Step(s *pong.GameState, occupied int)
}

type Server struct {
	cfg      config.Configuration
	rules    Rules
	state    *pong.GameState
	lobby    *lobby.Lobby
	acceptor *netwrk.Acceptor
	inbox    chan netwrk.Event
}

func New(cfg config.Configuration, acceptor *netwrk.Acceptor) *Server {
	engine := pong.NewEngine(cfg.Game())
	return &Server{
		cfg:      cfg,
		rules:    engine,
		state:    engine.NewState(),
		lobby:    lobby.CreateLobby(cfg.MaxFaults),
		acceptor: acceptor,
		inbox:    make(chan netwrk.Event, 2*lobby.Slots),
	}
}

// Addr is the address the acceptor listens on.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// Run starts the acceptor and drives the game until ctx is done. Every
// connection is closed on return.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.acceptor.Run()
	defer s.shutdown()

	physics := time.NewTicker(s.cfg.TickInterval())
	defer physics.Stop()
	broadcast := time.NewTicker(s.cfg.BroadcastInterval())
	defer broadcast.Stop()

	logger.WithField("addr", s.acceptor.Addr().String()).Info("tick loop started")
	conns := s.acceptor.Conns()
	for {
		select {
		case <-ctx.Done():
			logger.Info("tick loop stopped")
			return nil

		case conn, ok := <-conns:
			if !ok {
				conns = nil
				logger.Warn("acceptor stopped, no new players will be admitted")
				continue
			}
			s.admit(ctx, conn)

		case ev := <-s.inbox:
			s.receive(ev)

		case <-physics.C:
			s.tick()

		case <-broadcast.C:
			s.broadcast()
		}
	}
}

// shutdown stops the acceptor, closes connections still waiting in the
// handoff queue and then every seated session.
func (s *Server) shutdown() {
	if err := s.acceptor.Close(); err != nil {
		logger.WithError(err).Warn("close listener failed")
	}
	for conn := range s.acceptor.Conns() {
		_ = conn.Close()
	}
	s.lobby.Close()
}

func (s *Server) admit(ctx context.Context, conn net.Conn) {
	sess, err := s.lobby.Join(conn)
	if err != nil {
		logger.WithError(err).WithField("remote", conn.RemoteAddr().String()).Warn("connection rejected")
		return
	}
	go netwrk.ReadInputs(ctx, sess.ID, sess.Conn, s.inbox)
}

func (s *Server) receive(ev netwrk.Event) {
	sess, err := s.lobby.Lookup(ev.Session)
	if err != nil {
		// Events from a session that has already been swept.
		logger.WithError(err).Trace("dropping event")
		return
	}
	switch {
	case ev.Err == nil:
		logger.WithFields(sess.Fields()).WithFields(plog.InputToFields(ev.Input)).Trace("input")
		s.lobby.InputReceived(sess.Slot, ev.Input)
	case ev.Fatal():
		s.lobby.MarkDisconnected(sess.Slot, ev.Err)
	default:
		s.lobby.Fault(sess.Slot, ev.Err)
	}
}

func (s *Server) tick() {
	s.sweep()

	for _, sess := range s.lobby.Sessions() {
		if !sess.Connected {
			continue
		}
		s.safely(sess.Fields(), "session update failed", func() {
			if in, ok := sess.TakeInput(); ok {
				s.state.Apply(sess.Slot, in, s.cfg.CourtHeight)
			}
		})
	}

	prev := s.state.Phase
	s.safely(logrus.Fields{"tick": s.state.Tick}, "step failed", func() {
		s.rules.Step(s.state, s.lobby.OccupiedCount())
	})
	if s.state.Phase != prev {
		logger.WithFields(logrus.Fields{
			"from":  prev.String(),
			"to":    s.state.Phase.String(),
			"score": [2]int{s.state.Players[0].Score, s.state.Players[1].Score},
		}).Info("phase changed")
	}
}

// sweep drops disconnected sessions and mirrors the seat changes in the
// game state.
func (s *Server) sweep() {
	removed, promoted := s.lobby.Sweep()
	if promoted {
		s.state.Promote()
		s.state.Vacate(1)
		return
	}
	for _, slot := range removed {
		s.state.Vacate(slot)
	}
}

func (s *Server) broadcast() {
	snap := s.state.Snapshot()
	b := packet.EncodeState(snap)
	logger.WithFields(plog.StateToFields(snap)).Trace("broadcast")

	for _, sess := range s.lobby.Sessions() {
		if !sess.Connected {
			continue
		}
		// Each write gets its own deadline so a stalled peer only costs one
		// timeout.
		if err := sess.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout())); err != nil {
			s.lobby.MarkDisconnected(sess.Slot, errors.Wrap(err, "set write deadline failed"))
			continue
		}
		if _, err := sess.Conn.Write(b); err != nil {
			s.lobby.MarkDisconnected(sess.Slot, errors.Wrap(err, "write state failed"))
		}
	}
}

// safely runs fn and logs a panic instead of letting it end the loop. The
// state is left as fn left it.
func (s *Server) safely(fields logrus.Fields, msg string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(fields).WithField("panic", r).Error(msg)
		}
	}()
	fn()
}
