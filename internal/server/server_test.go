package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"netpong/internal/config"
	"netpong/internal/lobby"
	"netpong/internal/netwrk"
	"netpong/internal/packet"
	"netpong/internal/pong"

	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts ...func(*Server)) string {
	t.Helper()
	cfg := config.Default()
	acceptor, err := netwrk.Listen("127.0.0.1:0", cfg.AcceptQueue)
	require.NoError(t, err)

	s := New(cfg, acceptor)
	for _, opt := range opts {
		opt(s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return s.Addr().String()
}

func waitFor(t *testing.T, c *netwrk.Client, what string, pred func(packet.State) bool) packet.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := c.Recv(time.Second)
		require.NoError(t, err)
		if pred(st) {
			return st
		}
	}
	t.Fatalf("%s: no matching state", what)
	return packet.State{}
}

// join connects name and waits until the server has seated it.
func join(t *testing.T, addr, name string, y int16) *netwrk.Client {
	t.Helper()
	c, err := netwrk.Dial(addr, name)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Send(y, 0))
	waitFor(t, c, name+" seated", func(st packet.State) bool {
		return st.P1Name == name || st.P2Name == name
	})
	return c
}

func TestServeStartsPlay(t *testing.T) {
	addr := startServer(t)
	left := join(t, addr, "left", 45)
	right := join(t, addr, "right", 50)

	st := waitFor(t, left, "serve", func(st packet.State) bool {
		return st.Phase == uint8(pong.PhaseServeP1)
	})
	require.Equal(t, "left", st.P1Name)
	require.Equal(t, "right", st.P2Name)

	require.NoError(t, left.Send(30, packet.KeyServe))
	st = waitFor(t, left, "play", func(st packet.State) bool {
		return st.Phase == uint8(pong.PhasePlay)
	})
	require.Equal(t, int16(30), st.BallY)
	require.GreaterOrEqual(t, st.BallX, int16(6))
	require.Less(t, st.BallX, int16(80))

	// Both players receive the same stream.
	waitFor(t, right, "play seen by right", func(st packet.State) bool {
		return st.Phase == uint8(pong.PhasePlay)
	})
}

func TestThirdPlayerRejected(t *testing.T) {
	addr := startServer(t)
	join(t, addr, "one", 45)
	join(t, addr, "two", 45)

	c, err := netwrk.Dial(addr, "three")
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Recv(2 * time.Second)
	require.Error(t, err)
}

func TestDisconnectPromotesAndWaits(t *testing.T) {
	addr := startServer(t)
	first := join(t, addr, "first", 45)
	second := join(t, addr, "second", 60)
	waitFor(t, second, "serve", func(st packet.State) bool {
		return st.Phase == uint8(pong.PhaseServeP1)
	})

	require.NoError(t, first.Close())
	st := waitFor(t, second, "promotion", func(st packet.State) bool {
		return st.Phase == uint8(pong.PhaseWaitForPlayers) && st.P1Name == "second"
	})
	require.Equal(t, "", st.P2Name)
	require.Equal(t, int16(60), st.P1Y)

	third := join(t, addr, "third", 45)
	st = waitFor(t, third, "new serve", func(st packet.State) bool {
		return st.Phase == uint8(pong.PhaseServeP1)
	})
	require.Equal(t, "second", st.P1Name)
	require.Equal(t, "third", st.P2Name)
}

func TestRunClosesSessionsOnCancel(t *testing.T) {
	cfg := config.Default()
	acceptor, err := netwrk.Listen("127.0.0.1:0", cfg.AcceptQueue)
	require.NoError(t, err)
	s := New(cfg, acceptor)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	c := join(t, s.Addr().String(), "solo", 10)
	cancel()
	require.NoError(t, <-done)

	// States already in flight may still arrive before the close.
	for i := 0; i < 100; i++ {
		if _, err := c.Recv(time.Second); err != nil {
			return
		}
	}
	t.Fatal("connection still open after shutdown")
}

type panickingRules struct{}

func (panickingRules) Step(*pong.GameState, int) {
	panic("step exploded")
}

func TestLoopSurvivesPanickingStep(t *testing.T) {
	addr := startServer(t, func(s *Server) { s.rules = panickingRules{} })

	c := join(t, addr, "steady", 33)
	st := waitFor(t, c, "still broadcasting", func(st packet.State) bool {
		return st.P1Y == 33
	})
	require.Equal(t, "steady", st.P1Name)
	require.Equal(t, uint8(pong.PhaseWaitForPlayers), st.Phase)
}

// seat joins conn directly, without a reader.
func seat(t *testing.T, s *Server, conn net.Conn) *lobby.Session {
	t.Helper()
	sess, err := s.lobby.Join(conn)
	require.NoError(t, err)
	return sess
}

// decodeStates reads states off conn until it fails.
func decodeStates(conn net.Conn) <-chan packet.State {
	out := make(chan packet.State, 16)
	go func() {
		defer close(out)
		buf := make([]byte, packet.StateSize)
		for {
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			st, err := packet.DecodeState(buf)
			if err != nil {
				return
			}
			out <- st
		}
	}()
	return out
}

func next(t *testing.T, states <-chan packet.State) packet.State {
	t.Helper()
	select {
	case st, ok := <-states:
		require.True(t, ok, "connection closed")
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("no state received")
		return packet.State{}
	}
}

func TestStalledPeerIsDroppedWithoutBlockingOthers(t *testing.T) {
	cfg := config.Default()
	cfg.WriteTimeoutMs = 50
	s := New(cfg, nil)
	t.Cleanup(s.lobby.Close)

	// Nobody ever reads from the first seat.
	stalled, stalledPeer := net.Pipe()
	defer stalledPeer.Close()
	stalledSess := seat(t, s, stalled)

	healthy, healthyPeer := net.Pipe()
	defer healthyPeer.Close()
	seat(t, s, healthy)
	states := decodeStates(healthyPeer)

	s.lobby.InputReceived(1, packet.PlayerInput{Name: "healthy", Y: 20})
	s.tick()
	s.broadcast()

	st := next(t, states)
	require.Equal(t, "healthy", st.P2Name)
	require.Equal(t, uint8(pong.PhaseServeP1), st.Phase)
	require.False(t, stalledSess.Connected)
	require.Error(t, stalledSess.Reason)

	s.tick()
	require.Equal(t, 1, s.lobby.OccupiedCount())
	s.broadcast()

	st = next(t, states)
	require.Equal(t, "healthy", st.P1Name)
	require.Equal(t, "", st.P2Name)
	require.Equal(t, int16(20), st.P1Y)
	require.Equal(t, uint8(pong.PhaseWaitForPlayers), st.Phase)
}

func TestPanickingFoldSkipsOnlyThatSession(t *testing.T) {
	s := New(config.Default(), nil)
	t.Cleanup(s.lobby.Close)

	a, _ := net.Pipe()
	b, _ := net.Pipe()
	broken := seat(t, s, a)
	seat(t, s, b)
	s.lobby.InputReceived(0, packet.PlayerInput{Name: "broken", Y: 10})
	s.lobby.InputReceived(1, packet.PlayerInput{Name: "fine", Y: 70})

	// A slot the state has no seat for makes Apply panic.
	broken.Slot = 7
	require.NotPanics(t, s.tick)
	broken.Slot = 0

	require.Equal(t, "", s.state.Players[0].Name)
	require.Equal(t, "fine", s.state.Players[1].Name)
	require.Equal(t, 70, s.state.Players[1].Y)
	require.Equal(t, pong.PhaseServeP1, s.state.Phase)
}
