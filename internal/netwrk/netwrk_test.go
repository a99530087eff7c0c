package netwrk

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"netpong/internal/packet"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAcceptorQueuesConnections(t *testing.T) {
	a, err := Listen("127.0.0.1:0", 4)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		a.Run()
		close(done)
	}()

	c, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case conn := <-a.Conns():
		require.NotNil(t, conn)
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not handed off")
	}

	require.NoError(t, a.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	_, ok := <-a.Conns()
	require.False(t, ok)
}

func TestAcceptorDropsWhenQueueFull(t *testing.T) {
	a, err := Listen("127.0.0.1:0", 1)
	require.NoError(t, err)
	go a.Run()
	defer a.Close()

	first, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	second, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	// Nobody drains the queue, so the second connection is closed.
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = second.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, a.Conns(), 1)
}

func TestListenFailure(t *testing.T) {
	a, err := Listen("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer a.Close()

	_, err = Listen(a.Addr().String(), 1)
	require.Error(t, err)
}

func TestReadInputs(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	id := uuid.New()
	out := make(chan Event, 4)
	go ReadInputs(context.Background(), id, server, out)

	_, err := client.Write(packet.EncodeInput(packet.PlayerInput{Name: "ann", Y: 12, Key: packet.KeyServe}))
	require.NoError(t, err)
	ev := <-out
	require.NoError(t, ev.Err)
	require.Equal(t, id, ev.Session)
	require.Equal(t, packet.PlayerInput{Name: "ann", Y: 12, Key: packet.KeyServe}, ev.Input)

	// Half a packet followed by a close is a short read.
	_, err = client.Write(make([]byte, packet.InputSize/2))
	require.NoError(t, err)
	client.Close()
	ev = <-out
	require.True(t, ev.Fatal())
	require.True(t, errors.Is(ev.Err, io.ErrUnexpectedEOF))
}

func TestReadInputsBadNameIsNotAFault(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	out := make(chan Event, 4)
	go ReadInputs(context.Background(), uuid.New(), server, out)

	b := make([]byte, packet.InputSize)
	copy(b, []byte{0xff, 0xfe})
	b[16] = 7
	_, err := client.Write(b)
	require.NoError(t, err)

	ev := <-out
	require.NoError(t, ev.Err)
	require.False(t, ev.Fatal())
	require.Equal(t, packet.PlayerInput{Name: packet.PlaceholderName, Y: 7}, ev.Input)
}

func TestReadInputsStopsOnCancel(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ReadInputs(ctx, uuid.New(), server, make(chan Event))
		close(done)
	}()

	cancel()
	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
}

func TestEventFatal(t *testing.T) {
	require.False(t, Event{}.Fatal())
	require.False(t, Event{Err: errors.Wrap(packet.ErrMalformedPacket, "x")}.Fatal())
	require.True(t, Event{Err: io.EOF}.Fatal())
}

func TestClientRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c, err := Dial(ln.Addr().String(), "bot")
	require.NoError(t, err)
	defer c.Close()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, c.Send(33, packet.KeyServe))
	buf := make([]byte, packet.InputSize)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	in, err := packet.DecodeInput(buf)
	require.NoError(t, err)
	require.Equal(t, packet.PlayerInput{Name: "bot", Y: 33, Key: packet.KeyServe}, in)

	want := packet.State{BallX: 1, BallY: 2, P1Name: "bot", Phase: 3}
	_, err = conn.Write(packet.EncodeState(want))
	require.NoError(t, err)
	got, err := c.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = c.Recv(10 * time.Millisecond)
	require.Error(t, err)
}
