package netwrk

import (
	"io"
	"net"
	"time"

	"netpong/internal/packet"

	"github.com/pkg/errors"
)

// Client is the player side of a connection.
type Client struct {
	Name string
	conn net.Conn
}

func Dial(addr, name string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", addr)
	}
	return &Client{Name: name, conn: conn}, nil
}

// Send writes one input packet.
func (c *Client) Send(y int16, key uint8) error {
	b := packet.EncodeInput(packet.PlayerInput{Name: c.Name, Y: y, Key: key})
	if _, err := c.conn.Write(b); err != nil {
		return errors.Wrap(err, "send input failed")
	}
	return nil
}

// Recv blocks for the next state packet, up to timeout when it is positive.
func (c *Client) Recv(timeout time.Duration) (packet.State, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return packet.State{}, errors.Wrap(err, "set read deadline failed")
	}
	buf := make([]byte, packet.StateSize)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return packet.State{}, errors.Wrap(err, "receive state failed")
	}
	return packet.DecodeState(buf)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
