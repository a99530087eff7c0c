// Package netwrk owns the TCP side of the server: the acceptor that admits
// new connections and the per-connection packet reader.
package netwrk

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

const maxAcceptDelay = time.Second

// Acceptor runs the blocking accept loop and hands new connections to the
// tick loop through a buffered channel.
type Acceptor struct {
	listener net.Listener
	conns    chan net.Conn
}

// Listen binds addr. A failure here is fatal to the server.
func Listen(addr string, queue int) (*Acceptor, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s failed", addr)
	}
	return &Acceptor{
		listener: listener,
		conns:    make(chan net.Conn, queue),
	}, nil
}

func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Conns is the handoff queue. It is closed when Run returns.
func (a *Acceptor) Conns() <-chan net.Conn {
	return a.conns
}

// Run accepts until the listener is closed. A failed accept is logged and
// retried with a growing delay; it never ends the loop.
func (a *Acceptor) Run() {
	defer close(a.conns)

	var delay time.Duration
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logger.WithError(err).WithField("retry", delay).Error("accept failed")
			time.Sleep(delay)
			continue
		}
		delay = 0

		configure(conn)
		select {
		case a.conns <- conn:
			logger.WithField("remote", conn.RemoteAddr().String()).Debug("connection accepted")
		default:
			logger.WithField("remote", conn.RemoteAddr().String()).Warn("accept queue full, dropping connection")
			_ = conn.Close()
		}
	}
}

// Close stops Run by closing the listener.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

func configure(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(true)
	_ = tcp.SetKeepAlive(true)
}
