// Command client is a headless player. It joins a server, follows the ball
// with its paddle and serves whenever it is its turn.
package main

import (
	"context"
	"os"
	"os/signal"

	"netpong/internal/log"
	"netpong/internal/netwrk"
	"netpong/internal/packet"
	"netpong/internal/pong"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	addr     string
	username string
	logLevel string

	rootCmd = &cobra.Command{
		Use:          "client",
		Short:        "Plays pong against whoever else joins the server.",
		SilenceUsage: true,
		RunE:         run,
	}

	scoreColor = color.New(color.FgYellow, color.Bold)
	phaseColor = color.New(color.FgCyan)
)

func run(cmd *cobra.Command, _ []string) error {
	log.SetLogger(logLevel)
	if username == "" {
		return errors.New("a name is required")
	}

	c, err := netwrk.Dial(addr, username)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	// Announce ourselves so the server has a name to show.
	if err := c.Send(0, 0); err != nil {
		return err
	}

	// Network reader
	states := make(chan packet.State)
	errs := make(chan error, 1)
	go func() {
		defer close(states)
		for {
			st, err := c.Recv(0)
			if err != nil {
				errs <- err
				return
			}
			states <- st
		}
	}()

	var last packet.State
	var lastY int16 = -1
	var lastKey uint8
	for st := range states {
		y, key := decide(st, username)
		if y != lastY || key != lastKey {
			if err := c.Send(y, key); err != nil {
				return err
			}
			lastY, lastKey = y, key
		}
		report(last, st)
		last = st
	}

	if ctx.Err() != nil {
		return nil
	}
	return errors.Wrap(<-errs, "lost connection to server")
}

// decide picks the paddle position and keys for the next input.
func decide(st packet.State, name string) (int16, uint8) {
	slot := -1
	switch name {
	case st.P1Name:
		slot = 0
	case st.P2Name:
		slot = 1
	}
	phase := pong.Phase(st.Phase)

	var key uint8
	if (slot == 0 && phase == pong.PhaseServeP1) || (slot == 1 && phase == pong.PhaseServeP2) {
		key = packet.KeyServe
	}
	if phase == pong.PhasePlay {
		return st.BallY, key
	}
	if slot == 1 {
		return st.P2Y, key
	}
	return st.P1Y, key
}

func report(prev, st packet.State) {
	if prev.Phase != st.Phase || prev.P1Name != st.P1Name || prev.P2Name != st.P2Name {
		phaseColor.Printf("%s vs %s: %s\n", orDash(st.P1Name), orDash(st.P2Name), pong.Phase(st.Phase))
	}
	if prev.Score1 != st.Score1 || prev.Score2 != st.Score2 {
		scoreColor.Printf("%d : %d\n", st.Score1, st.Score2)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:10000", "server address")
	rootCmd.Flags().StringVarP(&username, "name", "n", "bot", "player name, at most 16 bytes")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn or error")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
