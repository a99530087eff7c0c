// Package log configures logrus and turns protocol values into log fields.
package log

import (
	"strings"
	"time"

	"netpong/internal/packet"

	"github.com/sirupsen/logrus"
)

// SetLogger sets the default logger's level and format.
func SetLogger(level string) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(ParseLevel(level))
}

// ParseLevel maps a level name to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func InputToFields(in packet.PlayerInput) logrus.Fields {
	return logrus.Fields{
		"name":  in.Name,
		"y":     in.Y,
		"serve": in.Serve(),
	}
}

func StateToFields(s packet.State) logrus.Fields {
	return logrus.Fields{
		"ball":  [2]int16{s.BallX, s.BallY},
		"p1":    s.P1Name,
		"p2":    s.P2Name,
		"score": [2]uint8{s.Score1, s.Score2},
		"phase": s.Phase,
	}
}
