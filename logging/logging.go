// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options select the level and output format. An empty Format means json when
// ROWLYTICS_ENV is production and text otherwise.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

func New(opts Options) (*logrus.Logger, error) {
	l := logrus.New()
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stderr)
	}

	level := strings.TrimSpace(opts.Level)
	if level == "" {
		level = os.Getenv("ROWLYTICS_LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(lvl)

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "text"
		if strings.EqualFold(os.Getenv("ROWLYTICS_ENV"), "production") {
			format = "json"
		}
	}
	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log format %q: want text or json", opts.Format)
	}
	return l, nil
}
