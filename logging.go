package shellyedge

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLogLevel accepts the verbosity letters of the -v flag (t, d, i, w, e)
// as well as logrus level names.
func ParseLogLevel(level string) (log.Level, error) {
	switch strings.ToLower(strings.TrimLeft(level, "-")) {
	case "t":
		return log.TraceLevel, nil
	case "d":
		return log.DebugLevel, nil
	case "i":
		return log.InfoLevel, nil
	case "w":
		return log.WarnLevel, nil
	case "e":
		return log.ErrorLevel, nil
	}
	lvl, err := log.ParseLevel(strings.TrimLeft(level, "-"))
	if err != nil {
		return log.WarnLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// SetLogLevel configures the global logger. With a logFile the output also
// goes to a rotated file.
func SetLogLevel(level string, logFile string) error {
	lvl, err := ParseLogLevel(level)
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "02-01-2006 15:04:05",
	})
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	log.SetOutput(out)
	return err
}
