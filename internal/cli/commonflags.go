package cli

import (
	"flag"
	"fmt"
	"log/slog"
	"strings"
)

const logLevelFlagName = "log-level"

func addLogLevelFlag(flags *flag.FlagSet) {
	f := logLevelFlag("INFO")
	flags.Var(&f, logLevelFlagName, "set the log level")
}

type logLevelFlag string

func (f *logLevelFlag) Set(s string) error {
	level, err := ParseLogLevel(s)
	if err != nil {
		return err
	}

	slog.SetLogLoggerLevel(level)
	*f = logLevelFlag(strings.ToUpper(s))

	return nil
}

func (f *logLevelFlag) String() string {
	if f == nil {
		return ""
	}
	return string(*f)
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q provided. supported log levels are DEBUG, INFO, WARN, ERROR", s)
	}
}
