package paygate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/tlcpay/paygate/actor"
	"github.com/tlcpay/paygate/paymentrpc"
	"github.com/tlcpay/paygate/routing"
	"github.com/tlcpay/paygate/rpcserver"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	_, _ = os.Stdout.Write(p)
	if logRotatorPipe != nil {
		_, _ = logRotatorPipe.Write(p)
	}

	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers. The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences will
	// occur.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	// logRotatorPipe is the write-end pipe for writing to the log
	// rotator. It is written to by the Write method of the logWriter
	// type.
	logRotatorPipe *io.PipeWriter

	paygLog = backendLog.Logger("PYGD")
	gtwyLog = backendLog.Logger(paymentrpc.Subsystem)
	actrLog = backendLog.Logger(actor.Subsystem)
	rpcsLog = backendLog.Logger(rpcserver.Subsystem)
	prtrLog = backendLog.Logger(routing.Subsystem)
)

// Initialize package-global logger variables.
func init() {
	paymentrpc.UseLogger(gtwyLog)
	actor.UseLogger(actrLog)
	rpcserver.UseLogger(rpcsLog)
	routing.UseLogger(prtrLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"PYGD":               paygLog,
	paymentrpc.Subsystem: gtwyLog,
	actor.Subsystem:      actrLog,
	rpcserver.Subsystem:  rpcsLog,
	routing.Subsystem:    prtrLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotator variables are used. maxFileSize is in MB.
func initLogRotator(logFile string, maxFileSize, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(
		logFile, int64(maxFileSize*1024), false, maxFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotator stopped: "+
				"%v\n", err)
		}
	}()

	logRotator = r
	logRotatorPipe = pw

	return nil
}

// closeLogRotator flushes and closes the log file.
func closeLogRotator() {
	if logRotatorPipe != nil {
		_ = logRotatorPipe.Close()
	}
	if logRotator != nil {
		_ = logRotator.Close()
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	subsystems := maps.Keys(subsystemLoggers)
	slices.Sort(subsystems)

	return subsystems
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. Uninitialized subsystems are dynamically created as
// needed.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", debugLevel)
		}

		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		// A lone level sets the global level, subsystem levels that
		// follow it override it.
		if !strings.Contains(logLevelPair, "=") {
			if !validLogLevel(logLevelPair) {
				return fmt.Errorf("the specified debug level "+
					"[%v] is invalid", logLevelPair)
			}

			setLogLevels(logLevelPair)

			continue
		}

		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v] -- use format "+
				"<subsystem>=<level>", logLevelPair)
		}

		subsysID, logLevel := fields[0], fields[1]
		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				SupportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}
