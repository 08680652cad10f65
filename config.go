package paygate

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/tlcpay/paygate/paycfg"
)

const (
	defaultConfigFilename = "paygate.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "paygate.log"
	defaultLogLevel       = "info"

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultNetwork = "regtest"
)

var (
	// DefaultPayDir is the default directory where paygate stores its
	// certificate and logs.
	DefaultPayDir = btcutil.AppDataDir("paygate", false)

	// DefaultConfigFile is the default full path of paygate's
	// configuration file.
	DefaultConfigFile = filepath.Join(DefaultPayDir, defaultConfigFilename)

	defaultLogDir = filepath.Join(DefaultPayDir, defaultLogDirname)

	// networks maps the accepted --network values to their parameters.
	networks = map[string]*chaincfg.Params{
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"regtest": &chaincfg.RegressionNetParams,
		"simnet":  &chaincfg.SimNetParams,
		"signet":  &chaincfg.SigNetParams,
	}
)

// Config is the configuration of the payment gateway daemon.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	PayDir     string `long:"paydir" description:"The base directory that contains paygate's data, logs, configuration file, etc."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Network string `long:"network" description:"The network invoices must be issued for" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" choice:"signet"`

	RPC *paycfg.RPC `group:"rpc" namespace:"rpc"`

	TLS *paycfg.TLS `group:"tls" namespace:"tls"`

	Simnet *paycfg.Simnet `group:"simnet" namespace:"simnet"`

	Debug *paycfg.Debug `group:"debug" namespace:"debug"`

	HealthChecks *paycfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	Dev *paycfg.DevOverrides `group:"dev" namespace:"dev"`

	// ActiveNetParams are the parameters of the selected network.
	ActiveNetParams *chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		PayDir:         DefaultPayDir,
		ConfigFile:     DefaultConfigFile,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DebugLevel:     defaultLogLevel,
		Network:        defaultNetwork,
		RPC:            paycfg.DefaultRPC(),
		TLS:            paycfg.DefaultTLS(),
		Simnet:         paycfg.DefaultSimnet(),
		Debug:          &paycfg.Debug{},
		HealthChecks:   paycfg.DefaultHealthCheck(),
		Dev:            &paycfg.DevOverrides{},
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified
//     options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Println("paygate version", Version)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their paydir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.PayDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultPayDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, err
		}
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.Parse(); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			// The logging system might not yet be initialized,
			// so we also write to stderr to make sure the error
			// appears somewhere.
			_, _ = fmt.Fprintln(os.Stderr, usageMessage)
			paygLog.Warnf("Incorrect usage: %v", usageMessage)
		}

		return nil, err
	}

	return cleanCfg, nil
}

// usageError is an error type that signals a problem with the supplied flags.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// Unwrap returns the underlying error.
func (u *usageError) Unwrap() error {
	return u.err
}

const usageMessage = "Use paygated --help to show usage"

// ValidateConfig checks the given configuration to make sure that it makes
// sense, fills in paths relative to the paygate directory and initializes
// logging.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided paygate directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	payDir := CleanAndExpandPath(cfg.PayDir)
	if payDir != DefaultPayDir {
		cfg.LogDir = filepath.Join(payDir, defaultLogDirname)
	}

	// Create the paygate directory and all other sub-directories if they
	// don't already exist. This makes sure that directory trees are also
	// created for files that point to outside the paydir.
	dirs := []string{payDir, cfg.LogDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("unable to create directory %v: "+
				"%w", dir, err)
		}
	}
	cfg.PayDir = payDir

	if cfg.TLS.CertPath == "" {
		cfg.TLS.CertPath = filepath.Join(
			payDir, paycfg.DefaultTLSCertFilename,
		)
	}
	if cfg.TLS.KeyPath == "" {
		cfg.TLS.KeyPath = filepath.Join(
			payDir, paycfg.DefaultTLSKeyFilename,
		)
	}
	cfg.TLS.CertPath = CleanAndExpandPath(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = CleanAndExpandPath(cfg.TLS.KeyPath)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	params, ok := networks[cfg.Network]
	if !ok {
		return nil, &usageError{
			err: fmt.Errorf("unknown network %q", cfg.Network),
		}
	}
	cfg.ActiveNetParams = params

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			strings.Join(SupportedSubsystems(), ", "))
		os.Exit(0)
	}

	// Initialize logging at the default logging level.
	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	err := initLogRotator(logFile, cfg.MaxLogFileSize, cfg.MaxLogFiles)
	if err != nil {
		return nil, err
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, &usageError{
			err: fmt.Errorf("error parsing debug level: %w", err),
		}
	}

	validators := []interface{ Validate() error }{
		cfg.RPC, cfg.Simnet, cfg.HealthChecks,
	}
	if !cfg.RPC.NoTLS {
		validators = append(validators, cfg.TLS)
	}
	for _, validator := range validators {
		if err := validator.Validate(); err != nil {
			return nil, &usageError{err: err}
		}
	}

	return &cfg, nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
