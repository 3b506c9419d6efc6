// Command bagutil creates, updates and verifies BagIt bags kept as plain
// directories.
//
// Every command but "create" works on an existing bag and fails if the
// directory has no bagit.txt or no data directory.
//
// Mutating commands take an advisory lock on "<bag>.lock" so two bagutil
// processes do not change the same bag at once.
package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// Config is the top-level configuration of bagutil. Options given on the
// command line override those in the configuration file.
var Config = new(struct {
	ConfigFile string    `long:"config" short:"c" env:"BAGUTIL_CONFIG" default:"bagutil.toml" description:"Configuration file. It is not an error if it is missing"`
	Parallel   int       `long:"parallel" short:"p" description:"Number of files to checksum at once"`
	Log        LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

var (
	parser = flags.NewParser(Config, flags.Default)

	// settings is the merged configuration, filled in by startup.
	settings *fileConfig

	// Subcommands that only contain further subcommands. They must exist
	// before the init() functions adding to them run.
	cmdFetch = mustAddCmd(parser.Command, "fetch", "Manage fetch.txt", `
Declare, remove and list payload files which are to be retrieved from a URL
instead of being stored in the bag.
`, &struct{}{})
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level (default warn)"`
	Format string `long:"format" env:"FORMAT" choice:"json" choice:"text" choice:"color" description:"Logging output format (default text)"`
}

// InitLog configures the logger.
func InitLog(cfg LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	} else if cfg.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

// startup reads the configuration file and sets up logging. Every command
// calls it first.
func startup() {
	cfg, err := loadConfig(Config.ConfigFile)
	if err != nil {
		log.WithFields(log.Fields{"file": Config.ConfigFile, "err": err}).Fatal("reading configuration")
	}
	cfg.merge(Config.Parallel, Config.Log)
	InitLog(LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	initSentry(cfg.Sentry.DSN)
	settings = cfg
	log.WithField("config", settings).Debug("using configuration")
}

func mustAddCmd(cmd *flags.Command, name, short, long string, data interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, data)
	if err != nil {
		log.WithFields(log.Fields{"cmd": name, "err": err}).Fatal("failed to add command")
	}
	return cmd
}

func main() {
	if _, err := parser.Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
