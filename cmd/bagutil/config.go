package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	raven "github.com/getsentry/raven-go"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ndlib/bagkeeper/bagit"
	"github.com/ndlib/bagkeeper/store"
)

// fileConfig is the layout of the configuration file, e.g.
//
//	algorithms = ["sha256"]
//	preference = ["sha512", "sha256", "sha1", "md5"]
//	parallel = 8
//
//	[log]
//	level = "info"
//
//	[s3]
//	region = "us-east-1"
type fileConfig struct {
	// Algorithms are generated by "manifest" when none are given.
	Algorithms []string `toml:"algorithms"`

	// Preference orders the manifests of a bag.
	Preference []string `toml:"preference"`

	Parallel int `toml:"parallel"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	Sentry struct {
		DSN string `toml:"dsn"`
	} `toml:"sentry"`

	S3 struct {
		Region   string `toml:"region"`
		Endpoint string `toml:"endpoint"`
	} `toml:"s3"`
}

// loadConfig reads the named configuration file. A missing file gives the
// default configuration.
func loadConfig(name string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if name != "" {
		_, err := toml.DecodeFile(name, cfg)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, name)
		}
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	return cfg, nil
}

// merge overrides the file settings with command line options which were
// given.
func (cfg *fileConfig) merge(parallel int, logcfg LogConfig) {
	if parallel > 0 {
		cfg.Parallel = parallel
	}
	if logcfg.Level != "" {
		cfg.Log.Level = logcfg.Level
	}
	if logcfg.Format != "" {
		cfg.Log.Format = logcfg.Format
	}
}

// options gives the bag options for these settings.
func (cfg *fileConfig) options() []bagit.Option {
	opts := []bagit.Option{bagit.WithParallel(cfg.Parallel)}
	if len(cfg.Preference) > 0 {
		opts = append(opts, bagit.WithAlgorithms(cfg.Preference...))
	}
	return opts
}

func initSentry(dsn string) {
	if dsn == "" {
		return
	}
	if err := raven.SetDSN(dsn); err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("bad sentry DSN")
	}
}

// createBag opens or creates the bag at root on the local file system.
func createBag(root string, info bagit.Tags) (*bagit.Bag, error) {
	return bagit.Open(afero.NewOsFs(), root, info, settings.options()...)
}

// openBag opens the existing bag at root on the local file system. Nothing
// is created.
func openBag(root string) (*bagit.Bag, error) {
	return bagit.Load(afero.NewOsFs(), root, settings.options()...)
}

// lockBag takes the advisory lock of the bag at root. The returned function
// releases it.
func lockBag(root string) (func(), error) {
	fl := flock.New(filepath.Clean(root) + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "locking bag")
	}
	if !locked {
		return nil, errors.Errorf("bag %s is in use by another process", root)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.WithFields(log.Fields{"bag": root, "err": err}).Warn("unlocking bag")
		}
		os.Remove(fl.Path())
	}, nil
}

// openSource gives the store named by from. It is either a directory or
// an S3 location of the form "s3://bucket/prefix".
func openSource(cfg *fileConfig, from string) (store.ROStore, error) {
	if !strings.HasPrefix(from, "s3://") {
		fi, err := os.Stat(from)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, errors.Errorf("%s is not a directory", from)
		}
		return store.NewDirectory(afero.NewOsFs(), from), nil
	}
	bucket, prefix := splitS3(from)
	if bucket == "" {
		return nil, errors.Errorf("no bucket in %s", from)
	}
	awscfg := &aws.Config{Region: aws.String(cfg.S3.Region)}
	if cfg.S3.Endpoint != "" {
		awscfg.Endpoint = aws.String(cfg.S3.Endpoint)
		awscfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awscfg)
	if err != nil {
		return nil, err
	}
	return store.NewS3(bucket, prefix, sess), nil
}

// splitS3 breaks "s3://bucket/some/prefix" into the bucket and the prefix.
// A non-empty prefix always ends in a slash.
func splitS3(location string) (string, string) {
	location = strings.TrimPrefix(location, "s3://")
	i := strings.Index(location, "/")
	if i < 0 {
		return location, ""
	}
	prefix := strings.Trim(location[i+1:], "/")
	if prefix != "" {
		prefix += "/"
	}
	return location[:i], prefix
}

// parseTags reads "Label: value" arguments.
func parseTags(args []string) (bagit.Tags, error) {
	var tags bagit.Tags
	for _, arg := range args {
		i := strings.Index(arg, ":")
		if i <= 0 {
			return nil, errors.Errorf("tag %q is not of the form Label: value", arg)
		}
		tags.Add(strings.TrimSpace(arg[:i]), strings.TrimSpace(arg[i+1:]))
	}
	return tags, nil
}
