// Package config builds the archiver's runtime configuration: the
// relational store connection string, the ledger-view data directory,
// and the stage replica counts. Parsing flags/env into this struct is
// the program's only CLI-facing concern; everything downstream only
// ever sees a Config value.
package config

import (
	"fmt"
	"os"

	"github.com/gateway-fm/archive-node/internal/chain"
)

// Postgres holds the parts of a relational connection string, matching
// SPEC_FULL.md section 6's env-var fallback table.
type Postgres struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// Config is the fully resolved configuration the pipeline is built
// from.
type Config struct {
	Postgres Postgres

	// DataDir is the filesystem root the node's embedded ledger lives
	// under; the read-only view opens its secondary instance here.
	DataDir string

	// DecodeReplicas is the worker-group cardinality for the decoder
	// stage (default 64 per spec.md section 4.9).
	DecodeReplicas int
	// MetaReplicas and PersistReplicas size the smaller stages.
	MetaReplicas    int
	PersistReplicas int

	// BlockingPoolSize bounds the dedicated executor used for bulk C1
	// reads by the gap generator (spec.md section 5). Decode calls do
	// not run on it.
	BlockingPoolSize int
}

const (
	defaultDecodeReplicas   = 64
	defaultMetaReplicas     = 4
	defaultPersistReplicas  = 4
	defaultBlockingPoolSize = 8

	envHost = "DB_HOST"
	envPort = "DB_PORT"
	envUser = "DB_USER"
	envPass = "DB_PASS"
	envName = "DB_NAME"

	defaultHost = "localhost"
	defaultPort = "5432"
)

// FromEnv resolves the Postgres connection parts from the process
// environment per SPEC_FULL.md section 6: DB_HOST/DB_PORT default,
// DB_USER/DB_PASS are optional, DB_NAME is required and its absence is
// fatal (ErrConfigMissing).
func FromEnv() (Postgres, error) {
	pg := Postgres{
		Host: envOr(envHost, defaultHost),
		Port: envOr(envPort, defaultPort),
		User: os.Getenv(envUser),
		Pass: os.Getenv(envPass),
		Name: os.Getenv(envName),
	}
	if pg.Name == "" {
		return Postgres{}, fmt.Errorf("%w: %s", chain.ErrConfigMissing, envName)
	}
	return pg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// BuildURL renders the postgres:// connection URL per SPEC_FULL.md
// section 6's rules: credentials are omitted entirely when User is
// empty; a Pass without a User is a configuration error.
func (pg Postgres) BuildURL() (string, error) {
	if pg.User == "" && pg.Pass != "" {
		return "", fmt.Errorf("%w: password set without a user", chain.ErrConfigMissing)
	}
	creds := ""
	if pg.User != "" {
		creds = pg.User
		if pg.Pass != "" {
			creds += ":" + pg.Pass
		}
		creds += "@"
	}
	return fmt.Sprintf("postgres://%s%s:%s/%s", creds, pg.Host, pg.Port, pg.Name), nil
}

// Default returns a Config with the documented stage cardinalities and
// an empty Postgres/DataDir, for callers to fill in from flags/env.
func Default() Config {
	return Config{
		DecodeReplicas:   defaultDecodeReplicas,
		MetaReplicas:     defaultMetaReplicas,
		PersistReplicas:  defaultPersistReplicas,
		BlockingPoolSize: defaultBlockingPoolSize,
	}
}

// EnsureDataDir creates DataDir (and parents) if absent. An existing
// directory is not an error; any other I/O error is fatal, per
// SPEC_FULL.md section 6.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %q: %w", dir, err)
	}
	return nil
}
