// Package config resolves the server's static configuration from CLI flags
// (and, via viper, environment variables REDIS_DIR, REDIS_DBFILENAME,
// REDIS_PORT and REDIS_REPLICAOF) into a single
// validated, read-only record handed to the server context at startup.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Role is the replication role this process runs under.
type Role string

const (
	RolePrimary Role = "master"
	RoleReplica Role = "slave"
)

const (
	DefaultDir        = "/tmp/redis-files"
	DefaultDBFilename = "dump.rdb"
	DefaultPort       = 6379
)

// Config is the static, validated record every component depends on. It is
// set once at startup and never mutated afterward.
type Config struct {
	Dir        string `validate:"required"`
	DBFilename string `validate:"required"`
	Port       int    `validate:"required,min=1,max=65535"`
	Role       Role
	MasterHost string
	MasterPort int
}

// IsReplica reports whether this config describes a replica process.
func (c Config) IsReplica() bool {
	return c.Role == RoleReplica
}

var validate = validator.New()

// Parse builds a Config from a raw argument slice (typically os.Args[1:]).
// It never calls os.Exit; callers decide how to react to a returned error.
func Parse(args []string) (Config, error) {
	var cfg Config
	var replicaof string

	cmd := &cobra.Command{
		Use:           "redis-server",
		Short:         "Redis-wire-compatible key/value server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.New()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			v.SetEnvPrefix("redis")
			v.AutomaticEnv()

			cfg.Dir = v.GetString("dir")
			cfg.DBFilename = v.GetString("dbfilename")
			cfg.Port = v.GetInt("port")
			replicaof = v.GetString("replicaof")
			return nil
		},
	}

	cmd.Flags().String("dir", DefaultDir, "directory containing the RDB snapshot")
	cmd.Flags().String("dbfilename", DefaultDBFilename, "RDB snapshot file name")
	cmd.Flags().Int("port", DefaultPort, "listening port")
	cmd.Flags().String("replicaof", "", `primary host and port, e.g. "localhost 6379"`)

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return Config{}, err
	}

	cfg.Role = RolePrimary
	if replicaof != "" {
		host, port, err := ParseReplicaOf(replicaof)
		if err != nil {
			return Config{}, fmt.Errorf("malformed --replicaof: %w", err)
		}
		cfg.Role = RoleReplica
		cfg.MasterHost = host
		cfg.MasterPort = port
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ParseReplicaOf splits the single-argument "<host> <port>" form required
// by --replicaof into its two components.
func ParseReplicaOf(raw string) (host string, port int, err error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("expected \"<host> <port>\", got %q", raw)
	}
	p, err := strconv.Atoi(fields[1])
	if err != nil || p < 1 || p > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", fields[1])
	}
	return fields[0], p, nil
}
