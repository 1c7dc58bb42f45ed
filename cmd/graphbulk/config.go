package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/graphbulk/engine/bulk"
	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/engine/partition"
	"github.com/WessleyAI/graphbulk/engine/planner"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "GRAPHBULK"

// config is the resolved CLI configuration: flags, then GRAPHBULK_* env,
// then the YAML config file, then defaults.
type config struct {
	Store      string
	Collection string
	// PartitionKey is the partition key property of stored documents.
	PartitionKey string
	Partitions   int
	Throughput   int

	Neo4jURL      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	BadgerPath    string

	Parallelism      int
	MaxItems         int
	MaxBytes         int
	MaxAttempts      int
	RequestTimeout   time.Duration
	AdmissionTimeout time.Duration

	NATSURL     string
	NATSSubject string
	MetricsAddr string

	LogLevel   string
	LogFormat  string
	LogFile    string
	LogMaxSize int
	LogMaxAge  int
}

// addGlobalFlags registers the flags shared by every subcommand.
func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default $HOME/.graphbulk.yaml)")
	fs.String("store", "memory", "store backend: neo4j, badger or memory")
	fs.String("collection", "graph", "target collection")
	fs.String("partition-key", domain.DefaultPartitionKeySchema.Property, "partition key property")
	fs.Int("partitions", 0, "partition count (0 asks the store)")
	fs.Int("throughput", 0, "provision this RU/s offer before running (0 reads the existing offer)")

	fs.String("neo4j-url", "neo4j://localhost:7687", "Neo4j bolt URL")
	fs.String("neo4j-user", "neo4j", "Neo4j username")
	fs.String("neo4j-password", "", "Neo4j password")
	fs.String("neo4j-database", "", "Neo4j database (empty for the server default)")
	fs.String("badger-path", "graphbulk-data", "badger data directory")

	fs.Int("parallelism", bulk.DefaultParallelism, "batches in flight")
	fs.Int("max-items", planner.DefaultMaxItems, "items per batch")
	fs.Int("max-bytes", planner.DefaultMaxBytes, "bytes per batch")
	fs.Int("max-attempts", bulk.DefaultRetry.MaxAttempts, "store attempts per batch")
	fs.Duration("request-timeout", bulk.DefaultRequestTimeout, "timeout of one store call")
	fs.Duration("admission-timeout", 0, "timeout of one wait for throughput budget")

	fs.String("nats-url", "", "publish progress to this NATS server")
	fs.String("nats-subject", "graphbulk.progress", "NATS progress subject")
	fs.String("metrics-addr", "", "serve /metrics on this address, e.g. :9091")

	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "text", "text or json")
	fs.String("log-file", "", "write logs to this rotating file")
	fs.Int("log-max-size", 100, "log file size in megabytes before rotation")
	fs.Int("log-max-age", 28, "days to keep rotated log files")
}

// newViper binds fs and the environment and reads the config file, if any.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		return v, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".graphbulk.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	return v, nil
}

func loadConfig(v *viper.Viper) (config, error) {
	c := config{
		Store:            strings.ToLower(v.GetString("store")),
		Collection:       v.GetString("collection"),
		PartitionKey:     v.GetString("partition-key"),
		Partitions:       v.GetInt("partitions"),
		Throughput:       v.GetInt("throughput"),
		Neo4jURL:         v.GetString("neo4j-url"),
		Neo4jUser:        v.GetString("neo4j-user"),
		Neo4jPassword:    v.GetString("neo4j-password"),
		Neo4jDatabase:    v.GetString("neo4j-database"),
		BadgerPath:       v.GetString("badger-path"),
		Parallelism:      v.GetInt("parallelism"),
		MaxItems:         v.GetInt("max-items"),
		MaxBytes:         v.GetInt("max-bytes"),
		MaxAttempts:      v.GetInt("max-attempts"),
		RequestTimeout:   v.GetDuration("request-timeout"),
		AdmissionTimeout: v.GetDuration("admission-timeout"),
		NATSURL:          v.GetString("nats-url"),
		NATSSubject:      v.GetString("nats-subject"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
		LogFormat:        v.GetString("log-format"),
		LogFile:          v.GetString("log-file"),
		LogMaxSize:       v.GetInt("log-max-size"),
		LogMaxAge:        v.GetInt("log-max-age"),
	}
	switch c.Store {
	case "neo4j", "badger", "memory":
	default:
		return config{}, fmt.Errorf("unknown store %q (want neo4j, badger or memory)", c.Store)
	}
	if c.Collection == "" {
		return config{}, fmt.Errorf("collection must not be empty")
	}
	if c.Partitions < 0 || c.Throughput < 0 {
		return config{}, fmt.Errorf("partitions and throughput must not be negative")
	}
	return c, nil
}

// bulkConfig is the executor configuration. Throughput is left to the store
// so that a missing offer fails the run.
func (c config) bulkConfig() bulk.Config {
	bc := bulk.Config{
		Collection:       c.Collection,
		PartitionKey:     domain.PartitionKeySchema{Property: c.PartitionKey},
		Parallelism:      c.Parallelism,
		Limits:           planner.Limits{MaxItems: c.MaxItems, MaxBytes: c.MaxBytes},
		RequestTimeout:   c.RequestTimeout,
		AdmissionTimeout: c.AdmissionTimeout,
	}
	if c.Partitions > 0 {
		bc.Partitions = partition.UniformScheme(c.Partitions)
	}
	if c.MaxAttempts > 0 {
		bc.Retry = bulk.DefaultRetry
		bc.Retry.MaxAttempts = c.MaxAttempts
	}
	return bc
}
