package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gophzip/internal/flagx"
)

// parseFlags overlays the short command-line flags.
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-g string   gRPC health bind address
//	-d string   PostgreSQL DSN
//	-m string   metadata backend: postgres | memory
//	-b string   blob backend: s3 | minio | fs | memory
//	-f string   archive format: zip | tar.gz
//	-w int      compression workers
//	-q int      job queue capacity
//	-r string   Redis address for leases
//	-k string   comma-separated Kafka brokers
//	-l string   log level
//
// Only the flags above are parsed; -c/-config and anything else is skipped
// via flagx.FilterArgs.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-m", "-b", "-f", "-w", "-q", "-r", "-k", "-l"})

	fs := flag.NewFlagSet("gophzip", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP bind address")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC health bind address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MetadataBackend, "m", config.MetadataBackend, "metadata backend")
	fs.StringVar(&config.BlobBackend, "b", config.BlobBackend, "blob backend")
	fs.StringVar(&config.ArchiveFormat, "f", config.ArchiveFormat, "archive format")
	fs.IntVar(&config.WorkerCount, "w", config.WorkerCount, "compression workers")
	fs.IntVar(&config.QueueSize, "q", config.QueueSize, "job queue capacity")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	brokers := fs.String("k", strings.Join(config.KafkaBrokers, ","), "kafka brokers")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	config.KafkaBrokers = splitList(*brokers)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
