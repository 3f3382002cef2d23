package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "warplock",
		Usage: "Run commands under a distributed lease",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "Lease store: memory, redis, postgres, sqlite or mongo"},
			&cli.StringFlag{Name: "redis-addr", Usage: "Redis address"},
			&cli.StringFlag{Name: "redis-password", Usage: "Redis password"},
			&cli.IntFlag{Name: "redis-db", Usage: "Redis database"},
			&cli.StringFlag{Name: "postgres-dsn", Usage: "Postgres DSN"},
			&cli.StringFlag{Name: "sqlite-path", Usage: "SQLite database file"},
			&cli.StringFlag{Name: "mongo-uri", Usage: "MongoDB connection URI"},
			&cli.StringFlag{Name: "mongo-database", Usage: "MongoDB database"},
			&cli.StringFlag{Name: "nats-url", Usage: "NATS URL used to propagate lock events"},
			&cli.StringSliceFlag{Name: "kafka-brokers", Usage: "Kafka brokers used to propagate lock events"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
			&cli.BoolFlag{Name: "trace", Usage: "Print OpenTelemetry spans to stderr"},
		},
		Commands: []*cli.Command{
			runCmd,
			statusCmd,
			releaseCmd,
			serveCmd,
		},
	}
}
