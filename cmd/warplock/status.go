package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mirkobrombin/go-lease/v1/store"
)

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "Print the state of a lease",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Lease name", Required: true},
	},
	Action: func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.Close()

		getter, ok := e.locks.Store().(store.Getter)
		if !ok {
			return errors.New("status: backend cannot read leases back")
		}
		name := c.String("name")
		rec, found, err := getter.Get(c.Context, name)
		if err != nil {
			return err
		}
		if !found {
			return cli.Exit(fmt.Sprintf("%s: no lease", name), 1)
		}
		state := "held"
		if rec.Expired(time.Now()) {
			state = "expired"
		}
		fmt.Fprintf(c.App.Writer, "name:       %s\nstate:      %s\nexpires_at: %s\ncreated_at: %s\nupdated_at: %s\n",
			rec.Name, state,
			rec.ExpiresAt.Format(time.RFC3339Nano),
			rec.CreatedAt.Format(time.RFC3339Nano),
			rec.UpdatedAt.Format(time.RFC3339Nano))
		return nil
	},
}

var releaseCmd = &cli.Command{
	Name:  "release",
	Usage: "Delete a lease regardless of its holder",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Lease name", Required: true},
	},
	Action: func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.Close()

		name := c.String("name")
		if err := e.locks.Release(c.Context, name); err != nil {
			return fmt.Errorf("release %s: %w", name, err)
		}
		fmt.Fprintf(c.App.Writer, "%s released\n", name)
		return nil
	},
}
