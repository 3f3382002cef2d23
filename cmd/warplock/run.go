package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/lock"
)

// exitHeld is returned when the lease is held by another process.
const exitHeld = 3

var runCmd = &cli.Command{
	Name:      "run",
	Usage:     "Run a command while holding a lease",
	ArgsUsage: "-- command [args...]",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Lease name", Required: true},
		&cli.DurationFlag{Name: "ttl", Usage: "Lease duration"},
		&cli.IntFlag{Name: "retries", Usage: "Consecutive renewal failures tolerated"},
		&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for the lease instead of failing"},
		&cli.DurationFlag{Name: "wait-timeout", Usage: "Give up waiting after this long (0 waits forever)"},
	},
	Action: runAction,
}

func runAction(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("run: missing command", 2)
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("failed to generate holder id: %w", err)
	}
	name := c.String("name")
	log := e.log.With(zap.String("name", name), zap.String("holder", holder))

	opts := []lock.Option{
		lock.WithTTL(e.cfg.TTL),
		lock.WithRetries(e.cfg.Retries),
		lock.WithOnError(func(err error) {
			log.Error("lease error", zap.Error(err))
		}),
	}

	body := func(ctx context.Context) (int, error) {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		cmd.Env = append(os.Environ(), "WARPLOCK_NAME="+name, "WARPLOCK_HOLDER="+holder)
		return runChild(ctx, cmd, log)
	}

	var code int
	if c.Bool("wait") {
		wctx := ctx
		if d := c.Duration("wait-timeout"); d > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		code, err = lock.Wait(wctx, e.locks, name, body, opts...)
	} else {
		code, err = lock.Run(ctx, e.locks, name, body, opts...)
	}
	switch {
	case errors.Is(err, leaseerrors.ErrLock):
		return cli.Exit(fmt.Sprintf("%s is held by another process", name), exitHeld)
	case errors.Is(err, context.DeadlineExceeded):
		return cli.Exit(fmt.Sprintf("timed out waiting for %s", name), exitHeld)
	case err != nil:
		return err
	case code != 0:
		return cli.Exit("", code)
	}
	return nil
}

// runChild starts cmd and waits for it. When ctx is cancelled, because the
// lease was lost or the process was interrupted, the child receives SIGTERM
// and is waited for.
func runChild(ctx context.Context, cmd *exec.Cmd, log *zap.Logger) (int, error) {
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	log.Info("lease acquired, command started", zap.Int("pid", cmd.Process.Pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		log.Warn("terminating command", zap.NamedError("cause", context.Cause(ctx)))
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err = <-done:
		case <-time.After(killGrace):
			_ = cmd.Process.Kill()
			err = <-done
		}
	}
	return exitCode(err)
}

const killGrace = 10 * time.Second

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code, nil
		}
		// killed by a signal
		return 1, nil
	}
	return 0, err
}
