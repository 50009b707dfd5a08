package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sunqm/asyncoro"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the framed-message echo server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := asyncoro.NewDefaultLogger(os.Stderr, logLevel())

	sched := asyncoro.NewScheduler(asyncoro.WithLogger(logger))
	notifier, err := asyncoro.NewNotifier(sched,
		asyncoro.WithLogger(logger),
		asyncoro.WithPollInterval(cfg.PollInterval),
		asyncoro.WithFDTimeout(cfg.FDTimeout),
	)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}

	listenFD, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("creating listen socket: %w", err)
	}
	if err := unix.SetsockoptInt(listenFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}
	sa, err := resolveSockaddr(cfg.Listen)
	if err != nil {
		return err
	}
	if err := unix.Bind(listenFD, sa); err != nil {
		return fmt.Errorf("binding %s: %w", cfg.Listen, err)
	}
	if err := unix.Listen(listenFD, 128); err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	listener, err := asyncoro.NewAsyncSocket(listenFD, notifier, nil, false)
	if err != nil {
		return fmt.Errorf("wrapping listen socket: %w", err)
	}

	authPrefix := authBytes()

	logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Category: "serve", Message: "listening", Fields: map[string]any{"addr": cfg.Listen}})

	sched.Add("accept-loop", func(y *asyncoro.Yield) (any, error) {
		for {
			res, err := listener.Accept(y)
			if err != nil {
				return nil, err
			}
			connID := uuid.New().String()
			fd := res.FD
			sched.Add("conn-"+connID, func(y *asyncoro.Yield) (any, error) {
				return serveConn(y, fd, notifier, authPrefix, connID, logger)
			})
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Category: "serve", Message: "shutting down"})
	sched.Terminate()
	notifier.Terminate()
	return listener.Close()
}

// serveConn is one accepted connection's coroutine body: perform the
// one-time auth handshake (if configured), then read a framed message and
// write it straight back, repeating until the peer disconnects.
//
// authPrefix is never handed to NewAsyncSocket here: auth is a handshake
// that happens once at connection start, not a per-frame prefix, so the
// socket itself carries no auth code and WriteMsg never auto-prepends one.
func serveConn(y *asyncoro.Yield, fd int, notifier *asyncoro.Notifier, authPrefix []byte, connID string, logger asyncoro.Logger) (any, error) {
	sock, err := asyncoro.NewAsyncSocket(fd, notifier, nil, false)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	if len(authPrefix) > 0 {
		got, err := sock.Read(y, len(authPrefix), false)
		if err != nil {
			logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Category: "serve", Message: "auth handshake read failed", Err: err, Fields: map[string]any{"conn": connID}})
			return nil, err
		}
		if !bytes.Equal(got, authPrefix) {
			logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Category: "serve", Message: "auth mismatch", Fields: map[string]any{"conn": connID}})
			return nil, asyncoro.ErrAuthMismatch
		}
	}

	logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelDebug, Category: "serve", Message: "connection accepted", Fields: map[string]any{"conn": connID}})

	for {
		uid, payload, err := sock.ReadMsg(y)
		if err != nil {
			logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Category: "serve", Message: "read failed", Err: err, Fields: map[string]any{"conn": connID}})
			return nil, err
		}
		if payload == nil {
			logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelDebug, Category: "serve", Message: "connection closed", Fields: map[string]any{"conn": connID}})
			return nil, nil
		}
		if err := sock.WriteMsg(y, uid, payload, false); err != nil {
			logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Category: "serve", Message: "write failed", Err: err, Fields: map[string]any{"conn": connID}})
			return nil, err
		}
	}
}

func logLevel() asyncoro.LogLevel {
	if cfg.Debug {
		return asyncoro.LevelDebug
	}
	return asyncoro.LevelWarn
}

func authBytes() []byte {
	if cfg.Auth == "" {
		return nil
	}
	return []byte(cfg.Auth)
}
