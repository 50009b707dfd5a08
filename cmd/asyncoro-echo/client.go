package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sunqm/asyncoro"
)

var clientCmd = &cobra.Command{
	Use:   "client [message]",
	Short: "Connect, send one framed message, print the echoed reply",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClient,
}

func runClient(cmd *cobra.Command, args []string) error {
	message := "hello, asyncoro"
	if len(args) > 0 {
		message = args[0]
	}

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

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("creating socket: %w", err)
	}
	sa, err := resolveSockaddr(cfg.Listen)
	if err != nil {
		return err
	}

	authPrefix := authBytes()

	// correlationID tags this request's frame uid, purely for log lines;
	// it is unrelated to any coroutine identifier.
	correlationID := uuid.New()
	uid := binary.BigEndian.Uint32(correlationID[0:4])

	var reply []byte
	var runErr error
	done := make(chan struct{})

	sched.Add("client", func(y *asyncoro.Yield) (any, error) {
		defer close(done)

		// authPrefix, if any, is never handed to NewAsyncSocket: it is sent
		// once as an explicit handshake below, not as a per-frame prefix
		// that WriteMsg would otherwise attach to every call.
		sock, sockErr := asyncoro.NewAsyncSocket(fd, notifier, nil, false)
		if sockErr != nil {
			runErr = sockErr
			return nil, sockErr
		}
		defer sock.Close()

		if connErr := sock.Connect(y, sa); connErr != nil {
			runErr = connErr
			return nil, connErr
		}
		logger.Log(asyncoro.LogEntry{Level: asyncoro.LevelDebug, Category: "client", Message: "connected", Fields: map[string]any{"conn": correlationID.String()}})

		if len(authPrefix) > 0 {
			if authErr := sock.Write(y, authPrefix); authErr != nil {
				runErr = authErr
				return nil, authErr
			}
		}

		if writeErr := sock.WriteMsg(y, uid, []byte(message), false); writeErr != nil {
			runErr = writeErr
			return nil, writeErr
		}
		_, payload, readErr := sock.ReadMsg(y)
		if readErr != nil {
			runErr = readErr
			return nil, readErr
		}
		reply = payload
		return nil, nil
	})

	<-done
	sched.Terminate()
	notifier.Terminate()

	if runErr != nil {
		return runErr
	}
	fmt.Printf("echoed: %s\n", reply)
	return nil
}
