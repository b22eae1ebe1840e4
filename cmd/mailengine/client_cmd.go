package main

import (
	"fmt"
	"os"

	"mailengine/internal/command"
	"mailengine/internal/ipc"
)

// daemonClient is a thin wrapper over ipc.Client for one-shot CLI commands.
type daemonClient struct {
	*ipc.Client
}

func (c *daemonClient) call(req command.Request) command.Response {
	resp, err := c.Call(req)
	if err != nil {
		return command.Response{Error: err.Error()}
	}
	return resp
}

// withDaemon connects to the running daemon, runs fn, and reports any
// error before exiting non-zero. A missing daemon is reported with the
// same hint the teacher's client commands give for a missing server.
func withDaemon(fn func(c *daemonClient) error) {
	client, err := ipc.Connect()
	if err != nil {
		fmt.Printf("%v\nrun 'mailengine daemon start' first\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := fn(&daemonClient{client}); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}
