package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/mergequeue/mqd/internal/config"
	"github.com/mergequeue/mqd/internal/dispatcher"
)

// resolveSocketPath returns the --socket flag value, falling back to the
// daemon socket path recorded in config.
func resolveSocketPath() (string, error) {
	if socketPath != "" {
		return socketPath, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Daemon.SocketPath, nil
}

// send dials the daemon socket, writes req as one JSON line, and reads back
// exactly one JSON response line. Each invocation of mqctl is a single
// request over a fresh connection — unlike the daemon's own read loop,
// which serves many requests per connection for long-lived clients like
// an embedded agent runtime.
func send(req dispatcher.Request) (dispatcher.Response, error) {
	var resp dispatcher.Response

	path, err := resolveSocketPath()
	if err != nil {
		return resp, err
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		return resp, fmt.Errorf("connect to mqd at %s: %w", path, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return resp, fmt.Errorf("write request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return resp, fmt.Errorf("read response: %w", err)
		}
		return resp, fmt.Errorf("no response from mqd")
	}

	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return resp, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}
