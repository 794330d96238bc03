// Package procdclient is the supervisor's wire client library: it wraps
// internal/wire to dial the command endpoint for a single request/response
// and the event endpoint for a subscription stream. cmd/procdctl is its
// caller.
package procdclient

import (
	"fmt"
	"net"
	"time"

	"github.com/edirooss/procd/internal/wire"
)

// defaultTimeout bounds a single command round trip, matching the ~15s
// read deadline the acceptor itself enforces (spec §4.6).
const defaultTimeout = 15 * time.Second

// Client dials the command endpoint. It is safe for concurrent use — it
// holds only the address, and each call to a Client method dials its own
// connection, issues one
// request, and closes it, matching the server's one-request-per-connection
// contract (spec §4.6).
type Client struct {
	addr string
}

// New returns a Client that dials addr (host:port) for every command.
func New(addr string) *Client { return &Client{addr: addr} }

func (c *Client) roundTrip(cmd wire.Command) (wire.Message, error) {
	conn, err := net.DialTimeout("tcp", c.addr, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("procdclient: dial: %w", err)
	}
	defer conn.Close()

	if err := wire.Encode(conn, cmd); err != nil {
		return nil, fmt.Errorf("procdclient: send command: %w", err)
	}

	if cmd.Command == wire.CommandQuit {
		// QUIT has no reply body (spec §4.7's response policy).
		return nil, nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultTimeout))
	reply, err := wire.Decode(conn)
	if err != nil {
		return nil, fmt.Errorf("procdclient: read reply: %w", err)
	}
	return reply, nil
}

// Start issues START for job.
func (c *Client) Start(job string) error {
	reply, err := c.roundTrip(wire.Command{Job: job, Command: wire.CommandStart})
	return replyToError(reply, err)
}

// Stop issues STOP for job.
func (c *Client) Stop(job string) error {
	reply, err := c.roundTrip(wire.Command{Job: job, Command: wire.CommandStop})
	return replyToError(reply, err)
}

// Status issues STATUS for job.
func (c *Client) Status(job string) (wire.Status, error) {
	reply, err := c.roundTrip(wire.Command{Job: job, Command: wire.CommandStatus})
	if err != nil {
		return wire.Status{}, err
	}
	switch v := reply.(type) {
	case wire.Status:
		return v, nil
	case wire.Failure:
		return wire.Status{}, FailureError{Reason: v.Reason}
	default:
		return wire.Status{}, fmt.Errorf("procdclient: unexpected reply type")
	}
}

// JobList issues JOB_LIST.
func (c *Client) JobList() (wire.JobList, error) {
	reply, err := c.roundTrip(wire.Command{Command: wire.CommandJobList})
	if err != nil {
		return wire.JobList{}, err
	}
	v, ok := reply.(wire.JobList)
	if !ok {
		return wire.JobList{}, fmt.Errorf("procdclient: unexpected reply type")
	}
	return v, nil
}

// Logs issues LOGS for job, returning up to n of its most recent output
// lines (n <= 0 requests the server's default capacity).
func (c *Client) Logs(job string, n int) (wire.LogLines, error) {
	reply, err := c.roundTrip(wire.Command{Job: job, Command: wire.CommandLogs, N: n})
	if err != nil {
		return wire.LogLines{}, err
	}
	switch v := reply.(type) {
	case wire.LogLines:
		return v, nil
	case wire.Failure:
		return wire.LogLines{}, FailureError{Reason: v.Reason}
	default:
		return wire.LogLines{}, fmt.Errorf("procdclient: unexpected reply type")
	}
}

// Quit issues QUIT, which ends the supervisor's accept loop and begins
// shutdown. It has no reply to wait for.
func (c *Client) Quit() error {
	_, err := c.roundTrip(wire.Command{Command: wire.CommandQuit})
	return err
}

// FailureError wraps a domain-level command failure reported by the
// supervisor (never a transport error).
type FailureError struct {
	Reason wire.FailureReason
}

func (e FailureError) Error() string { return "procdclient: " + e.Reason.String() }

func replyToError(reply wire.Message, err error) error {
	if err != nil {
		return err
	}
	if f, ok := reply.(wire.Failure); ok {
		return FailureError{Reason: f.Reason}
	}
	return nil
}
