package debugapi

import "net/rpc"

// Client is a thin wrapper over an net/rpc connection to a Server,
// mirroring the teacher's program/client.Program: one method per RPC call,
// each just marshaling a request and unmarshaling the response.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to a Server listening on network/addr (see Listen for the
// matching server-side call).
func Dial(network, addr string) (*Client, error) {
	c, err := rpc.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.rpc.Close() }

// CaptureStackTrace fetches every live fiber's stack trace.
func (c *Client) CaptureStackTrace() (*CaptureStackTraceResponse, error) {
	resp := &CaptureStackTraceResponse{}
	if err := c.rpc.Call("Server.CaptureStackTrace", &CaptureStackTraceRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// HeapStats fetches the heap-wide object histogram and region counts.
func (c *Client) HeapStats() (*HeapStatsResponse, error) {
	resp := &HeapStatsResponse{}
	if err := c.rpc.Call("Server.HeapStats", &HeapStatsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
