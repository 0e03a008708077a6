package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Health retrieves loop liveness.
func (c *Client) Health() (*HealthResponse, error) {
	return call[HealthResponse](c, "Health", HealthRequest{})
}

// Trigger requests an immediate batch run.
func (c *Client) Trigger() (*TriggerResponse, error) {
	return call[TriggerResponse](c, "Trigger", TriggerRequest{})
}

// TicketList returns tracked tickets; an empty state returns all of them.
func (c *Client) TicketList(state string) (*TicketListResponse, error) {
	return call[TicketListResponse](c, "TicketList", TicketListRequest{State: state})
}

// TicketCheck forces an immediate poll.
func (c *Client) TicketCheck() (*TicketCheckResponse, error) {
	return call[TicketCheckResponse](c, "TicketCheck", TicketCheckRequest{})
}

// TicketUntrack stops tracking the given ticket numbers.
func (c *Client) TicketUntrack(numbers []string) (*TicketUntrackResponse, error) {
	return call[TicketUntrackResponse](c, "TicketUntrack", TicketUntrackRequest{Numbers: numbers})
}

// TicketExport writes the tracked set to path on the daemon host.
func (c *Client) TicketExport(path string) (*TicketExportResponse, error) {
	return call[TicketExportResponse](c, "TicketExport", TicketExportRequest{Path: path})
}

// TicketImport loads tickets from path on the daemon host.
func (c *Client) TicketImport(path string) (*TicketImportResponse, error) {
	return call[TicketImportResponse](c, "TicketImport", TicketImportRequest{Path: path})
}

// Outcomes returns recent journaled outcomes.
func (c *Client) Outcomes(limit int) (*OutcomesResponse, error) {
	return call[OutcomesResponse](c, "Outcomes", OutcomesRequest{Limit: limit})
}

// TestNotification asks the daemon to publish a test alert.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
