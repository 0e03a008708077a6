package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sort"
	"strings"
	"sync"

	"ticketflow/internal/daemon"
	"ticketflow/internal/logging"
	"ticketflow/internal/scheduler"
	"ticketflow/internal/stage"
	"ticketflow/internal/tracker"
)

// ServiceName is the JSON-RPC receiver name.
const ServiceName = "Ticketflow"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.Hint("check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.Hint("remove the socket file manually or rerun ticketflow stop"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func convertHealth(in []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(in))
	for _, h := range in {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC", logging.Event("daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC", logging.Event("daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.LockPath = status.LockPath
	resp.JournalPath = status.JournalPath
	resp.LogPath = status.LogPath

	resp.BatchAlive = status.Scheduler.Alive
	resp.BatchInFlight = status.Scheduler.InFlight
	resp.Interval = status.Scheduler.Interval
	resp.Runs = status.Scheduler.Runs
	resp.LastRunStart = status.Scheduler.LastRunStart
	resp.LastRunFinish = status.Scheduler.LastRunFinish

	resp.LastRun = status.Workflow.LastRun
	resp.LastError = status.Workflow.LastError
	if resp.LastError == "" {
		resp.LastError = status.Scheduler.LastError
	}
	resp.ItemsInFlight = status.Workflow.InFlight
	resp.FetchFailures = status.Workflow.FetchFailures
	resp.StageCounts = make(map[string]int, len(status.Workflow.StageCounts))
	for k, v := range status.Workflow.StageCounts {
		resp.StageCounts[string(k)] = v
	}
	resp.StageHealth = convertHealth(status.Workflow.StageHealth)
	resp.Tracking = status.Tracking
	return nil
}

func (s *service) Health(_ HealthRequest, resp *HealthResponse) error {
	health := s.daemon.Health(s.ctx)
	resp.Healthy = health.Healthy
	resp.BatchLoopAlive = health.BatchLoopAlive
	resp.TrackerAlive = health.TrackerAlive
	resp.BatchLastTick = health.BatchLastTick
	resp.TrackerLastTick = health.TrackerLastTick
	resp.Collaborators = convertHealth(health.Collaborators)
	return nil
}

func (s *service) Trigger(_ TriggerRequest, resp *TriggerResponse) error {
	result := s.daemon.Trigger()
	resp.Accepted = result == scheduler.Accepted
	resp.Result = result.String()
	return nil
}

func (s *service) TicketList(req TicketListRequest, resp *TicketListResponse) error {
	tickets := s.daemon.Tickets()
	state := strings.TrimSpace(req.State)
	if state == "" {
		resp.Tickets = tickets
		return nil
	}
	for _, ticket := range tickets {
		if ticket.LastKnownStatus == state {
			resp.Tickets = append(resp.Tickets, ticket)
		}
	}
	return nil
}

func (s *service) TicketCheck(_ TicketCheckRequest, resp *TicketCheckResponse) error {
	s.daemon.CheckTickets()
	resp.Requested = true
	resp.Tracked = len(s.daemon.Tickets())
	return nil
}

func (s *service) TicketUntrack(req TicketUntrackRequest, resp *TicketUntrackResponse) error {
	if len(req.Numbers) == 0 {
		return errors.New("no ticket numbers provided")
	}
	for _, number := range req.Numbers {
		err := s.daemon.Untrack(s.ctx, number)
		switch {
		case err == nil:
			resp.Removed = append(resp.Removed, number)
		case errors.Is(err, tracker.ErrNotTracked):
			resp.NotFound = append(resp.NotFound, number)
		default:
			return err
		}
	}
	return nil
}

func (s *service) TicketExport(req TicketExportRequest, resp *TicketExportResponse) error {
	if strings.TrimSpace(req.Path) == "" {
		return errors.New("export path required")
	}
	n, err := s.daemon.ExportTickets(req.Path)
	if err != nil {
		return err
	}
	resp.Path = req.Path
	resp.Exported = n
	s.log().Info("tracked tickets exported", logging.String("path", req.Path), logging.Int("count", n))
	return nil
}

func (s *service) TicketImport(req TicketImportRequest, resp *TicketImportResponse) error {
	if strings.TrimSpace(req.Path) == "" {
		return errors.New("import path required")
	}
	n, err := s.daemon.ImportTickets(s.ctx, req.Path)
	if err != nil {
		return err
	}
	resp.Imported = n
	s.log().Info("tracked tickets imported", logging.String("path", req.Path), logging.Int("count", n))
	return nil
}

func (s *service) Outcomes(req OutcomesRequest, resp *OutcomesResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	outcomes, err := s.daemon.RecentOutcomes(s.ctx, limit)
	if err != nil {
		return err
	}
	resp.Outcomes = outcomes
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		resp.Sent = false
		resp.Message = fmt.Sprintf("%s: %v", message, err)
		return nil
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}
