package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"ticketflow/internal/config"
	"ticketflow/internal/logging"
	"ticketflow/internal/services"
)

// IMAPSource reads unseen messages from a mailbox. Bodies are fetched with
// BODY.PEEK so reading never sets \Seen; MarkProcessed does that explicitly.
type IMAPSource struct {
	addr         string
	username     string
	password     string
	mailbox      string
	batchSize    int
	previewChars int
	tlsConfig    *tls.Config
	logger       *slog.Logger

	mu   sync.Mutex
	uids map[string]uint32
}

// NewIMAPSource constructs an IMAP source from mail configuration.
func NewIMAPSource(cfg config.Mail, logger *slog.Logger) *IMAPSource {
	return &IMAPSource{
		addr:         net.JoinHostPort(cfg.IMAPHost, strconv.Itoa(cfg.IMAPPort)),
		username:     cfg.Username,
		password:     cfg.Password,
		mailbox:      cfg.Mailbox,
		batchSize:    cfg.BatchSize,
		previewChars: cfg.BodyPreviewChars,
		logger:       logging.NewComponentLogger(logger, "fetch"),
		uids:         make(map[string]uint32),
	}
}

func (s *IMAPSource) connect(ctx context.Context) (*client.Client, error) {
	dialer := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	c, err := client.DialWithDialerTLS(dialer, s.addr, s.tlsConfig)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "dial imap", s.addr, err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, services.Wrap(services.ErrPermanent, "fetch", "imap login", s.username, err)
	}
	return c, nil
}

// FetchUnprocessed returns unseen messages, oldest first.
func (s *IMAPSource) FetchUnprocessed(ctx context.Context) ([]Message, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Logout() }()

	if _, err := c.Select(s.mailbox, false); err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "select mailbox", s.mailbox, err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "search unseen", "", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if s.batchSize > 0 && len(uids) > s.batchSize {
		uids = uids[:s.batchSize]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	fetchItems := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	raw := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, fetchItems, raw)
	}()

	var (
		messages []Message
		ignored  []uint32
	)
	for fetched := range raw {
		body := fetched.GetBody(section)
		if body == nil {
			continue
		}
		msg, err := Parse(body, s.previewChars)
		if err != nil {
			logging.WarnWithContext(s.logger, "imap message unreadable", "fetch_parse_failed",
				logging.String("uid", strconv.FormatUint(uint64(fetched.Uid), 10)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "message skipped this run"),
				logging.Hint("inspect the message in the mailbox"),
			)
			continue
		}
		if msg.Ignored {
			s.logger.Info("ignoring automated message",
				logging.String(logging.FieldItemID, msg.DedupKey),
				logging.String("reason", msg.IgnoreReason),
				logging.Event("fetch_ignored"),
			)
			ignored = append(ignored, fetched.Uid)
			continue
		}
		s.mu.Lock()
		s.uids[msg.DedupKey] = fetched.Uid
		s.mu.Unlock()
		messages = append(messages, msg)
	}
	if err := <-done; err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "fetch bodies", "", err)
	}
	if len(ignored) > 0 {
		if err := markSeen(c, ignored...); err != nil {
			s.logger.Debug("mark ignored messages seen failed", logging.Error(err))
		}
	}
	return messages, nil
}

// MarkProcessed flags the message for dedupKey as \Seen. Unknown keys are a
// no-op.
func (s *IMAPSource) MarkProcessed(ctx context.Context, dedupKey string) error {
	s.mu.Lock()
	uid, ok := s.uids[dedupKey]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()
	if _, err := c.Select(s.mailbox, false); err != nil {
		return services.Wrap(services.ErrTransient, "fetch", "select mailbox", s.mailbox, err)
	}
	if err := markSeen(c, uid); err != nil {
		return services.Wrap(services.ErrTransient, "fetch", "mark processed", fmt.Sprintf("uid %d", uid), err)
	}
	s.mu.Lock()
	delete(s.uids, dedupKey)
	s.mu.Unlock()
	return nil
}

func markSeen(c *client.Client, uids ...uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	op := imap.FormatFlagsOp(imap.AddFlags, true)
	return c.UidStore(seqset, op, []interface{}{imap.SeenFlag}, nil)
}

// Describe returns a short label for status output.
func (s *IMAPSource) Describe() string { return "imap:" + s.addr + "/" + s.mailbox }
