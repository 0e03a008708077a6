// Package escalation mirrors technical tickets into Jira.
//
// Escalation is best-effort: it runs after the ServiceNow ticket exists and a
// failure never changes the item's pipeline outcome.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jira "github.com/ctreminiom/go-atlassian/v2/jira/v2"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	"ticketflow/internal/config"
	"ticketflow/internal/items"
	"ticketflow/internal/logging"
	"ticketflow/internal/services"
)

// Escalator opens a follow-up issue for an item with a ticket.
type Escalator interface {
	Escalate(ctx context.Context, item items.Item) (string, error)
}

// Detector decides whether an item is technical.
type Detector struct {
	keywords []string
}

// NewDetector builds a detector from lowercase keyword matches.
func NewDetector(keywords []string) Detector {
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			normalized = append(normalized, kw)
		}
	}
	return Detector{keywords: normalized}
}

// IsTechnical reports true for IT-category items or items whose text names a
// technical keyword.
func (d Detector) IsTechnical(item items.Item) bool {
	if item.Category != nil && strings.EqualFold(item.Category.Category, "IT") {
		return true
	}
	var text strings.Builder
	text.WriteString(strings.ToLower(item.Content.Subject))
	if item.Summary != nil {
		text.WriteByte(' ')
		text.WriteString(strings.ToLower(item.Summary.ShortDescription))
		text.WriteByte(' ')
		text.WriteString(strings.ToLower(item.Summary.Description))
	}
	haystack := text.String()
	for _, kw := range d.keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

type issueCreator interface {
	create(ctx context.Context, payload *models.IssueSchemeV2) (string, error)
}

type atlassianCreator struct {
	client *jira.Client
}

func (a atlassianCreator) create(ctx context.Context, payload *models.IssueSchemeV2) (string, error) {
	issue, response, err := a.client.Issue.Create(ctx, payload, nil)
	if err != nil {
		marker := services.ErrTransient
		if response != nil {
			marker = services.ClassifyHTTPStatus(response.Code)
		}
		return "", services.Wrap(marker, "escalation", "create issue", "", err)
	}
	if issue == nil || issue.Key == "" {
		return "", services.Wrap(services.ErrPermanent, "escalation", "create issue", "response missing key", nil)
	}
	return issue.Key, nil
}

// Jira escalates technical tickets into a Jira project.
type Jira struct {
	creator   issueCreator
	project   string
	issueType string
	detector  Detector
	logger    *slog.Logger
}

// NewJira constructs a Jira escalator. It returns nil, nil when escalation is
// disabled so callers can treat a nil Escalator as off.
func NewJira(cfg config.Jira, logger *slog.Logger) (*Jira, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := jira.New(&http.Client{Timeout: 30 * time.Second}, strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("jira client: %w", err)
	}
	client.Auth.SetBasicAuth(cfg.Username, cfg.APIToken)
	return &Jira{
		creator:   atlassianCreator{client: client},
		project:   cfg.ProjectKey,
		issueType: cfg.IssueType,
		detector:  NewDetector(cfg.TechnicalKeywords),
		logger:    logging.NewComponentLogger(logger, "escalation"),
	}, nil
}

// Escalate creates a Jira issue for technical items and returns its key. Non
// technical items return "" and no error.
func (j *Jira) Escalate(ctx context.Context, item items.Item) (string, error) {
	if j == nil || item.Ticket == nil {
		return "", nil
	}
	if !j.detector.IsTechnical(item) {
		return "", nil
	}
	key, err := j.creator.create(ctx, j.issuePayload(item))
	if err != nil {
		return "", err
	}
	j.logger.Info("escalated ticket to jira",
		logging.Ticket(item.Ticket.Number),
		logging.String("jira_key", key),
		logging.Event("escalation_created"),
	)
	return key, nil
}

func (j *Jira) issuePayload(item items.Item) *models.IssueSchemeV2 {
	summary := item.Content.Subject
	description := ""
	if item.Summary != nil {
		summary = item.Summary.ShortDescription
		description = item.Summary.Description
	}
	var body strings.Builder
	fmt.Fprintf(&body, "ServiceNow ticket: %s\n", item.Ticket.Number)
	if item.Ticket.AssignmentGroup != "" {
		fmt.Fprintf(&body, "Assignment group: %s\n", item.Ticket.AssignmentGroup)
	}
	fmt.Fprintf(&body, "Reported by: %s\n\n%s", item.Content.From, description)

	labels := []string{"ticketflow"}
	if item.Category != nil && item.Category.Category != "" {
		labels = append(labels, strings.ToLower(strings.ReplaceAll(item.Category.Category, " ", "-")))
	}
	return &models.IssueSchemeV2{
		Fields: &models.IssueFieldsSchemeV2{
			Summary:     fmt.Sprintf("[%s] %s", item.Ticket.Number, summary),
			Description: body.String(),
			Project:     &models.ProjectScheme{Key: j.project},
			IssueType:   &models.IssueTypeScheme{Name: j.issueType},
			Labels:      labels,
		},
	}
}
