package ticketsys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ticketflow/internal/config"
	"ticketflow/internal/logging"
	"ticketflow/internal/services"
)

const (
	tablePath         = "/api/now/table/"
	maxErrorBodyBytes = 2048
	groupMemberLimit  = 50
	snTimeLayout      = "2006-01-02 15:04:05"
)

type groupInfo struct {
	SysID string
	Name  string
}

type userInfo struct {
	SysID string
	Name  string
}

// ServiceNow implements System against the ServiceNow Table API.
type ServiceNow struct {
	baseURL      string
	username     string
	password     string
	httpClient   *http.Client
	defaultGroup string
	defaultUser  string
	assignRandom bool
	pick         func(n int) int
	logger       *slog.Logger

	groups  *ttlcache.Cache[string, groupInfo]
	users   *ttlcache.Cache[string, userInfo]
	members *ttlcache.Cache[string, []userInfo]
}

// Option customizes a ServiceNow client.
type Option func(*ServiceNow)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *ServiceNow) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithPicker overrides random member selection.
func WithPicker(pick func(n int) int) Option {
	return func(s *ServiceNow) {
		if pick != nil {
			s.pick = pick
		}
	}
}

// NewServiceNow constructs a client from configuration.
func NewServiceNow(cfg config.ServiceNow, logger *slog.Logger, opts ...Option) *ServiceNow {
	ttl := time.Duration(cfg.LookupCacheMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	s := &ServiceNow{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.InstanceURL), "/"),
		username:     cfg.Username,
		password:     cfg.Password,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		defaultGroup: strings.TrimSpace(cfg.DefaultAssignmentGroup),
		defaultUser:  strings.TrimSpace(cfg.DefaultCaller),
		assignRandom: cfg.AssignRandomMember,
		pick:         rand.IntN,
		logger:       logging.NewComponentLogger(logger, "servicenow"),
		groups:       ttlcache.New(ttlcache.WithTTL[string, groupInfo](ttl)),
		users:        ttlcache.New(ttlcache.WithTTL[string, userInfo](ttl)),
		members:      ttlcache.New(ttlcache.WithTTL[string, []userInfo](ttl)),
	}
	if s.baseURL != "" && !strings.Contains(s.baseURL, "://") {
		s.baseURL = "https://" + s.baseURL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type recordRef struct {
	Value        string `json:"value"`
	DisplayValue string `json:"display_value"`
}

// UnmarshalJSON accepts both plain strings and {value, display_value} objects.
func (r *recordRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.Value)
	}
	type plain recordRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = recordRef(p)
	return nil
}

func (r recordRef) display() string {
	if r.DisplayValue != "" {
		return r.DisplayValue
	}
	return r.Value
}

type incidentRecord struct {
	SysID           string    `json:"sys_id"`
	Number          string    `json:"number"`
	State           string    `json:"state"`
	SysUpdatedOn    string    `json:"sys_updated_on"`
	CloseNotes      string    `json:"close_notes"`
	AssignmentGroup recordRef `json:"assignment_group"`
	AssignedTo      recordRef `json:"assigned_to"`
}

// CreateTicket inserts an incident. An incident already carrying the same
// correlation id is returned instead with Existing set.
func (s *ServiceNow) CreateTicket(ctx context.Context, fields TicketFields) (TicketRef, error) {
	fields.CorrelationID = strings.TrimSpace(dropControl(fields.CorrelationID))
	if fields.CorrelationID == "" {
		return TicketRef{}, services.Wrap(services.ErrValidation, "create_ticket", "validate", "correlation id required", nil)
	}
	if existing, ok, err := s.findByCorrelation(ctx, fields.CorrelationID); err != nil {
		return TicketRef{}, err
	} else if ok {
		s.logger.Info("incident already exists for correlation id",
			logging.Ticket(existing.Number),
			logging.String(logging.FieldItemID, fields.CorrelationID),
			logging.Event("ticket_duplicate"),
		)
		return TicketRef{
			Number:          existing.Number,
			SysID:           existing.SysID,
			AssignmentGroup: existing.AssignmentGroup.display(),
			AssignedTo:      existing.AssignedTo.display(),
			Existing:        true,
		}, nil
	}

	group := s.resolveGroup(ctx, fields.AssignmentGroup)
	caller := s.resolveCaller(ctx, fields.CallerEmail)

	payload := map[string]string{
		"short_description": fields.ShortDescription,
		"description":       fields.Description,
		"category":          fields.Category,
		"subcategory":       fields.Subcategory,
		"priority":          fields.Priority,
		"urgency":           fields.Urgency,
		"impact":            fields.Urgency,
		"correlation_id":    fields.CorrelationID,
		"contact_type":      "email",
	}
	ref := TicketRef{}
	if group.SysID != "" {
		payload["assignment_group"] = group.SysID
		ref.AssignmentGroup = group.Name
		if member, ok := s.pickMember(ctx, group.SysID); ok {
			payload["assigned_to"] = member.SysID
			ref.AssignedTo = member.Name
		}
	}
	if caller.SysID != "" {
		payload["caller_id"] = caller.SysID
		ref.Caller = caller.Name
	} else {
		ref.Caller = DisplayNameFromEmail(fields.CallerEmail)
	}

	var created struct {
		Result incidentRecord `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "incident", nil, payload, &created); err != nil {
		return TicketRef{}, err
	}
	if created.Result.Number == "" || created.Result.SysID == "" {
		return TicketRef{}, services.Wrap(services.ErrPermanent, "create_ticket", "decode", "response missing number or sys_id", nil)
	}
	ref.Number = created.Result.Number
	ref.SysID = created.Result.SysID
	if ref.AssignmentGroup == "" {
		ref.AssignmentGroup = created.Result.AssignmentGroup.display()
	}
	if ref.AssignedTo == "" {
		ref.AssignedTo = created.Result.AssignedTo.display()
	}
	return ref, nil
}

// GetStatus reads the incident's state.
func (s *ServiceNow) GetStatus(ctx context.Context, ref TicketRef) (Status, error) {
	if strings.TrimSpace(ref.SysID) == "" {
		return Status{}, services.Wrap(services.ErrValidation, "tracking", "get_status", "sys_id required", nil)
	}
	query := url.Values{"sysparm_fields": {"number,state,sys_updated_on,close_notes"}}
	var out struct {
		Result incidentRecord `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "incident/"+url.PathEscape(ref.SysID), query, nil, &out); err != nil {
		return Status{}, err
	}
	status := Status{
		State:           out.Result.State,
		Name:            StateName(out.Result.State),
		ResolutionNotes: strings.TrimSpace(out.Result.CloseNotes),
		UpdatedAt:       parseSNTime(out.Result.SysUpdatedOn),
	}
	return status, nil
}

// HealthCheck issues a single-row incident query.
func (s *ServiceNow) HealthCheck(ctx context.Context) error {
	query := url.Values{"sysparm_limit": {"1"}, "sysparm_fields": {"sys_id"}}
	var out struct {
		Result []incidentRecord `json:"result"`
	}
	return s.do(ctx, http.MethodGet, "incident", query, nil, &out)
}

func (s *ServiceNow) findByCorrelation(ctx context.Context, correlationID string) (incidentRecord, bool, error) {
	query := url.Values{
		"sysparm_query":         {"correlation_id=" + queryValue(correlationID)},
		"sysparm_limit":         {"1"},
		"sysparm_fields":        {"sys_id,number,state,assignment_group,assigned_to"},
		"sysparm_display_value": {"all"},
	}
	var out struct {
		Result []struct {
			SysID           recordRef `json:"sys_id"`
			Number          recordRef `json:"number"`
			AssignmentGroup recordRef `json:"assignment_group"`
			AssignedTo      recordRef `json:"assigned_to"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "incident", query, nil, &out); err != nil {
		return incidentRecord{}, false, err
	}
	if len(out.Result) == 0 {
		return incidentRecord{}, false, nil
	}
	first := out.Result[0]
	return incidentRecord{
		SysID:           first.SysID.Value,
		Number:          first.Number.display(),
		AssignmentGroup: first.AssignmentGroup,
		AssignedTo:      first.AssignedTo,
	}, true, nil
}

// resolveGroup maps a group name to its record, falling back to the default
// group when the name is empty or unknown.
func (s *ServiceNow) resolveGroup(ctx context.Context, name string) groupInfo {
	name = strings.TrimSpace(name)
	if name != "" {
		if group, ok := s.lookupGroup(ctx, name); ok {
			return group
		}
	}
	if s.defaultGroup != "" && !strings.EqualFold(name, s.defaultGroup) {
		logging.WarnWithContext(s.logger, "assignment group not found; using default", "assignment_fallback",
			logging.String("group", name),
			logging.String("default_group", s.defaultGroup),
			logging.String(logging.FieldImpact, "ticket routed to the default group"),
			logging.Hint("check servicenow.category_groups names"),
		)
		if group, ok := s.lookupGroup(ctx, s.defaultGroup); ok {
			return group
		}
	}
	return groupInfo{}
}

func (s *ServiceNow) lookupGroup(ctx context.Context, name string) (groupInfo, bool) {
	key := strings.ToLower(name)
	if item := s.groups.Get(key); item != nil {
		return item.Value(), true
	}
	query := url.Values{
		"sysparm_query":  {"name=" + queryValue(name)},
		"sysparm_limit":  {"1"},
		"sysparm_fields": {"sys_id,name"},
	}
	var out struct {
		Result []struct {
			SysID string `json:"sys_id"`
			Name  string `json:"name"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "sys_user_group", query, nil, &out); err != nil {
		s.logger.Debug("group lookup failed", logging.String("group", name), logging.Error(err))
		return groupInfo{}, false
	}
	if len(out.Result) == 0 || out.Result[0].SysID == "" {
		return groupInfo{}, false
	}
	group := groupInfo{SysID: out.Result[0].SysID, Name: out.Result[0].Name}
	s.groups.Set(key, group, ttlcache.DefaultTTL)
	return group, true
}

func (s *ServiceNow) resolveCaller(ctx context.Context, email string) userInfo {
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" {
		if user, ok := s.lookupUser(ctx, email); ok {
			return user
		}
	}
	if s.defaultUser != "" && !strings.EqualFold(email, s.defaultUser) {
		if user, ok := s.lookupUser(ctx, strings.ToLower(s.defaultUser)); ok {
			return user
		}
	}
	return userInfo{}
}

func (s *ServiceNow) lookupUser(ctx context.Context, email string) (userInfo, bool) {
	if item := s.users.Get(email); item != nil {
		return item.Value(), true
	}
	query := url.Values{
		"sysparm_query":  {"email=" + queryValue(email)},
		"sysparm_limit":  {"1"},
		"sysparm_fields": {"sys_id,name"},
	}
	var out struct {
		Result []struct {
			SysID string `json:"sys_id"`
			Name  string `json:"name"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "sys_user", query, nil, &out); err != nil {
		s.logger.Debug("caller lookup failed", logging.String("email", email), logging.Error(err))
		return userInfo{}, false
	}
	if len(out.Result) == 0 || out.Result[0].SysID == "" {
		return userInfo{}, false
	}
	user := userInfo{SysID: out.Result[0].SysID, Name: out.Result[0].Name}
	if user.Name == "" {
		user.Name = DisplayNameFromEmail(email)
	}
	s.users.Set(email, user, ttlcache.DefaultTTL)
	return user, true
}

func (s *ServiceNow) pickMember(ctx context.Context, groupSysID string) (userInfo, bool) {
	if !s.assignRandom {
		return userInfo{}, false
	}
	var members []userInfo
	if item := s.members.Get(groupSysID); item != nil {
		members = item.Value()
	} else {
		query := url.Values{
			"sysparm_query":  {"group=" + queryValue(groupSysID) + "^user.active=true"},
			"sysparm_fields": {"user.sys_id,user.name"},
			"sysparm_limit":  {fmt.Sprint(groupMemberLimit)},
		}
		var out struct {
			Result []struct {
				SysID string `json:"user.sys_id"`
				Name  string `json:"user.name"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodGet, "sys_user_grmember", query, nil, &out); err != nil {
			s.logger.Debug("group member lookup failed", logging.String("group_sys_id", groupSysID), logging.Error(err))
			return userInfo{}, false
		}
		for _, row := range out.Result {
			if row.SysID != "" {
				members = append(members, userInfo{SysID: row.SysID, Name: row.Name})
			}
		}
		s.members.Set(groupSysID, members, ttlcache.DefaultTTL)
	}
	if len(members) == 0 {
		return userInfo{}, false
	}
	return members[s.pick(len(members))], true
}

// queryValue renders v as the operand of one encoded-query condition.
// Control characters are dropped and a literal caret is doubled, so message
// headers cannot append OR or NQ clauses of their own.
func queryValue(v string) string {
	return strings.ReplaceAll(dropControl(v), "^", "^^")
}

func dropControl(v string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, v)
}

func (s *ServiceNow) do(ctx context.Context, method, table string, query url.Values, body any, out any) error {
	return s.request(ctx, method, tablePath+table, query, body, out)
}

func (s *ServiceNow) request(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	table := strings.TrimPrefix(strings.TrimPrefix(path, "/api/now/"), "table/")
	if s.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "servicenow", method, "instance url not configured", nil)
	}
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrValidation, "servicenow", "encode", table, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return services.Wrap(services.ErrValidation, "servicenow", "build request", table, err)
	}
	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "servicenow", method, table, err)
		}
		return services.Wrap(services.ErrTransient, "servicenow", method, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return services.Wrap(
			services.ClassifyHTTPStatus(resp.StatusCode),
			"servicenow", method,
			fmt.Sprintf("%s returned %d: %s", table, resp.StatusCode, strings.TrimSpace(string(snippet))),
			nil,
		)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrPermanent, "servicenow", "decode", table, err)
	}
	return nil
}

// DisplayNameFromEmail derives "Dana Smith" from "dana.smith@example.com".
func DisplayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return "Customer"
	}
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ", "+", " ").Replace(local)
	fields := strings.Fields(local)
	if len(fields) == 0 {
		return "Customer"
	}
	return cases.Title(language.Und).String(strings.Join(fields, " "))
}
