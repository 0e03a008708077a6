package ticketsys

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ticketflow/internal/services"
)

const (
	statsPath         = "/api/now/stats/"
	defaultListLimit  = 50
	maxListLimit      = 200
	incidentListOrder = "ORDERBYDESCsys_created_on"
)

// IncidentStats counts incidents on the instance by state and priority.
type IncidentStats struct {
	Total      int            `json:"total"`
	ByState    map[string]int `json:"by_state"`
	ByPriority map[string]int `json:"by_priority"`
}

// Incident is one row of an incident listing.
type Incident struct {
	SysID            string    `json:"sys_id"`
	Number           string    `json:"number"`
	ShortDescription string    `json:"short_description"`
	State            string    `json:"state"`
	Priority         string    `json:"priority"`
	Category         string    `json:"category"`
	AssignedTo       string    `json:"assigned_to,omitempty"`
	Caller           string    `json:"caller,omitempty"`
	CreatedOn        time.Time `json:"created_on,omitzero"`
	UpdatedOn        time.Time `json:"updated_on,omitzero"`
}

// IncidentStats aggregates every incident by state and priority in a single
// stats query. State keys are display names; priority keys are the codes.
func (s *ServiceNow) IncidentStats(ctx context.Context) (IncidentStats, error) {
	query := url.Values{
		"sysparm_count":    {"true"},
		"sysparm_group_by": {"state,priority"},
	}
	var out struct {
		Result []struct {
			Stats struct {
				Count string `json:"count"`
			} `json:"stats"`
			GroupBy []struct {
				Field string `json:"field"`
				Value string `json:"value"`
			} `json:"groupby_fields"`
		} `json:"result"`
	}
	if err := s.request(ctx, http.MethodGet, statsPath+"incident", query, nil, &out); err != nil {
		return IncidentStats{}, err
	}
	stats := IncidentStats{ByState: map[string]int{}, ByPriority: map[string]int{}}
	for _, row := range out.Result {
		count, err := strconv.Atoi(strings.TrimSpace(row.Stats.Count))
		if err != nil {
			return IncidentStats{}, services.Wrap(services.ErrPermanent, "servicenow", "decode", "stats count "+row.Stats.Count, err)
		}
		stats.Total += count
		for _, group := range row.GroupBy {
			switch group.Field {
			case "state":
				stats.ByState[StateName(group.Value)] += count
			case "priority":
				stats.ByPriority[group.Value] += count
			}
		}
	}
	return stats, nil
}

// ListIncidents returns one page of incidents, newest first. limit is
// clamped to [1, 200] with 50 used for zero; a negative offset reads as 0.
func (s *ServiceNow) ListIncidents(ctx context.Context, limit, offset int) ([]Incident, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	offset = max(offset, 0)
	query := url.Values{
		"sysparm_query":         {incidentListOrder},
		"sysparm_limit":         {strconv.Itoa(limit)},
		"sysparm_offset":        {strconv.Itoa(offset)},
		"sysparm_fields":        {"sys_id,number,short_description,state,priority,category,assigned_to,caller_id,sys_created_on,sys_updated_on"},
		"sysparm_display_value": {"all"},
	}
	var out struct {
		Result []struct {
			SysID            recordRef `json:"sys_id"`
			Number           recordRef `json:"number"`
			ShortDescription recordRef `json:"short_description"`
			State            recordRef `json:"state"`
			Priority         recordRef `json:"priority"`
			Category         recordRef `json:"category"`
			AssignedTo       recordRef `json:"assigned_to"`
			Caller           recordRef `json:"caller_id"`
			CreatedOn        recordRef `json:"sys_created_on"`
			UpdatedOn        recordRef `json:"sys_updated_on"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "incident", query, nil, &out); err != nil {
		return nil, err
	}
	incidents := make([]Incident, 0, len(out.Result))
	for _, row := range out.Result {
		incidents = append(incidents, Incident{
			SysID:            row.SysID.Value,
			Number:           row.Number.display(),
			ShortDescription: row.ShortDescription.display(),
			State:            StateName(row.State.Value),
			Priority:         row.Priority.display(),
			Category:         row.Category.display(),
			AssignedTo:       row.AssignedTo.display(),
			Caller:           row.Caller.display(),
			CreatedOn:        parseSNTime(row.CreatedOn.Value),
			UpdatedOn:        parseSNTime(row.UpdatedOn.Value),
		})
	}
	return incidents, nil
}

func parseSNTime(value string) time.Time {
	ts, err := time.ParseInLocation(snTimeLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}
	}
	return ts
}
