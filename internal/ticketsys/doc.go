// Package ticketsys is the ticket system boundary.
//
// System is the two-call contract the pipeline and tracker depend on:
// CreateTicket and GetStatus. ServiceNow implements it against the Table API,
// resolving assignment groups and callers to sys_ids through a TTL cache and
// falling back to configured defaults when a lookup comes back empty.
package ticketsys
