package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// csvColumns mirrors the audit_events table column order so exported
// files line up with what support sees when querying the DB directly.
var csvColumns = []string{
	"id",
	"timestamp",
	"event_type",
	"status",
	"user_id",
	"username",
	"organization_id",
	"resource_type",
	"resource_id",
	"resource_name",
	"ip_address",
	"user_agent",
	"request_id",
	"method",
	"path",
	"status_code",
	"message",
	"error_message",
}

// exportJSON exports audit events as an indented JSON array
func exportJSON(events []*AuditEvent) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

// exportNDJSON exports audit events as newline-delimited JSON, one
// event per line. This is the same shape the file sink writes, so
// archives and exports can be processed by the same tooling.
func exportNDJSON(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event %d: %w", event.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// exportCSV exports audit events as CSV with a header row
func exportCSV(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvColumns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, event := range events {
		if err := w.Write(event.csvRow()); err != nil {
			return nil, fmt.Errorf("failed to write CSV row for event %d: %w", event.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// csvRow renders the event in csvColumns order. Nil actor/tenant ids
// become empty cells rather than zeroes so spreadsheets don't conflate
// "no user" with user 0.
func (e *AuditEvent) csvRow() []string {
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.Timestamp.UTC().Format(time.RFC3339),
		string(e.EventType),
		string(e.Status),
		formatInt64Ptr(e.UserID),
		e.Username,
		formatInt64Ptr(e.OrganizationID),
		string(e.ResourceType),
		e.ResourceID,
		e.ResourceName,
		e.IPAddress,
		e.UserAgent,
		e.RequestID,
		e.Method,
		e.Path,
		strconv.Itoa(e.StatusCode),
		e.Message,
		e.ErrorMessage,
	}
}

func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
