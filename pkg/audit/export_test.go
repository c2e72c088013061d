package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportJSON(t *testing.T) {
	userID := int64(123)
	events := []*AuditEvent{
		{
			ID:        1,
			Timestamp: time.Now().UTC(),
			EventType: EventTypeAuthzRoleAssigned,
			Status:    EventStatusSuccess,
			UserID:    &userID,
			Username:  "gm-user",
			Metadata:  make(map[string]interface{}),
		},
		{
			ID:        2,
			Timestamp: time.Now().UTC(),
			EventType: EventTypeAuthzRoleCreated,
			Status:    EventStatusSuccess,
			UserID:    &userID,
			Metadata:  make(map[string]interface{}),
		},
	}

	data, err := exportJSON(events)
	require.NoError(t, err)

	var parsed []*AuditEvent
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Len(t, parsed, 2)
	assert.Equal(t, EventTypeAuthzRoleAssigned, parsed[0].EventType)
}

func TestExportNDJSON(t *testing.T) {
	userID := int64(456)
	events := []*AuditEvent{
		{
			ID:        1,
			Timestamp: time.Now().UTC(),
			EventType: EventTypeAuthzRoleAssigned,
			Status:    EventStatusSuccess,
			UserID:    &userID,
			Username:  "user1",
			Metadata:  make(map[string]interface{}),
		},
		{
			ID:        2,
			Timestamp: time.Now().UTC(),
			EventType: EventTypeAuthzRoleRevoked,
			Status:    EventStatusSuccess,
			UserID:    &userID,
			Username:  "user1",
			Metadata:  make(map[string]interface{}),
		},
	}

	data, err := exportNDJSON(events)
	require.NoError(t, err)

	// One JSON document per line, independently parseable.
	validLines := 0
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var event AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		validLines++
	}
	assert.Equal(t, 2, validLines)
}

func TestExportCSV(t *testing.T) {
	userID := int64(789)
	orgID := int64(1)
	events := []*AuditEvent{
		{
			ID:             1,
			Timestamp:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			EventType:      EventTypeAuthzRoleAssigned,
			Status:         EventStatusSuccess,
			UserID:         &userID,
			Username:       "gm-user",
			OrganizationID: &orgID,
			ResourceType:   ResourceTypeAssignment,
			ResourceID:     "123",
			IPAddress:      "192.168.1.1",
			Message:        "role assigned",
			Metadata:       make(map[string]interface{}),
		},
	}

	data, err := exportCSV(events)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, csvColumns, records[0])

	row := records[1]
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "2024-01-01T12:00:00Z", row[1])
	assert.Equal(t, "authz.role_assigned", row[2])
	assert.Equal(t, "gm-user", row[5])
	assert.Equal(t, "assignment", row[7])
}

func TestExportCSV_EmptyEvents(t *testing.T) {
	data, err := exportCSV(nil)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1) // header only
	assert.Equal(t, csvColumns, records[0])
}

func TestExportCSV_NilValues(t *testing.T) {
	events := []*AuditEvent{
		{
			ID:        1,
			Timestamp: time.Now().UTC(),
			EventType: EventTypeAuthzEvaluated,
			Status:    EventStatusSuccess,
			// all pointer fields nil
			Metadata: make(map[string]interface{}),
		},
	}

	data, err := exportCSV(events)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[1][4]) // user_id cell empty, not "0"
	assert.Equal(t, "", records[1][6]) // organization_id
}

func TestFormatInt64Ptr(t *testing.T) {
	assert.Equal(t, "", formatInt64Ptr(nil))

	val := int64(123)
	assert.Equal(t, "123", formatInt64Ptr(&val))

	zero := int64(0)
	assert.Equal(t, "0", formatInt64Ptr(&zero))

	neg := int64(-456)
	assert.Equal(t, "-456", formatInt64Ptr(&neg))
}
