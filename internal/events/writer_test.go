package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipline/internal/domain"
)

func TestAppendStampsEntry(t *testing.T) {
	w := Writer{
		Now:   func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)) },
		NewID: func() string { return "evt-1" },
	}
	var s domain.Shipment
	e := w.Append(&s, FileEmailed, "sent", "tester", EventPayload{"fileName": "awb.pdf"})

	require.Len(t, s.History, 1)
	assert.Equal(t, e, s.History[0])
	assert.Equal(t, "evt-1", e.ID)
	assert.Equal(t, "2024-03-01T11:00:00Z", e.Timestamp)
	assert.Equal(t, "tester", e.Details["actor"])
	assert.Equal(t, "awb.pdf", e.Details["fileName"])
}

func TestEntryWithoutDetails(t *testing.T) {
	e := Writer{}.Entry(StatusChanged, "changed", "", nil)
	assert.Nil(t, e.Details)
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.Timestamp)
}
