package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

func TestNotificationText(t *testing.T) {
	t.Parallel()

	res := sync.SyncResult{Success: 3, Failed: 1, Conflicts: 2}

	var got []string
	for _, n := range sync.Notifications(res, time.Now()) {
		got = append(got, notificationText(n))
	}

	assert.Equal(t, []string{
		"3 change(s) synced",
		"2 change(s) conflict with the server, see 'lotasync conflicts'",
		"1 change(s) failed to sync",
	}, got)
}

func TestNotificationText_UnknownKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "4 retried", notificationText(sync.Notification{Kind: "retried", Count: 4}))
}
