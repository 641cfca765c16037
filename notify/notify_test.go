package notify_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grafana/holdfast/notify"
)

func TestHub_PublishAssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub()
	defer hub.Close()

	n := hub.Publish(notify.Notification{Severity: notify.SeverityInfo, Title: "hello"})
	require.NotEmpty(t, n.ID)
	require.False(t, n.CreatedAt.IsZero())

	active := hub.Active()
	require.Len(t, active, 1)
	require.Equal(t, n.ID, active[0].ID)
}

func TestHub_Dismiss(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub()
	defer hub.Close()

	n := hub.Error("Request Failed", "server returned 403")
	require.Len(t, hub.Active(), 1)

	hub.Dismiss(n.ID)
	require.Empty(t, hub.Active())

	// Unknown IDs are ignored.
	hub.Dismiss("nope")
}

func TestHub_AutoHide(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub()
	defer hub.Close()

	hub.Publish(notify.Notification{
		Severity: notify.SeverityWarning,
		Title:    "Connection Problem",
		AutoHide: 50 * time.Millisecond,
	})
	require.Len(t, hub.Active(), 1)

	require.Eventually(t, func() bool {
		return len(hub.Active()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_StickyWithoutAutoHide(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub()
	defer hub.Close()

	hub.Publish(notify.Notification{Severity: notify.SeverityError, Title: "Access Denied"})

	time.Sleep(100 * time.Millisecond)
	require.Len(t, hub.Active(), 1)
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub()
	defer hub.Close()

	var (
		mu       sync.Mutex
		received []notify.Notification
	)
	unsubscribe := hub.Subscribe(func(n notify.Notification) {
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
	})

	hub.Info("Synced", "all pending requests completed")

	mu.Lock()
	require.Len(t, received, 1)
	require.Equal(t, "Synced", received[0].Title)
	mu.Unlock()

	unsubscribe()
	hub.Info("Ignored", "no listeners remain")

	mu.Lock()
	require.Len(t, received, 1)
	mu.Unlock()
}

func TestNotification_MarshalsAutoHideAsMilliseconds(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(notify.Notification{
		ID:       "n1",
		Severity: notify.SeverityWarning,
		AutoHide: 5 * time.Second,
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.EqualValues(t, 5000, fields["autoHideMs"])
}

func TestHub_SeverityHelpers(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub()
	defer hub.Close()

	require.Equal(t, notify.SeverityError, hub.Error("t", "m").Severity)
	require.Equal(t, notify.SeverityWarning, hub.Warning("t", "m").Severity)
	require.Equal(t, notify.SeverityInfo, hub.Info("t", "m").Severity)
	require.Equal(t, notify.SeveritySuccess, hub.Success("t", "m").Severity)

	// Error notifications are sticky; the rest auto-hide.
	for _, n := range hub.Active() {
		if n.Severity == notify.SeverityError {
			require.Zero(t, n.AutoHide)
		} else {
			require.Positive(t, n.AutoHide)
		}
	}
}
