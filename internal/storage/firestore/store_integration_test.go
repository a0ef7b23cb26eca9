//go:build integration

package firestore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/fieldgrid/fleetnotify/internal/storage/firestore"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

func setupSuite(t *testing.T) (context.Context, *firestore.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	projectID := "test-fleet-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, client
}

func TestOutcomeStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t)
	store := fs.NewOutcomeStore(client)

	t.Run("Save and read back a terminal outcome", func(t *testing.T) {
		outcome := &notify.JobOutcome{
			JobID:          "job-1",
			JobType:        "config_update",
			RequestedCount: 3,
			SuccessCount:   2,
			FailureCount:   1,
			RetriedCount:   1,
			Status:         notify.StatusPartial,
			StartedAt:      time.Now().UTC().Truncate(time.Millisecond),
			FinishedAt:     time.Now().UTC().Truncate(time.Millisecond),
			PerPlatform: map[notify.Platform]notify.PlatformCount{
				notify.PlatformFCM: {Sent: 2, Failed: 1},
			},
		}
		require.NoError(t, store.SaveJobOutcome(ctx, outcome))

		got, err := store.GetJobOutcome(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, notify.StatusPartial, got.Status)
		assert.Equal(t, 3, got.RequestedCount)
		assert.Equal(t, notify.PlatformCount{Sent: 2, Failed: 1}, got.PerPlatform[notify.PlatformFCM])
	})

	t.Run("Unknown job id reports not found", func(t *testing.T) {
		_, err := store.GetJobOutcome(ctx, "no-such-job")
		assert.ErrorIs(t, err, notify.ErrJobNotFound)
	})

	t.Run("Audit trail appends and reads back", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			err := store.AppendResult(ctx, "job-2", notify.Result{
				DeviceID:  fmt.Sprintf("dev-%d", i),
				Platform:  notify.PlatformFCM,
				Success:   true,
				MessageID: fmt.Sprintf("msg-%d", i),
				Attempt:   1,
			})
			require.NoError(t, err)
		}

		results, err := store.Results(ctx, "job-2")
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})
}

func TestDeviceRegistry_Integration(t *testing.T) {
	ctx, client := setupSuite(t)
	registry := fs.NewDeviceRegistry(client)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		site := "site-a"
		if i >= 4 {
			site = "site-b"
		}
		err := registry.Upsert(ctx, fs.DeviceRecord{
			Target: notify.DeviceTarget{
				DeviceID:   fmt.Sprintf("dev-%02d", i),
				Platform:   notify.PlatformMQTT,
				Credential: fmt.Sprintf("cred-%02d", i),
			},
			SiteID:    site,
			Type:      "gateway",
			Status:    "online",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	t.Run("Pagination walks the fleet newest first without duplicates", func(t *testing.T) {
		seen := make(map[string]bool)
		cursor := ""
		pages := 0
		for {
			page, err := registry.ResolvePage(ctx, notify.Criteria{Kind: notify.CriteriaAll}, 3, cursor)
			require.NoError(t, err)
			if len(page.Targets) == 0 {
				break
			}
			pages++
			for _, tgt := range page.Targets {
				assert.False(t, seen[tgt.DeviceID], "device %s repeated", tgt.DeviceID)
				seen[tgt.DeviceID] = true
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		assert.Len(t, seen, 7)
		assert.Equal(t, 3, pages)
	})

	t.Run("Site filter matches only that site", func(t *testing.T) {
		page, err := registry.ResolvePage(ctx, notify.Criteria{Kind: notify.CriteriaSite, SiteID: "site-b"}, 10, "")
		require.NoError(t, err)
		assert.Len(t, page.Targets, 3)
	})

	t.Run("Explicit id list resolves in list order", func(t *testing.T) {
		page, err := registry.ResolvePage(ctx, notify.Criteria{
			Kind:      notify.CriteriaDeviceIDs,
			DeviceIDs: []string{"dev-05", "dev-01", "missing"},
		}, 10, "")
		require.NoError(t, err)
		require.Len(t, page.Targets, 2)
		assert.Equal(t, "dev-05", page.Targets[0].DeviceID)
		assert.Equal(t, "dev-01", page.Targets[1].DeviceID)
	})

	t.Run("Invalidation is idempotent and visible on the next resolve", func(t *testing.T) {
		require.NoError(t, registry.InvalidateToken(ctx, "dev-03"))
		require.NoError(t, registry.InvalidateToken(ctx, "dev-03"))
		require.NoError(t, registry.InvalidateToken(ctx, "never-registered"))

		page, err := registry.ResolvePage(ctx, notify.Criteria{
			Kind:      notify.CriteriaDeviceIDs,
			DeviceIDs: []string{"dev-03"},
		}, 10, "")
		require.NoError(t, err)
		require.Len(t, page.Targets, 1)
		assert.True(t, page.Targets[0].KnownInvalid)
	})
}
