package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database and prefix for isolation
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  fmt.Sprintf("test-db-%d", time.Now().UnixNano()),
		prefix:    fmt.Sprintf("t%d_", time.Now().UnixNano()),
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	testDatabase(t, f)
}

func TestDocIDs(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 500, time.FixedZone("CDT", -5*3600))
	assert.Equal(t, "2024-06-01T17:00:00.000000500Z", readingDocID(ts))
	assert.Equal(t, "2024-06-01T17:00:00.000000500Z_a_b", panelDocID(ts, "a/b"))

	// fixed width keeps lexical and chronological order the same
	assert.Less(t, readingDocID(ts), readingDocID(ts.Add(time.Second)))
	assert.Less(t, readingDocID(ts.Add(time.Nanosecond)), readingDocID(ts.Add(time.Millisecond)))
}
