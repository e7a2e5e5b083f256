package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/models"
)

func TestLogger_AppendsOneFilePerTenant(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	rollupID := uuid.New()
	require.NoError(t, logger.Log(RollupEvent("tenant-a", EventRollupCreated, rollupID, "alice")))
	require.NoError(t, logger.Log(RollupEvent("tenant-a", EventRollupUpdated, rollupID, "alice")))
	require.NoError(t, logger.Log(RollupEvent("tenant-b", EventRollupCreated, uuid.New(), "bob")))

	tenantAPath := filepath.Join(dir, "tenant-a.jsonl")
	data, err := os.ReadFile(tenantAPath)
	require.NoError(t, err)

	lines := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		assert.Equal(t, models.Tenant("tenant-a"), e.TenantID)
		lines++
	}
	assert.Equal(t, 2, lines)

	_, err = os.Stat(filepath.Join(dir, "tenant-b.jsonl"))
	require.NoError(t, err)
}

func TestExecutionEvent_FailedPhaseRaisesSeverity(t *testing.T) {
	rollupID, execID := uuid.New(), uuid.New()

	ok := ExecutionEvent("tenant-a", rollupID, execID, models.PhaseCompleted, "")
	assert.Equal(t, errors.SeverityLow, ok.Severity)
	assert.Equal(t, EventExecutionRun, ok.Type)

	failed := ExecutionEvent("tenant-a", rollupID, execID, models.PhaseFailed, "merge conflict")
	assert.Equal(t, errors.SeverityHigh, failed.Severity)
	assert.Equal(t, EventExecutionFailed, failed.Type)
}
