package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	r := NewPrometheusRecorder("batchengine")

	r.ConflictDetected("date", "machineUnavailable", "high")
	r.ConflictDetected("date", "machineUnavailable", "high")
	r.ResolutionRecorded("machineUnavailable", "automatic")
	r.BatchesApproved(3, 1)
	r.BatchesCreated("template", 2)
	r.AuditFailure("approval_group")
	r.ObserveOperation("batch_approve", "ok", 25*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.conflicts.WithLabelValues("date", "machineUnavailable", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.resolutions.WithLabelValues("machineUnavailable", "automatic")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.approvals.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.approvals.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.batchesCreated.WithLabelValues("template")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.auditFailures.WithLabelValues("approval_group")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.operationDuration))
}

func TestWriteTextfile(t *testing.T) {
	r := NewPrometheusRecorder("batchengine")
	r.BatchesCreated("copy", 4)

	path := filepath.Join(t.TempDir(), "engine.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `batchengine_batches_created_total{source="copy"} 4`)
}
