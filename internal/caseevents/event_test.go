package caseevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New(CaseCompleted, CaseEventData("case-1", map[string]interface{}{"workflow_step": "dose_verify"}))
	assert.Equal(t, CaseCompleted, e.Type)
	assert.Equal(t, "case-1", e.Data["case_id"])
	assert.False(t, e.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Second)
}

func TestRoundTrip(t *testing.T) {
	original := New(GPUReserved, CaseEventData("case-2", map[string]interface{}{"gpu_id": "gpu-0"}))

	data, err := original.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "gpu.reserved", parsed["type"])

	restored, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["case_id"], restored.Data["case_id"])
	assert.Equal(t, original.Data["gpu_id"], restored.Data["gpu_id"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestProcessEventData(t *testing.T) {
	data := ProcessEventData("remote-executor", map[string]interface{}{"pid": 1234})
	assert.Equal(t, "remote-executor", data["process"])
	assert.Equal(t, 1234, data["pid"])
}
