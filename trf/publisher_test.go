package trf

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedMock() *MockClient {
	c := NewMockClient()
	c.SetConnected(true)
	return c
}

func TestNewPublisher(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	assert.Equal(t, "trfit", p.Prefix())
	assert.Equal(t, byte(1), p.qos)
	assert.True(t, p.retain)
	assert.Empty(t, p.Results())

	p = NewPublisher(nil, "site/a", nil)
	assert.Equal(t, "site/a", p.Prefix())
}

func TestPublisher_SetQoS(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	p.SetQoS(2)
	assert.Equal(t, byte(2), p.qos)
	p.SetQoS(3)
	assert.Equal(t, byte(2), p.qos, "invalid QoS must be ignored")
}

func TestPublisher_PublishWithNilClient(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	err := p.PublishResult(JobResult{ID: "a"})
	assert.ErrorContains(t, err, "not connected")

	p = NewPublisher(NewMockClient(), "", nil)
	assert.Error(t, p.PublishResult(JobResult{ID: "a"}))
}

func TestPublisher_PublishResultFormat(t *testing.T) {
	client := connectedMock()
	p := NewPublisher(client, "trfit", nil)
	p.SetRetain(false)

	res := RunJob(quarterTurnJob(), SolveNormal)
	require.NoError(t, p.PublishResult(res))

	msgs := client.Published("trfit/quarter")
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)

	var decoded JobResult
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &decoded))
	assert.Equal(t, "quarter", decoded.ID)
	assert.Equal(t, KindSimilarity, decoded.Kind)
	assert.Equal(t, Success, decoded.Status)
	require.NotNil(t, decoded.Record)
	assert.Len(t, decoded.Record.Params, 4)

	got, ok := p.Result("quarter")
	require.True(t, ok)
	assert.Equal(t, res.RMSE, got.RMSE)
}

func TestPublisher_CombinedMessageFormat(t *testing.T) {
	client := connectedMock()
	p := NewPublisher(client, "trfit", nil)

	require.NoError(t, p.PublishResult(JobResult{ID: "b", Kind: KindAffine}))
	require.NoError(t, p.PublishResult(JobResult{ID: "a", Kind: KindRigid3D}))

	msgs := client.Published("trfit/transforms")
	require.Len(t, msgs, 2)

	var combined struct {
		Transforms []JobResult `json:"transforms"`
		Timestamp  int64       `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &combined))
	require.Len(t, combined.Transforms, 2)
	assert.Equal(t, "a", combined.Transforms[0].ID)
	assert.Equal(t, "b", combined.Transforms[1].ID)
	assert.NotZero(t, combined.Timestamp)

	p.Forget("a")
	_, ok := p.Result("a")
	assert.False(t, ok)
	assert.Len(t, p.Results(), 1)
}

func TestPublisher_PublishError(t *testing.T) {
	client := connectedMock()
	client.SetPublishError(errors.New("broker full"))
	p := NewPublisher(client, "", nil)
	err := p.PublishResult(JobResult{ID: "a"})
	assert.ErrorContains(t, err, "broker full")
}

func TestPublisher_ConcurrentAccess(t *testing.T) {
	client := connectedMock()
	p := NewPublisher(client, "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = p.PublishResult(JobResult{ID: fmt.Sprintf("job-%02d", i)})
			_ = p.Results()
		}(i)
	}
	wg.Wait()
	assert.Len(t, p.Results(), 20)
}
