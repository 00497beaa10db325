package stream

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

func readAll(t *testing.T, raw string) []Frame {
	t.Helper()
	out := make(chan Frame, 64)
	require.NoError(t, ReadFrames(context.Background(), strings.NewReader(raw), out))
	close(out)
	var frames []Frame
	for f := range out {
		frames = append(frames, f)
	}
	return frames
}

func TestWriteFrameEscapesNewlines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 7, "{\"event_type\":\"a\"}\n{\"event_type\":\"b\"}"))
	assert.Equal(t, "id: 7\nevent: message\ndata: {\"event_type\":\"a\"}\\n{\"event_type\":\"b\"}\n\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteKeepAlive(&buf))
	assert.Equal(t, ": keep-alive\n\n", buf.String())
}

func TestReadFramesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteKeepAlive(&buf))
	require.NoError(t, WriteFrame(&buf, 1, `{"event_type":"intent_updated"}`))
	require.NoError(t, WriteKeepAlive(&buf))
	require.NoError(t, WriteFrame(&buf, 2, "line one\r\nline two"))

	frames := readAll(t, buf.String())
	require.Len(t, frames, 4)
	assert.True(t, frames[0].KeepAlive)
	assert.Equal(t, Frame{ID: 1, HasID: true, Event: EventMessage, Data: `{"event_type":"intent_updated"}`}, frames[1])
	assert.True(t, frames[2].KeepAlive)
	assert.Equal(t, `line one\nline two`, frames[3].Data)
}

func TestReadFramesJoinsMultipleDataLines(t *testing.T) {
	frames := readAll(t, "event: message\ndata: a\ndata: b\nretry: 10\n\n")
	require.Len(t, frames, 1)
	assert.False(t, frames[0].HasID)
	assert.Equal(t, "a\nb", frames[0].Data)
}

func TestParsePayloadSingleEnvelope(t *testing.T) {
	envs, errs := ParsePayload(`{"event_type":"intent_updated","update_summary":"x"}`)
	assert.Empty(t, errs)
	require.Len(t, envs, 1)
	assert.Equal(t, domain.EventIntentUpdated, envs[0].EventType)
}

func TestParsePayloadSplitsEscapedNewlineBoundary(t *testing.T) {
	data := `{"event_type":"intent_updated","update_summary":"a}\n{b"}\n{"event_type":"intent_proposed","ready":true}`
	envs, errs := ParsePayload(data)
	assert.Empty(t, errs)
	require.Len(t, envs, 2)
	assert.Equal(t, domain.EventIntentUpdated, envs[0].EventType)
	assert.Equal(t, domain.EventIntentProposed, envs[1].EventType)

	ev, err := Decode(envs[0])
	require.NoError(t, err)
	assert.Equal(t, "a}\n{b", ev.(IntentUpdated).Summary)
}

func TestParsePayloadKeepsValidPieceWhenOtherIsMalformed(t *testing.T) {
	data := `{"event_type":"scope_updated","data_scope":{"title":"t"}}\n{"event_type": broken}`
	envs, errs := ParsePayload(data)
	require.Len(t, envs, 1)
	assert.Len(t, errs, 1)
	assert.Equal(t, domain.EventScopeUpdated, envs[0].EventType)

	// Malformed first, valid second.
	envs, errs = ParsePayload(`{"nope":1}\n{"event_type":"error","message":"m"}`)
	require.Len(t, envs, 1)
	assert.Len(t, errs, 1)
	assert.Equal(t, domain.EventError, envs[0].EventType)
}

func TestParsePayloadUnescapesPrettyPrintedEnvelope(t *testing.T) {
	envs, errs := ParsePayload(`{\n  "event_type": "stage_update",\n  "stage": "execution"\n}`)
	assert.Empty(t, errs)
	require.Len(t, envs, 1)
	assert.Equal(t, domain.EventStageUpdate, envs[0].EventType)
}

func TestParsePayloadGarbage(t *testing.T) {
	envs, errs := ParsePayload("not json at all")
	assert.Empty(t, envs)
	assert.Len(t, errs, 1)
}

func TestDecodeEvents(t *testing.T) {
	cases := []struct {
		raw  string
		want Event
	}{
		{`{"event_type":"intent_proposed","intent_package":{"title":"x"},"ready":true}`,
			IntentProposed{Document: []byte(`{"title":"x"}`), Ready: true}},
		{`{"event_type":"scope_ready","scope_state":{"title":"s"}}`,
			ScopeUpdated{Kind: domain.EventScopeReady, Document: []byte(`{"title":"s"}`)}},
		{`{"event_type":"execution_complete","results":{"status":"done"}}`,
			ExecutionProgress{Kind: domain.EventExecutionComplete, Results: []byte(`{"status":"done"}`), Complete: true}},
		{`{"event_type":"team_building_progress","team_config":{"team_name":"t"}}`,
			TeamUpdate{Kind: domain.EventTeamBuildingProgress, Document: []byte(`{"team_name":"t"}`)}},
		{`{"event_type":"execution_error","error":"boom"}`,
			StageError{Kind: domain.EventExecutionError, Stage: domain.StageExecution, Message: "boom"}},
		{`{"event_type":"error","message":"bad scope","stage":"data_scoping"}`,
			StageError{Kind: domain.EventError, Stage: domain.StageDataScoping, Message: "bad scope"}},
		{`{"event_type":"stage_update","stage":"execution","run_id":"r2"}`,
			StageUpdate{Stage: domain.StageExecution, RunID: "r2"}},
		{`{"event_type":"something_new","x":1}`,
			Unknown{EventType: "something_new", Raw: []byte(`{"event_type":"something_new","x":1}`)}},
	}
	for _, tc := range cases {
		env, err := domain.ParseEnvelope([]byte(tc.raw))
		require.NoError(t, err)
		ev, err := Decode(env)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want.Type(), ev.Type())
		assert.EqualValues(t, tc.want, ev, tc.raw)
	}
}

func TestDecodeRejectsBadStage(t *testing.T) {
	env, err := domain.ParseEnvelope([]byte(`{"event_type":"stage_update","stage":"warp"}`))
	require.NoError(t, err)
	_, err = Decode(env)
	assert.Error(t, err)
}

func msgFrame(id int64, data string) Frame {
	return Frame{ID: id, HasID: true, Event: EventMessage, Data: data}
}

func TestConsumerDedupesWithinConnection(t *testing.T) {
	ctx := context.Background()
	c := NewConsumer("run-1")
	gen := c.Reconnect()

	f := msgFrame(1, `{"event_type":"intent_updated","intent_package":{"title":"a"}}\n{"event_type":"intent_proposed","ready":true}`)
	first := c.Handle(ctx, gen, f)
	require.Len(t, first, 2)
	assert.Equal(t, uint64(1), first[0].Seq)
	assert.Equal(t, uint64(2), first[1].Seq)
	assert.Equal(t, 1, first[1].Index)

	assert.Empty(t, c.Handle(ctx, gen, f))
	assert.Equal(t, int64(1), c.Cursor())
	assert.Empty(t, c.Handle(ctx, gen, Frame{KeepAlive: true}))
}

func TestConsumerReconnectAllowsReplay(t *testing.T) {
	ctx := context.Background()
	c := NewConsumer("run-1")
	gen := c.Reconnect()
	f := msgFrame(3, `{"event_type":"intent_updated"}`)
	require.Len(t, c.Handle(ctx, gen, f), 1)

	next := c.Reconnect()
	assert.Zero(t, c.Cursor())
	assert.Empty(t, c.Handle(ctx, gen, f), "frames from the old connection are dropped")
	assert.Len(t, c.Handle(ctx, next, f), 1)
}

func TestConsumerSwitchResetsCursorForNewRun(t *testing.T) {
	ctx := context.Background()
	c := NewConsumer("run-intent")
	gen := c.Reconnect()
	require.Len(t, c.Handle(ctx, gen, msgFrame(1, `{"event_type":"intent_updated"}`)), 1)
	require.Len(t, c.Handle(ctx, gen, msgFrame(2, `{"event_type":"stage_update","stage":"data_scoping"}`)), 1)
	assert.Equal(t, int64(2), c.Cursor())

	gen = c.Switch("run-scope")
	assert.Zero(t, c.Cursor())
	got := c.Handle(ctx, gen, msgFrame(1, `{"event_type":"stage_update","stage":"data_scoping"}`))
	require.Len(t, got, 1)
	assert.Equal(t, "run-scope", got[0].RunID)
	assert.Equal(t, int64(1), c.Cursor())
}

func TestConsumerSkipsMalformedPieces(t *testing.T) {
	c := NewConsumer("run-1")
	gen := c.Reconnect()
	got := c.Handle(context.Background(), gen, msgFrame(1, `{"event_type":"stage_update","stage":"nowhere"}\n{"event_type":"error","error":"x"}`))
	require.Len(t, got, 1)
	assert.IsType(t, StageError{}, got[0].Event)
}
