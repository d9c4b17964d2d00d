package stdio

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/bridge"
	"github.com/goliatone/go-sonarfit/rpc"
	"github.com/goliatone/go-sonarfit/simulator"
)

type session struct {
	client   *Client
	engine   *simulator.Engine
	serveErr chan error
	// toHost is the plugin's write side; closing it ends the client.
	toHost *io.PipeWriter
	// fromHost is the host's write side, shared with the client.
	fromHost *io.PipeWriter
}

func newBridgeServer(t *testing.T, script simulator.Script) (*rpc.Server, *simulator.Engine) {
	t.Helper()
	engine := simulator.NewEngine(script)
	server, err := bridge.NewServer(bridge.New(engine, simulator.NewWindow("root")))
	require.NoError(t, err)
	return server, engine
}

func startSession(t *testing.T, script simulator.Script, serverOpts []Option, clientOpts []Option) (*session, error) {
	t.Helper()
	rpcServer, engine := newBridgeServer(t, script)

	hostR, hostW := io.Pipe()
	pluginR, pluginW := io.Pipe()
	t.Cleanup(func() {
		hostW.Close()
		pluginW.Close()
	})

	s := &session{engine: engine, serveErr: make(chan error, 1), toHost: pluginW, fromHost: hostW}
	go func() {
		s.serveErr <- NewServer(rpcServer, serverOpts...).Serve(context.Background(), hostR, pluginW)
	}()

	client, err := Dial(pluginR, hostW, clientOpts...)
	s.client = client
	return s, err
}

func TestHandshakeAnnouncesEndpoints(t *testing.T) {
	s, err := startSession(t, simulator.Script{Outcome: simulator.OutcomeCompleted},
		[]Option{WithChannel(bridge.ChannelName)}, []Option{WithChannel(bridge.ChannelName)})
	require.NoError(t, err)

	assert.Equal(t, bridge.ChannelName, s.client.Channel())
	endpoints := s.client.Endpoints()
	require.Len(t, endpoints, 2)
	assert.Equal(t, bridge.MethodInitialize, endpoints[0].Method)
	assert.Equal(t, bridge.MethodPresentWorkout, endpoints[1].Method)
}

func TestHandshakeRejectsOtherChannel(t *testing.T) {
	s, err := startSession(t, simulator.Script{Outcome: simulator.OutcomeCompleted},
		[]Option{WithChannel(bridge.ChannelName)}, []Option{WithChannel("other")})
	require.Error(t, err)
	assert.Contains(t, sonarfit.MessageOf(err), `unknown channel "other"`)

	select {
	case serveErr := <-s.serveErr:
		require.Error(t, serveErr)
	case <-time.After(time.Second):
		t.Fatal("serve did not return")
	}
}

func TestInvokeInitializeAndPresentWorkout(t *testing.T) {
	s, err := startSession(t, simulator.Script{APIKeys: []string{"demo"}, Outcome: simulator.OutcomeCompleted}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	env, err := s.client.Invoke(ctx, bridge.MethodInitialize, map[string]any{"apiKey": "demo"})
	require.NoError(t, err)
	assert.Nil(t, env.Error)
	assert.False(t, env.NotImplemented)

	env, err = s.client.Invoke(ctx, bridge.MethodInitialize, map[string]any{"apiKey": "wrong"})
	require.NoError(t, err)
	require.NotNil(t, env.Error)
	assert.Equal(t, sonarfit.CodeInitFailed, env.Error.Code)

	env, err = s.client.Invoke(ctx, bridge.MethodPresentWorkout, map[string]any{
		"workoutType": "benchpress",
		"sets":        2,
		"reps":        3,
		"deviceType":  "airpods",
	})
	require.NoError(t, err)
	require.Nil(t, env.Error)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok, "data is %T", env.Data)
	assert.Equal(t, "benchpress", data["workoutType"])
	assert.Equal(t, "airpods", data["deviceType"])
	assert.EqualValues(t, 6, data["totalRepsCompleted"])
	sets, ok := data["sets"].([]any)
	require.True(t, ok)
	assert.Len(t, sets, 2)
}

func TestInvokeUnknownMethodIsNotImplemented(t *testing.T) {
	s, err := startSession(t, simulator.Script{Outcome: simulator.OutcomeCompleted}, nil, nil)
	require.NoError(t, err)

	env, err := s.client.Invoke(context.Background(), "getPlatformVersion", nil)
	require.NoError(t, err)
	assert.True(t, env.NotImplemented)
	assert.Nil(t, env.Error)
}

func TestConcurrentCallsCorrelateReplies(t *testing.T) {
	s, err := startSession(t, simulator.Script{Outcome: simulator.OutcomeCompleted}, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	codes := make([]string, 20)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := map[string]any{"apiKey": "key"}
			if i%2 == 1 {
				payload = map[string]any{}
			}
			env, err := s.client.Invoke(context.Background(), bridge.MethodInitialize, payload)
			if assert.NoError(t, err) && env.Error != nil {
				codes[i] = env.Error.Code
			}
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if i%2 == 1 {
			assert.Equal(t, sonarfit.CodeInvalidArgs, code, "call %d", i)
		} else {
			assert.Empty(t, code, "call %d", i)
		}
	}
}

func TestServeDrainsPendingRepliesOnEOF(t *testing.T) {
	s, err := startSession(t, simulator.Script{Outcome: simulator.OutcomeCancelled, Delay: 50 * time.Millisecond}, nil, nil)
	require.NoError(t, err)

	type result struct {
		env rpc.ResponseEnvelope
		err error
	}
	got := make(chan result, 1)
	go func() {
		env, err := s.client.Invoke(context.Background(), bridge.MethodPresentWorkout,
			map[string]any{"workoutType": "squat", "sets": 1, "reps": 1})
		got <- result{env, err}
	}()

	require.Eventually(t, func() bool { return s.engine.Started() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.client.Close())

	select {
	case serveErr := <-s.serveErr:
		require.NoError(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after EOF")
	}

	res := <-got
	require.NoError(t, res.err)
	require.NotNil(t, res.env.Error)
	assert.Equal(t, sonarfit.CodeCancelled, res.env.Error.Code)

	s.toHost.Close()
	<-s.client.Done()
	_, err = s.client.Invoke(context.Background(), bridge.MethodInitialize, nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestFrameReaderEnforcesMaxFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFrameWriter(&buf).WriteFrame(&Frame{Type: FrameCall, ID: "1", Method: "initialize", Payload: cbor.RawMessage{0x61, 0x78}}))

	reader := NewFrameReader(bytes.NewReader(buf.Bytes()))
	reader.maxFrame = 4
	_, err := reader.ReadFrame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max frame")

	frame, err := NewFrameReader(bytes.NewReader(buf.Bytes())).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, FrameCall, frame.Type)
	assert.Equal(t, "initialize", frame.Method)

	_, err = NewFrameReader(bytes.NewReader(nil)).ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCallWithNonStringKeysGetsInvalidArgs(t *testing.T) {
	s, err := startSession(t, simulator.Script{APIKeys: []string{"demo"}, Outcome: simulator.OutcomeCompleted}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	env, err := s.client.Invoke(ctx, bridge.MethodPresentWorkout, map[int]any{1: "x"})
	require.NoError(t, err)
	require.NotNil(t, env.Error)
	assert.Equal(t, sonarfit.CodeInvalidArgs, env.Error.Code)

	env, err = s.client.Invoke(ctx, bridge.MethodInitialize, map[int]any{1: "demo"})
	require.NoError(t, err)
	require.NotNil(t, env.Error)
	assert.Equal(t, sonarfit.CodeInvalidArgs, env.Error.Code)

	env, err = s.client.Invoke(ctx, bridge.MethodInitialize, map[string]any{"apiKey": "demo"})
	require.NoError(t, err)
	assert.Nil(t, env.Error)

	select {
	case serveErr := <-s.serveErr:
		t.Fatalf("serve returned early: %v", serveErr)
	default:
	}
}

func TestServeSurvivesEmptyAndGarbledFrames(t *testing.T) {
	s, err := startSession(t, simulator.Script{APIKeys: []string{"demo"}, Outcome: simulator.OutcomeCompleted}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = s.fromHost.Write([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	// length 2, then a CBOR break byte and a reserved byte
	_, err = s.fromHost.Write([]byte{0, 0, 0, 2, 0xff, 0x1c})
	require.NoError(t, err)

	env, err := s.client.Invoke(ctx, bridge.MethodInitialize, map[string]any{"apiKey": "demo"})
	require.NoError(t, err)
	assert.Nil(t, env.Error)

	select {
	case serveErr := <-s.serveErr:
		t.Fatalf("serve returned early: %v", serveErr)
	default:
	}

	require.NoError(t, s.fromHost.Close())
	select {
	case serveErr := <-s.serveErr:
		assert.NoError(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after EOF")
	}
}

func TestFrameReaderRejectsEmptyFrame(t *testing.T) {
	reader := NewFrameReader(bytes.NewReader([]byte{0, 0, 0, 0}))
	_, err := reader.ReadFrame()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyFrame)
	assert.NotErrorIs(t, err, io.EOF)

	var decodeErr *FrameDecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestDecodePayload(t *testing.T) {
	raw, err := EncodePayload(map[string]any{"apiKey": "demo"})
	require.NoError(t, err)
	payload, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"apiKey": "demo"}, payload)

	raw, err = EncodePayload(map[int]any{1: "x"})
	require.NoError(t, err)
	payload, err = DecodePayload(raw)
	require.NoError(t, err)
	_, ok := sonarfit.AsPayload(payload)
	assert.False(t, ok)

	payload, err = DecodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, payload)
}
