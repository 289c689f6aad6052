package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneloop/internal/config"
	"sceneloop/internal/protocol"
)

// scriptedCaller answers each method from a handler table and records every
// call in order.
type scriptedCaller struct {
	handlers map[string]func(params any) (json.RawMessage, error)
	calls    []string
	closed   int
}

func (s *scriptedCaller) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.calls = append(s.calls, method)
	h, ok := s.handlers[method]
	if !ok {
		return nil, &protocol.Error{Code: protocol.CodeMethodNotFound, Message: method}
	}
	return h(params)
}

func (s *scriptedCaller) Close() error {
	s.closed++
	return nil
}

func validParams() protocol.SessionCreateParams {
	return protocol.SessionCreateParams{
		VisionModel:    "gemini-2.5-flash",
		CredentialRef:  "GEMINI_API_KEY",
		InitialCode:    "print('hi')",
		TargetImageRef: "target.png",
		RoundLimit:     5,
	}
}

func sessionCreator(id string) func(params any) (json.RawMessage, error) {
	return func(params any) (json.RawMessage, error) {
		return json.Marshal(protocol.SessionCreateResult{SessionID: id})
	}
}

func TestGeneratorCreateSessionValidatesBeforeSending(t *testing.T) {
	stub := &scriptedCaller{}
	g := NewGenerator(stub, nil)

	_, err := g.CreateSession(context.Background(), protocol.SessionCreateParams{})
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 5, "every missing field is reported at once")
	assert.Empty(t, stub.calls, "invalid config must not reach the wire")
}

func TestGeneratorCreateSessionForcesRole(t *testing.T) {
	var sent protocol.SessionCreateParams
	stub := &scriptedCaller{handlers: map[string]func(any) (json.RawMessage, error){
		protocol.MethodSessionCreate: func(params any) (json.RawMessage, error) {
			sent = params.(protocol.SessionCreateParams)
			return json.Marshal(protocol.SessionCreateResult{SessionID: "s1"})
		},
	}}
	g := NewGenerator(stub, nil)

	params := validParams()
	params.Role = protocol.RoleVerifier // caller mistake, overridden
	id, err := g.CreateSession(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	assert.Equal(t, protocol.RoleGenerator, sent.Role)
}

func TestProduceArtifactBeforeSessionFails(t *testing.T) {
	g := NewGenerator(&scriptedCaller{}, nil)
	_, err := g.ProduceArtifact(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestProduceArtifactForwardsFeedback(t *testing.T) {
	var sent protocol.GenerateParams
	stub := &scriptedCaller{handlers: map[string]func(any) (json.RawMessage, error){
		protocol.MethodSessionCreate: sessionCreator("s1"),
		protocol.MethodGenerate: func(params any) (json.RawMessage, error) {
			sent = params.(protocol.GenerateParams)
			return json.Marshal(protocol.GenerateResult{
				Artifact: protocol.Artifact{Code: "revised"},
				Round:    2,
			})
		},
	}}
	g := NewGenerator(stub, nil)
	_, err := g.CreateSession(context.Background(), validParams())
	require.NoError(t, err)

	feedback := &protocol.Feedback{Status: protocol.StatusContinue, Critique: "wrong color", Round: 1}
	artifact, err := g.ProduceArtifact(context.Background(), feedback)
	require.NoError(t, err)
	assert.Equal(t, "revised", artifact.Code)
	assert.Equal(t, "s1", sent.SessionID)
	require.NotNil(t, sent.Feedback)
	assert.Equal(t, "wrong color", sent.Feedback.Critique)
}

func TestInvalidSessionCodeMapsToSentinel(t *testing.T) {
	stub := &scriptedCaller{handlers: map[string]func(any) (json.RawMessage, error){
		protocol.MethodSessionCreate: sessionCreator("s1"),
		protocol.MethodGenerate: func(params any) (json.RawMessage, error) {
			return nil, &protocol.Error{Code: protocol.CodeInvalidSession, Message: "gone"}
		},
	}}
	g := NewGenerator(stub, nil)
	_, err := g.CreateSession(context.Background(), validParams())
	require.NoError(t, err)

	_, err = g.ProduceArtifact(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestGeneratorCloseIsIdempotent(t *testing.T) {
	closes := 0
	stub := &scriptedCaller{handlers: map[string]func(any) (json.RawMessage, error){
		protocol.MethodSessionCreate: sessionCreator("s1"),
		protocol.MethodSessionClose: func(params any) (json.RawMessage, error) {
			closes++
			return json.Marshal(map[string]string{"status": "closed"})
		},
	}}
	g := NewGenerator(stub, nil)
	_, err := g.CreateSession(context.Background(), validParams())
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, closes, "session/close sent exactly once")
	assert.Equal(t, 1, stub.closed, "channel closed exactly once")

	_, err = g.ProduceArtifact(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidSession)
}
