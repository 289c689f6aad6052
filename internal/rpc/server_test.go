package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneloop/internal/protocol"
)

// serve feeds raw frames through the server and returns the decoded
// responses in order.
func serve(t *testing.T, s *Server, frames ...string) []protocol.Response {
	t.Helper()

	in := strings.NewReader(strings.Join(frames, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), in, &out))

	var responses []protocol.Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var resp protocol.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func frame(t *testing.T, id int64, method string, params any) string {
	t.Helper()
	req, err := protocol.NewRequest(id, method, params)
	require.NoError(t, err)
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return string(raw)
}

func TestInitializeHandshake(t *testing.T) {
	s := NewServer("svc", []string{"a", "b"}, nil)
	resps := serve(t, s, frame(t, 1, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientName:      "test",
	}))

	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Error)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resps[0].Result, &result))
	assert.Equal(t, "svc", result.ServerName)
	assert.Equal(t, []string{"a", "b"}, result.Capabilities)
}

func TestInitializeRejectsVersionMismatch(t *testing.T) {
	s := NewServer("svc", nil, nil)
	resps := serve(t, s, frame(t, 1, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: "1999-01-01",
	}))

	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, protocol.CodeInvalidParams, resps[0].Error.Code)
}

func TestPingBuiltin(t *testing.T) {
	s := NewServer("svc", nil, nil)
	resps := serve(t, s, frame(t, 7, protocol.MethodPing, nil))

	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Error)
	assert.Equal(t, int64(7), resps[0].ID)
}

func TestUnknownMethod(t *testing.T) {
	s := NewServer("svc", nil, nil)
	resps := serve(t, s, frame(t, 3, "nope", nil))

	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resps[0].Error.Code)
}

func TestHandlerResultAndIDCorrelation(t *testing.T) {
	s := NewServer("svc", nil, nil)
	s.Handle("double", func(ctx context.Context, params json.RawMessage) (any, error) {
		var in struct {
			N int `json:"n"`
		}
		require.NoError(t, json.Unmarshal(params, &in))
		return map[string]int{"n": in.N * 2}, nil
	})

	resps := serve(t, s,
		frame(t, 10, "double", map[string]int{"n": 2}),
		frame(t, 11, "double", map[string]int{"n": 5}),
	)

	require.Len(t, resps, 2)
	assert.Equal(t, int64(10), resps[0].ID)
	assert.Equal(t, int64(11), resps[1].ID)

	var out struct {
		N int `json:"n"`
	}
	require.NoError(t, json.Unmarshal(resps[1].Result, &out))
	assert.Equal(t, 10, out.N)
}

func TestProtocolErrorPassesThrough(t *testing.T) {
	s := NewServer("svc", nil, nil)
	s.Handle("fail", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, &protocol.Error{Code: protocol.CodeInvalidSession, Message: "no such session"}
	})

	resps := serve(t, s, frame(t, 1, "fail", nil))
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, protocol.CodeInvalidSession, resps[0].Error.Code)
	assert.Equal(t, "no such session", resps[0].Error.Message)
}

func TestPlainErrorBecomesInternal(t *testing.T) {
	s := NewServer("svc", nil, nil)
	s.Handle("fail", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	resps := serve(t, s, frame(t, 1, "fail", nil))
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, protocol.CodeInternal, resps[0].Error.Code)
}

func TestUnparseableFrameAnswersParseError(t *testing.T) {
	s := NewServer("svc", nil, nil)
	resps := serve(t, s, "{not json", frame(t, 2, protocol.MethodPing, nil))

	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, protocol.CodeParseError, resps[0].Error.Code)
	assert.Nil(t, resps[1].Error)
}
