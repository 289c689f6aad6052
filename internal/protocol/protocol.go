// Package protocol defines the line-delimited JSON-RPC framing and the typed
// payloads exchanged between the orchestrator, agent processes, and tool
// processes. One JSON object per line in both directions; stdout carries
// frames, stderr carries logs.
package protocol

import "encoding/json"

// Version is the JSON-RPC version tag carried by every frame.
const Version = "2.0"

// ProtocolVersion is negotiated during the initialize handshake. Servers
// reject clients speaking a different version.
const ProtocolVersion = "2025-06-01"

// Method names understood by agent and tool processes.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodSessionCreate = "session/create"
	MethodSessionClose  = "session/close"
	MethodGenerate      = "generate"
	MethodJudge         = "judge"
	MethodToolsCall     = "tools/call"
)

// Request is a single framed request. ID correlates the response; the
// transport enforces one outstanding request per channel.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the single reply to a Request, matched by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a structured protocol-level failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Protocol error codes. The -32xxx range follows JSON-RPC conventions;
// application codes start at -32000.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeInvalidSession = -32000
	CodeInvalidConfig  = -32001
	CodeToolFailed     = -32002
)

// InitializeParams opens the handshake and negotiates capabilities.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientName      string `json:"clientName"`
}

// InitializeResult announces the server identity and its capabilities
// (e.g. "generate", "judge", or tool capability names).
type InitializeResult struct {
	ProtocolVersion string   `json:"protocolVersion"`
	ServerName      string   `json:"serverName"`
	Capabilities    []string `json:"capabilities"`
}

// Role identifies which side of the dual-agent pair a session serves.
type Role string

const (
	RoleGenerator Role = "generator"
	RoleVerifier  Role = "verifier"
)

// SessionCreateParams carries the configuration snapshot for a new remote
// session. Required fields are validated client-side before the call and
// again server-side.
type SessionCreateParams struct {
	Role           Role    `json:"role"`
	VisionModel    string  `json:"visionModel"`
	CredentialRef  string  `json:"credentialRef"`
	InitialCode    string  `json:"initialCode,omitempty"`
	TargetImageRef string  `json:"targetImageRef"`
	RoundLimit     int     `json:"roundLimit"`
	Hints          string  `json:"hints,omitempty"`
	SaveDir        string  `json:"saveDir,omitempty"`
	ScoreThreshold float64 `json:"scoreThreshold,omitempty"`
}

// SessionCreateResult returns the opaque handle addressing the session on
// every subsequent call.
type SessionCreateResult struct {
	SessionID string `json:"sessionId"`
}

// SessionCloseParams releases a session. Closing an unknown handle fails
// with CodeInvalidSession.
type SessionCloseParams struct {
	SessionID string `json:"sessionId"`
}

// Artifact is one round's generated scene or slide code.
type Artifact struct {
	Code      string `json:"code"`
	Rationale string `json:"rationale,omitempty"`
}

// FeedbackStatus tags a judgment as terminal or not.
type FeedbackStatus string

const (
	StatusEnd      FeedbackStatus = "end"
	StatusContinue FeedbackStatus = "continue"
)

// Feedback is the verifier's structured judgment for one round. Critique is
// non-empty exactly when Status is StatusContinue. Score is the numeric
// similarity against the target when one was computed. Evidence is the tool
// output the judgment was based on. Round is audit metadata supplied by the
// caller.
type Feedback struct {
	Status   FeedbackStatus `json:"status"`
	Critique string         `json:"critique,omitempty"`
	Score    *float64       `json:"score,omitempty"`
	Evidence []Evidence     `json:"evidence,omitempty"`
	Round    int            `json:"round"`
}

// GenerateParams asks the generator session for the next artifact. Feedback
// is nil on round 1 and carries the previous round's judgment afterwards; the
// server appends it to session history before generating.
type GenerateParams struct {
	SessionID string    `json:"sessionId"`
	Feedback  *Feedback `json:"feedback,omitempty"`
}

// GenerateResult returns the produced artifact and the server-side round
// counter after the increment.
type GenerateResult struct {
	Artifact Artifact `json:"artifact"`
	Round    int      `json:"round"`
}

// Evidence is one piece of tool-gathered observation forwarded to the
// verifier session alongside the judge request.
type Evidence struct {
	Capability string   `json:"capability"`
	Summary    string   `json:"summary"`
	Score      *float64 `json:"score,omitempty"`
}

// JudgeParams asks the verifier session to compare the current render
// against the target. Degraded marks that some or all tool evidence could
// not be gathered this round.
type JudgeParams struct {
	SessionID string     `json:"sessionId"`
	RenderRef string     `json:"renderRef"`
	Round     int        `json:"round"`
	Evidence  []Evidence `json:"evidence,omitempty"`
	Degraded  bool       `json:"degraded,omitempty"`
}

// JudgeResult carries the model's verdict. Match reports an explicit
// positive judgment; the client combines it with the numeric score under the
// dual-trigger convergence policy. A non-empty Investigate list asks the
// client to run camera directives through the tool router and judge again
// with the gathered views.
type JudgeResult struct {
	Match       bool              `json:"match"`
	Critique    string            `json:"critique,omitempty"`
	Score       *float64          `json:"score,omitempty"`
	Investigate []CameraDirective `json:"investigate,omitempty"`
}

// ToolCallParams invokes a named capability on a tool process.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CompareImagesArgs are the arguments for the compare_images capability.
type CompareImagesArgs struct {
	CurrentRef string `json:"currentRef"`
	TargetRef  string `json:"targetRef"`
}

// CompareImagesResult is the structured diff produced by compare_images.
type CompareImagesResult struct {
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// CameraOp is a scene-investigation operation.
type CameraOp string

const (
	CameraFocus CameraOp = "focus"
	CameraZoom  CameraOp = "zoom"
	CameraMove  CameraOp = "move"
)

// CameraDirective are the arguments for the investigate_scene capability.
// Target names an object for focus; Direction is in|out for zoom and
// up|down|left|right for move.
type CameraDirective struct {
	Op        CameraOp `json:"op"`
	Target    string   `json:"target,omitempty"`
	Direction string   `json:"direction,omitempty"`
}

// CameraResult references the view rendered after applying a directive.
type CameraResult struct {
	ViewRef string `json:"viewRef"`
}

// NewRequest builds a request frame with marshaled params. A nil params
// value produces an empty params field.
func NewRequest(id int64, method string, params any) (Request, error) {
	req := Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Request{}, err
		}
		req.Params = raw
	}
	return req, nil
}

// NewResult builds a success response with a marshaled result payload.
func NewResult(id int64, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response.
func NewError(id int64, code int, message string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}
