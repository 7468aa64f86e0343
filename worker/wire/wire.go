// Package wire defines the message protocol out-of-process backends use
// to route a running script's tool calls, builtin API calls, and
// diagnostics back to the host interceptor. One execution uses one
// connection; calls are strictly sequential, preserving the order the
// script issued them.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonwraymond/scriptrun/worker"
)

// Errors for wire operations.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrProtocol         = errors.New("protocol error")
)

// MessageType identifies a wire message.
type MessageType string

// Message types. The host opens with Exec; the unit sends ToolCall,
// APICall, Print, Debug, and finally Output or ScriptError; the host
// answers calls with Result or CallError.
const (
	MsgExec        MessageType = "exec"
	MsgToolCall    MessageType = "tool_call"
	MsgAPICall     MessageType = "api_call"
	MsgPrint       MessageType = "print"
	MsgDebug       MessageType = "debug"
	MsgOutput      MessageType = "output"
	MsgScriptError MessageType = "script_error"
	MsgResult      MessageType = "result"
	MsgCallError   MessageType = "call_error"
)

// Message is one frame on the connection.
type Message struct {
	Type MessageType    `json:"type"`
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
	Value any           `json:"value,omitempty"`
	Text string         `json:"text,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Codec encodes and decodes wire messages.
type Codec interface {
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// JSONCodec is the default codec.
type JSONCodec struct{}

// Encode marshals the message as JSON.
func (JSONCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode unmarshals a JSON message.
func (JSONCodec) Decode(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}

// Conn is a bidirectional message channel to one execution unit.
//
// Contract:
// - Concurrency: Send and Receive are called from a single goroutine.
// - Context: both must honor cancellation/deadlines.
// - Errors: a closed connection returns ErrConnectionClosed.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// RemoteError is an error raised by the script inside the unit and
// reported over the wire.
type RemoteError struct {
	Detail string
}

// Error returns the script-provided detail.
func (e *RemoteError) Error() string { return e.Detail }

// Exec delivers the payload to the unit, starting script execution.
func Exec(ctx context.Context, conn Conn, payload worker.Payload) error {
	args := make(map[string]any, len(payload.Env))
	for k, v := range payload.Env {
		args[k] = v
	}
	err := conn.Send(ctx, Message{
		Type: MsgExec,
		Name: payload.Language,
		Text: payload.Source,
		Args: args,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return worker.Fault("exec", err)
	}
	return nil
}

// Serve pumps messages from the unit until it reports an output or an
// error, dispatching each tool and API call to inv in arrival order.
// It returns the script's final value on MsgOutput.
//
// An error from inv.Invoke or inv.InvokeAPI is terminal: Serve replies
// with MsgCallError so the unit can stop cleanly, then returns the
// error unchanged for the caller to classify.
func Serve(ctx context.Context, conn Conn, inv worker.Invoker) (any, error) {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, worker.Fault("receive", err)
		}

		switch msg.Type {
		case MsgToolCall:
			value, err := inv.Invoke(ctx, msg.Name, msg.Args)
			if err != nil {
				replyErr(ctx, conn, msg.ID, err)
				return nil, err
			}
			if err := reply(ctx, conn, msg.ID, value); err != nil {
				return nil, err
			}

		case MsgAPICall:
			value, err := inv.InvokeAPI(ctx, msg.Name, msg.Args)
			if err != nil {
				replyErr(ctx, conn, msg.ID, err)
				return nil, err
			}
			if err := reply(ctx, conn, msg.ID, value); err != nil {
				return nil, err
			}

		case MsgPrint:
			inv.Print(msg.Text)

		case MsgDebug:
			inv.Debug(msg.Text)

		case MsgOutput:
			return msg.Value, nil

		case MsgScriptError:
			return nil, &RemoteError{Detail: msg.Error}

		default:
			return nil, fmt.Errorf("%w: unexpected message type %q", ErrProtocol, msg.Type)
		}
	}
}

func reply(ctx context.Context, conn Conn, id string, value any) error {
	err := conn.Send(ctx, Message{Type: MsgResult, ID: id, Value: value})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return worker.Fault("send", err)
	}
	return nil
}

// replyErr is best-effort: the call error itself is the primary
// failure and is returned by Serve regardless.
func replyErr(ctx context.Context, conn Conn, id string, callErr error) {
	_ = conn.Send(ctx, Message{Type: MsgCallError, ID: id, Error: callErr.Error()})
}
