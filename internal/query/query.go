// Package query implements the Remote Query component: a short-lived
// synchronous request/response exchange for listing and inspecting
// sessions (spec.md §4.9).
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

// ErrTimeout is returned when the relay does not answer within Deadline.
var ErrTimeout = errors.New("query: timeout")

// Deadline is the overall budget for one query (spec.md §4.9).
const Deadline = 10 * time.Second

func dial(ctx context.Context, serverURL, token string) (*websocket.Conn, error) {
	url := serverURL
	if token != "" {
		sep := "?"
		for i := range url {
			if url[i] == '?' {
				sep = "&"
				break
			}
		}
		url += sep + "token=" + token
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("query: dial: %w", err)
	}
	return conn, nil
}

func roundTrip(serverURL, token string, req any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), Deadline)
	defer cancel()

	conn, err := dial(ctx, serverURL, token)
	if err != nil {
		return nil, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("query: marshal request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("query: send request: %w", err)
	}

	_, reply, err := conn.Read(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("query: read reply: %w", err)
	}

	var head struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(reply, &head); err != nil {
		return nil, fmt.Errorf("query: malformed reply: %w", err)
	}
	if head.Type == protocol.KindError {
		return nil, fmt.Errorf("query: relay error %s: %s", head.Code, head.Message)
	}
	return reply, nil
}

// List requests the caller's sessions.
func List(serverURL, token string, includeInactive bool) ([]protocol.SessionInfo, error) {
	req := protocol.SessionListRequest{
		Type:            protocol.KindSessionListRequest,
		IncludeInactive: includeInactive,
	}
	reply, err := roundTrip(serverURL, token, req)
	if err != nil {
		return nil, err
	}
	var resp protocol.SessionListResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("query: unmarshal list response: %w", err)
	}
	return resp.Sessions, nil
}

// Info requests a single session's metadata.
func Info(serverURL, token, sessionID string) (protocol.SessionInfo, error) {
	req := protocol.SessionInfoRequest{
		Type:      protocol.KindSessionInfoRequest,
		SessionID: sessionID,
	}
	reply, err := roundTrip(serverURL, token, req)
	if err != nil {
		return protocol.SessionInfo{}, err
	}
	var resp protocol.SessionInfoResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return protocol.SessionInfo{}, fmt.Errorf("query: unmarshal info response: %w", err)
	}
	return resp.Session, nil
}

// Delete asks the relay to close and forget a session.
func Delete(serverURL, token, sessionID string) error {
	req := protocol.SessionDeleteRequest{
		Type:      protocol.KindSessionDeleteRequest,
		SessionID: sessionID,
	}
	_, err := roundTrip(serverURL, token, req)
	return err
}
