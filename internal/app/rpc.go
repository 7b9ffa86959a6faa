package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hagw/pixie-gateway/internal/model"
	"hagw/pixie-gateway/internal/pixie"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

const coreServiceID = "/core"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcMethod func(ctx context.Context, params json.RawMessage) (any, error)

var errInvalidParams = errors.New("invalid params")

// rpcMethods maps fully qualified callback names (without leading slash) to handlers.
func (a *App) rpcMethods() map[string]rpcMethod {
	serviceID := strings.Trim(a.cfg.ServiceID, "/")
	core := strings.Trim(coreServiceID, "/")

	return map[string]rpcMethod{
		serviceID + "/" + pixie.MethodGetRawItemLocations: func(ctx context.Context, params json.RawMessage) (any, error) {
			req, err := decodeItemLocations(params)
			if err != nil {
				return nil, err
			}
			return a.service.GetRawItemLocations(ctx, req), nil
		},
		serviceID + "/" + pixie.MethodGetItemLocations: func(ctx context.Context, params json.RawMessage) (any, error) {
			req, err := decodeItemLocations(params)
			if err != nil {
				return nil, err
			}
			return a.service.GetItemLocations(ctx, req), nil
		},
		core + "/" + pixie.MethodPing: func(ctx context.Context, params json.RawMessage) (any, error) {
			var req model.PingRequest
			if len(params) > 0 && !bytes.Equal(params, []byte("null")) {
				if params[0] == '[' {
					var positional []string
					if err := json.Unmarshal(params, &positional); err != nil || len(positional) > 1 {
						return nil, errInvalidParams
					}
					if len(positional) == 1 {
						req.Message = positional[0]
					}
				} else if err := json.Unmarshal(params, &req); err != nil {
					return nil, errInvalidParams
				}
			}
			return a.service.Ping(ctx, req), nil
		},
	}
}

// decodeItemLocations accepts named params {"tags":[...],"sendto":"..."} or
// positional params [tags, sendto].
func decodeItemLocations(params json.RawMessage) (model.ItemLocationsRequest, error) {
	var req model.ItemLocationsRequest
	params = bytes.TrimSpace(params)
	if len(params) == 0 {
		return req, errInvalidParams
	}

	if params[0] == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(params, &positional); err != nil || len(positional) != 2 {
			return req, errInvalidParams
		}
		if err := json.Unmarshal(positional[0], &req.Tags); err != nil {
			return req, errInvalidParams
		}
		if err := json.Unmarshal(positional[1], &req.SendTo); err != nil {
			return req, errInvalidParams
		}
	} else if err := json.Unmarshal(params, &req); err != nil {
		return req, errInvalidParams
	}

	if strings.TrimSpace(req.SendTo) == "" {
		return req, fmt.Errorf("%w: sendto required", errInvalidParams)
	}
	return req, nil
}

func (a *App) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		a.writeRPC(w, rpcResponse{Error: &rpcError{Code: rpcParseError, Message: "parse error"}})
		return
	}

	if req.Method == "" {
		a.writeRPC(w, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcInvalidRequest, Message: "invalid request"}})
		return
	}

	// A request without an id is a notification and gets no response body.
	notification := len(req.ID) == 0

	method, ok := a.rpcMethods()[strings.Trim(req.Method, "/")]
	if !ok {
		a.logger.Warn("unknown rpc method", "method", req.Method)
		if notification {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		a.writeRPC(w, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcMethodNotFound, Message: "method not found"}})
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		a.logger.Warn("rpc params rejected", "method", req.Method, "error", err)
		if notification {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		a.writeRPC(w, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcInvalidParams, Message: err.Error()}})
		return
	}

	if notification {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.writeRPC(w, rpcResponse{ID: req.ID, Result: result})
}

func (a *App) writeRPC(w http.ResponseWriter, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error("failed to encode rpc response", "error", err)
	}
}
