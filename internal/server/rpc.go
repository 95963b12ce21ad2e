package server

import (
	"encoding/json"
	"net/http"

	serrors "github.com/copyleftdev/DOCKR/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcJobNotFound    = -32001
	rpcJobConflict    = -32002
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type jobRef struct {
	JobID string `json:"job_id"`
}

// handleJSONRPC serves docking.start, docking.status and docking.cancel.
// Each method takes a single object parameter.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "docking.start":
		var p DockRequest
		if !s.decodeParams(w, request, &p) {
			return
		}
		var job *Job
		if job, err = s.StartJob(p); err == nil {
			result = map[string]interface{}{"job_id": job.ID, "status": job.Status()}
		}
	case "docking.status":
		var p jobRef
		if !s.decodeParams(w, request, &p) {
			return
		}
		var job *Job
		if job, err = s.Job(p.JobID); err == nil {
			result = job.View()
		}
	case "docking.cancel":
		var p jobRef
		if !s.decodeParams(w, request, &p) {
			return
		}
		var job *Job
		if job, err = s.CancelJob(p.JobID); err == nil {
			result = map[string]interface{}{"job_id": job.ID, "status": job.Status()}
		}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

func (s *Server) decodeParams(w http.ResponseWriter, request rpcRequest, dst interface{}) bool {
	if len(request.Params) == 0 {
		s.respondWithError(w, rpcInvalidParams, "missing required parameters", request.ID)
		return false
	}
	if err := json.Unmarshal(request.Params[0], dst); err != nil {
		s.respondWithError(w, rpcInvalidParams, "invalid parameter format, expected object", request.ID)
		return false
	}
	return true
}

func rpcCode(err error) int {
	switch serrors.HTTPStatus(err) {
	case http.StatusBadRequest:
		return rpcInvalidParams
	case http.StatusNotFound:
		return rpcJobNotFound
	case http.StatusConflict:
		return rpcJobConflict
	}
	return rpcServerError
}

// respondWithError sends a JSON-RPC 2.0 error response.
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}
