package skhttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/api"
)

const (
	paramTableName = "table_name"
	paramQueryID   = "query_id"
)

const (
	defaultExecutionsLimit = 100
	maxExecutionsLimit     = 1000
)

const (
	msgMarshallingError = "failed to marshal data"
	msgInvalidParams    = "one or more parameters are invalid"
)

type APIHandler interface {
	TablesList(http.ResponseWriter, *http.Request)
	RoutingSnapshot(http.ResponseWriter, *http.Request)
	Endpoints(http.ResponseWriter, *http.Request)
	Executions(http.ResponseWriter, *http.Request)
	Execution(http.ResponseWriter, *http.Request)
}

type apiHandler struct {
	apiSrv api.Service
	logger zerolog.Logger
}

func NewAPIHandler(logger zerolog.Logger, apiSrv api.Service) APIHandler {
	return &apiHandler{
		logger: logger,
		apiSrv: apiSrv,
	}
}

func (a *apiHandler) TablesList(w http.ResponseWriter, r *http.Request) {
	resp, err := a.apiSrv.TablesList(r.Context())
	if err != nil {
		a.writeResponse(w, newInternalErrResponse("failed to get tables list", err))
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		a.writeResponse(w, newInternalErrResponse(msgMarshallingError, err))
		return
	}

	a.writeResponse(w, newOKResponse(data))
}

func (a *apiHandler) RoutingSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.apiSrv.RoutingSnapshot(r.Context())
	if err != nil {
		a.writeResponse(w, newInternalErrResponse("failed to get routing snapshot", err))
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		a.writeResponse(w, newInternalErrResponse(msgMarshallingError, err))
		return
	}

	a.writeResponse(w, newOKResponse(data))
}

func (a *apiHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	resp, err := a.apiSrv.Endpoints(r.Context())
	if err != nil {
		a.writeResponse(w, newInternalErrResponse("failed to get endpoints", err))
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		a.writeResponse(w, newInternalErrResponse(msgMarshallingError, err))
		return
	}

	a.writeResponse(w, newOKResponse(data))
}

func (a *apiHandler) Executions(w http.ResponseWriter, r *http.Request) {
	reqParams := parseParams(mux.Vars(r))
	if reqParams.tableName == "" {
		a.writeResponse(w, newBadRequestResponse(msgInvalidParams))
		return
	}

	executions, err := a.apiSrv.Executions(r.Context(), reqParams.tableName, parseLimit(r))
	if err != nil {
		a.writeResponse(w, newInternalErrResponse("failed to get executions", err))
		return
	}

	data, err := json.Marshal(executions)
	if err != nil {
		a.writeResponse(w, newInternalErrResponse(msgMarshallingError, err))
		return
	}

	a.writeResponse(w, newOKResponse(data))
}

func (a *apiHandler) Execution(w http.ResponseWriter, r *http.Request) {
	reqParams := parseParams(mux.Vars(r))
	if reqParams.queryID == "" {
		a.writeResponse(w, newBadRequestResponse(msgInvalidParams))
		return
	}

	exec, err := a.apiSrv.Execution(r.Context(), reqParams.queryID)
	if err != nil {
		if err == api.ErrEmptyResult {
			a.writeResponse(w, newBadRequestResponse(`execution not found`))
			return
		}
		a.writeResponse(w, newInternalErrResponse("failed to get execution", err))
		return
	}

	data, err := json.Marshal(exec)
	if err != nil {
		a.writeResponse(w, newInternalErrResponse(msgMarshallingError, err))
		return
	}

	a.writeResponse(w, newOKResponse(data))
}

func (a *apiHandler) writeResponse(w http.ResponseWriter, resp response) {
	if resp.err != nil {
		a.logger.Err(resp.err).Msg(string(resp.data))
	}

	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.statusCode)

	_, err := w.Write(resp.data)
	if err != nil {
		a.logger.Err(err).Msg("failed to write response")
	}
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultExecutionsLimit
	}
	if limit > maxExecutionsLimit {
		return maxExecutionsLimit
	}

	return limit
}
