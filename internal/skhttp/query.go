package skhttp

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/broker"
	"github.com/skatterlabs/skatter/internal/routing"
	"github.com/skatterlabs/skatter/pkg/wire"
)

type QueryHandler interface {
	Query(http.ResponseWriter, *http.Request)
}

type queryHandler struct {
	broker broker.Broker
	logger zerolog.Logger
}

func NewQueryHandler(logger zerolog.Logger, b broker.Broker) QueryHandler {
	return &queryHandler{
		broker: b,
		logger: logger,
	}
}

func (q *queryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		q.writeResponse(w, newBadRequestResponse("malformed query request"))
		return
	}
	if req.Table == "" {
		q.writeResponse(w, newBadRequestResponse(msgInvalidParams))
		return
	}
	if req.Format == "" {
		req.Format = wire.FormatJSON
	}

	result, err := q.broker.Execute(r.Context(), broker.Request{
		Table:   req.Table,
		Format:  req.Format,
		Payload: []byte(req.Query),
	})
	if err != nil {
		q.writeResponse(w, errResponse(err))
		return
	}

	resp := QueryResponse{
		ID:       result.ID,
		Format:   result.Format,
		Cached:   result.Cached,
		Complete: result.Stats.Failed == 0 && result.Stats.Succeeded > 0,
		Stats:    result.Stats,
	}
	if result.Format == wire.FormatJSON {
		resp.Result = result.Payload
	} else {
		resp.Payload = result.Payload
	}

	data, err := json.Marshal(resp)
	if err != nil {
		q.writeResponse(w, newInternalErrResponse(msgMarshallingError, err))
		return
	}

	q.writeResponse(w, newOKResponse(data))
}

func errResponse(err error) response {
	switch err {
	case broker.ErrNotRunning:
		return newUnavailableResponse("broker is not running")
	case routing.ErrUnknownTable:
		return newBadRequestResponse("unknown table")
	case routing.ErrNoEndpoints:
		return newBadGatewayResponse("no live endpoints for table", err)
	case broker.ErrQueryFailed:
		return newBadGatewayResponse("query failed on every endpoint", err)
	}

	return newInternalErrResponse("failed to execute query", err)
}

func (q *queryHandler) writeResponse(w http.ResponseWriter, resp response) {
	if resp.err != nil {
		q.logger.Err(resp.err).Msg(string(resp.data))
	}

	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.statusCode)

	_, err := w.Write(resp.data)
	if err != nil {
		q.logger.Err(err).Msg("failed to write response")
	}
}
