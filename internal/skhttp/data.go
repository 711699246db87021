package skhttp

import (
	"encoding/json"
	"net/http"

	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/pkg/wire"
)

type response struct {
	statusCode int
	data       []byte
	err        error
}

func newOKResponse(data []byte) response {
	return response{
		statusCode: http.StatusOK,
		data:       data,
	}
}

func newBadRequestResponse(msg string) response {
	return response{
		statusCode: http.StatusBadRequest,
		data:       []byte(msg),
	}
}

func newBadGatewayResponse(msg string, err error) response {
	return response{
		statusCode: http.StatusBadGateway,
		data:       []byte(msg),
		err:        err,
	}
}

func newUnavailableResponse(msg string) response {
	return response{
		statusCode: http.StatusServiceUnavailable,
		data:       []byte(msg),
	}
}

func newInternalErrResponse(msg string, err error) response {
	return response{
		statusCode: http.StatusInternalServerError,
		data:       []byte(msg),
		err:        err,
	}
}

type params struct {
	tableName string
	queryID   string
}

func parseParams(vars map[string]string) params {
	return params{
		tableName: vars[paramTableName],
		queryID:   vars[paramQueryID],
	}
}

// QueryRequest is the POST /query body.
type QueryRequest struct {
	Table  string      `json:"table"`
	Format wire.Format `json:"format"`
	Query  string      `json:"query"`
}

// QueryResponse carries the merged answer. JSON results are inlined
// into the result field; native results travel base64 encoded in the
// payload field.
type QueryResponse struct {
	ID       string          `json:"id"`
	Format   wire.Format     `json:"format"`
	Result   json.RawMessage `json:"result,omitempty"`
	Payload  []byte          `json:"payload,omitempty"`
	Cached   bool            `json:"cached"`
	Complete bool            `json:"complete"`
	Stats    query.Stats     `json:"stats"`
}
