package api

import (
	"errors"
	"net/http"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// JSON-RPC 2.0 error codes. The -320xx range is ours.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeOrderRejected  = -32001
	CodeRiskLimit      = -32002
	CodeInvalidSymbol  = -32004
	CodeMarketClosed   = -32005
	CodeOrderNotFound  = -32006
)

// classify maps a domain error to an HTTP status and RPC code. Unknown asset
// and closed market are checked first because they wrap ErrInvalidOrder.
func classify(err error) (status, code int) {
	switch {
	case errors.Is(err, types.ErrUnknownAsset):
		return http.StatusNotFound, CodeInvalidSymbol
	case errors.Is(err, types.ErrMarketClosed):
		return http.StatusConflict, CodeMarketClosed
	case errors.Is(err, types.ErrUnknownOrder):
		return http.StatusNotFound, CodeOrderNotFound
	case errors.Is(err, types.ErrRiskRejected):
		return http.StatusUnprocessableEntity, CodeRiskLimit
	case errors.Is(err, types.ErrInvalidOrder),
		errors.Is(err, types.ErrInsufficientLiquidity),
		errors.Is(err, types.ErrInvalidStateTransition):
		return http.StatusUnprocessableEntity, CodeOrderRejected
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
