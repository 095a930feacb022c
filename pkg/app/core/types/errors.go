package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrder           = errors.New("invalid order")
	ErrRiskRejected           = errors.New("risk rejected")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")

	ErrUnknownAsset = fmt.Errorf("%w: unknown asset", ErrInvalidOrder)
	ErrMarketClosed = fmt.Errorf("%w: market closed", ErrInvalidOrder)
)
