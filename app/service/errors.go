package service

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrForbidden       = errors.New("actor is not allowed to access this payment")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrGatewayFailed   = errors.New("payment gateway call failed")
	ErrCallbackDenied  = errors.New("callback rejected")
)
