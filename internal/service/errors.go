package service

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrAuctionEnded        = errors.New("auction has ended")
	ErrRateLimited         = errors.New("too many requests")
	ErrPriceTooHigh        = errors.New("target price too high")
	ErrQuotaExceeded       = errors.New("notification quota exceeded")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
)
