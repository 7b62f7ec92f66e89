package handler

import "errors"

var (
	ErrFailedToDecodeRequestBody = errors.New("failed to decode request body")
	ErrInternalServer            = errors.New("server encountered a problem and could not process your request")
	ErrBackendUnavailable        = errors.New("routing backend failed to answer")
)
