package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrMissingPlayer = errors.New("missing acting player: set " + PlayerHeader + " or player_id")
)
