package pools

import "errors"

var (
	ErrPoolClosed    = errors.New("pool is closed")
	ErrInvalidConfig = errors.New("invalid pool config")
	ErrUnknownShard  = errors.New("unknown shard")
)
