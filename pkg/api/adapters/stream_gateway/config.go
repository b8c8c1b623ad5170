package stream_gateway

type Config struct {
	Addr          string `conf:"ADDR" default:":8081"`
	MaxFrameBytes int    `conf:"MAX_FRAME_BYTES" default:"4194304"`
}
