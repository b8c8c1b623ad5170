package appcontext

import (
	"github.com/eser/ajan"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/dynamodb_store"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/engine"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/sqs_queue"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/stream_gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
	"github.com/WarriorSushi/speedstein/pkg/api/business/sessions"
)

type FeatureFlags struct {
	StreamGateway bool `conf:"STREAM_GATEWAY" default:"true"` // serve the persistent NDJSON gateway
}

type AppConfig struct {
	Pools    pools.Config    `conf:"POOLS"`
	Sessions sessions.Config `conf:"SESSIONS"`
	Gateway  gateway.Config  `conf:"GATEWAY"`
	Renders  renders.Config  `conf:"RENDERS"`

	Engine engine.Config `conf:"ENGINE"`

	StreamGateway stream_gateway.Config `conf:"STREAM_GATEWAY"`

	DynamoDbStore dynamodb_store.Config `conf:"DYNAMODB_STORE"`

	SqsQueue sqs_queue.Config `conf:"SQS_QUEUE"`

	ajan.BaseConfig

	Features FeatureFlags `conf:"FEATURES"`
}
