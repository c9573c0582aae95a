package data

import "github.com/google/uuid"

type NodeId string

// WorkerId is assigned on first register, globally unique.
type WorkerId string

// JobId: "" means the worker is not bound to any job yet.
type JobId string

// ActorId: "" means no root detached actor.
type ActorId string

// StartupToken is a node-local monotonic integer that binds a RegisterWorker
// call back to the launch that produced it.
type StartupToken int64

const NilStartupToken StartupToken = -1

// RuntimeEnvHash is the 32-bit digest of the serialized runtime env
// descriptor the worker process was launched under.
type RuntimeEnvHash int32

func NewWorkerId() WorkerId {
	return WorkerId(uuid.New().String())
}

func NewNodeId() NodeId {
	return NodeId(uuid.New().String())
}
