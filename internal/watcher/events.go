package watcher

import (
	"tickwatch/internal/domain"
	"tickwatch/internal/scheduler"
)

// Event is the tagged union of everything the watcher's dispatch loop
// processes. Each variant carries its own payload; events from the feed,
// the scheduler, and external subscription calls are funneled through one
// channel and run to completion one at a time.
type Event interface {
	isEvent()
}

// FrontConnected signals that the feed front is connected and logged in.
type FrontConnected struct{}

// FrontDisconnected signals that the front connection was lost.
type FrontDisconnected struct {
	Reason string
}

// DepthTick carries one parsed depth market-data record.
type DepthTick struct {
	Tick domain.Tick
}

// DeadlineFired carries one scheduler alarm.
type DeadlineFired struct {
	Firing scheduler.Firing
}

// SubscriptionChanged carries instruments added to the subscription set.
type SubscriptionChanged struct {
	Instruments []string
}

func (FrontConnected) isEvent()      {}
func (FrontDisconnected) isEvent()   {}
func (DepthTick) isEvent()           {}
func (DeadlineFired) isEvent()       {}
func (SubscriptionChanged) isEvent() {}
