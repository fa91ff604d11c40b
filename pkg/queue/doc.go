// Package queue publishes reconciler events to durable queues.
//
// The only backend is Kafka. Closed-window snapshots are published so that
// downstream consumers (rewards, analytics) can react without polling the
// store. Publishers require Close to be called exactly once to release
// resources and flush in-flight messages.
package queue
