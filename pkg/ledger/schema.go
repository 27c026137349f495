package ledger

import "fmt"

// Redis key pattern helpers
//
// Keys and Pub/Sub channels are namespaced by instance name so several Mirror
// instances can share one Redis server.
//
// Key pattern: mirror:{instance_name}:{entity}
// Channel pattern: mirror:{instance_name}:{event_type}_events

// LedgerKey returns the Redis list holding ledger entries as JSON.
// Pattern: mirror:{instance_name}:ledger
func LedgerKey(instanceName string) string {
	return fmt.Sprintf("mirror:%s:ledger", instanceName)
}

// LiveEventsChannel returns the Pub/Sub channel carrying live pipeline events.
// Pattern: mirror:{instance_name}:live_events
func LiveEventsChannel(instanceName string) string {
	return fmt.Sprintf("mirror:%s:live_events", instanceName)
}
