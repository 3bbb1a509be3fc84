package orders

// All lifecycle events share one topic; the envelope's event_type and the
// x-event-type header discriminate.
const TopicOrderEvents = "order.events"

// Partition key = order_id so events for one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
