package events

// Topic constants for domain events emitted by the shop.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderConfirmed = "order.confirmed"
	TopicOrderShipped   = "order.shipped"
	TopicOrderDelivered = "order.delivered"
	TopicOrderCancelled = "order.cancelled"
)

// OrderStatusTopic maps an order status to the topic announcing it.
func OrderStatusTopic(status string) (string, bool) {
	switch status {
	case "confirmed":
		return TopicOrderConfirmed, true
	case "shipped":
		return TopicOrderShipped, true
	case "delivered":
		return TopicOrderDelivered, true
	case "cancelled":
		return TopicOrderCancelled, true
	}
	return "", false
}
