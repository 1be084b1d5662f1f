package events

// Topic constants for domain events emitted by the platform.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderCanceled  = "order.canceled"
	TopicOrderStatus    = "order.status_changed"
	TopicPaymentFailed  = "payment.failed"
	TopicSupportReplied = "support.replied"
	TopicPasswordReset  = "auth.password_reset"
)

// NotifyTopics lists the topics that produce a customer notification.
func NotifyTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderCanceled,
		TopicOrderStatus,
		TopicPaymentFailed,
		TopicSupportReplied,
	}
}
