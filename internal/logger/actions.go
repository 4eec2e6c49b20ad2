package logger

// Action names attached to log entries under the "action" key.
const (
	ActionServiceStarted   = "service_started"
	ActionGracefulShutdown = "graceful_shutdown"
	ActionDBConnected      = "db_connected"
	ActionMigrationsDone   = "migrations_applied"
	ActionMenuSeeded       = "menu_seeded"
	ActionRequest          = "http_request"

	ActionOrderCreated       = "order_created"
	ActionOrderItemAdded     = "order_item_added"
	ActionOrderItemUpdated   = "order_item_updated"
	ActionOrderItemRemoved   = "order_item_removed"
	ActionOrderTableChanged  = "order_table_changed"
	ActionOrderCustomerSet   = "order_customer_changed"
	ActionOrderPointsUpdated = "order_points_updated"
	ActionOrderCompleted     = "order_completed"
	ActionOrderCancelled     = "order_cancelled"
	ActionOrderDeleted       = "order_deleted"
	ActionEventPublishFailed = "event_publish_failed"

	ActionPointsAdjusted  = "points_adjusted"
	ActionPointsDuplicate = "points_duplicate_request"

	ActionVoucherUsed = "voucher_used"

	ActionCartSyncFailed = "cart_sync_failed"
	ActionCartReconciled = "cart_reconciled"
)
