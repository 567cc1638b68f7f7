package models

import (
	"fmt"
	"strings"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
)

// orderTransitions lists the only allowed edges. Everything else, including
// staying in place, is rejected.
var orderTransitions = map[OrderStatus]OrderStatus{
	OrderStatusPending: OrderStatusPaid,
	OrderStatusPaid:    OrderStatusShipped,
	OrderStatusShipped: OrderStatusDelivered,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered:
		return status, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	allowed, ok := orderTransitions[s]
	return ok && allowed == next
}

// Deletable reports whether an order in this status may still be removed.
func (s OrderStatus) Deletable() bool {
	return s != OrderStatusShipped && s != OrderStatusDelivered
}
