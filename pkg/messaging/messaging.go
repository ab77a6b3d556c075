package messaging

import "context"

// MessageSender defines an interface for sending messages
// This helps decouple the core package from specific implementations
// like Kafka in the queue package
type MessageSender interface {
	SendDoneMessage(ctx context.Context, done *DoneMessage) error
	Close() error
}

// Event kinds carried by DoneMessage
const (
	EventPlaced   = "PLACED"
	EventCanceled = "CANCELED"
)

// DoneMessage is the outcome of one book operation as published to the
// event stream.
type DoneMessage struct {
	Event        string  `json:"event"`
	Book         string  `json:"book"`
	Sequence     uint64  `json:"sequence"`
	OrderID      string  `json:"orderID,omitempty"`
	Side         string  `json:"side"`
	Price        string  `json:"price"`
	Quantity     int64   `json:"quantity"`
	ExecutedQty  int64   `json:"executedQty"`
	RemainingQty int64   `json:"remainingQty"`
	Stored       bool    `json:"stored"`
	Trades       []Trade `json:"trades,omitempty"`
	Timestamp    int64   `json:"timestamp"`
}

// Trade represents a single execution against a resting order
type Trade struct {
	MakerOrderID string `json:"makerOrderID"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	MakerLeft    int64  `json:"makerLeft"`
}
