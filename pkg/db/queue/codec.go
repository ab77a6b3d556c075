package queue

import (
	"encoding/json"
	"fmt"

	"github.com/erain9/tickbook/pkg/messaging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeDoneMessage serializes a DoneMessage as a protobuf Struct. The Struct
// carries the same field names as the JSON form, so consumers in any
// language can decode it without generated code.
func EncodeDoneMessage(done *messaging.DoneMessage) ([]byte, error) {
	fields := map[string]interface{}{
		"event":        done.Event,
		"book":         done.Book,
		"sequence":     done.Sequence,
		"orderID":      done.OrderID,
		"side":         done.Side,
		"price":        done.Price,
		"quantity":     done.Quantity,
		"executedQty":  done.ExecutedQty,
		"remainingQty": done.RemainingQty,
		"stored":       done.Stored,
		"timestamp":    done.Timestamp,
	}
	if len(done.Trades) > 0 {
		trades := make([]interface{}, 0, len(done.Trades))
		for _, t := range done.Trades {
			trades = append(trades, map[string]interface{}{
				"makerOrderID": t.MakerOrderID,
				"price":        t.Price,
				"quantity":     t.Quantity,
				"makerLeft":    t.MakerLeft,
			})
		}
		fields["trades"] = trades
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build done message struct: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal done message: %w", err)
	}
	return data, nil
}

// DecodeDoneMessage is the inverse of EncodeDoneMessage
func DecodeDoneMessage(data []byte) (*messaging.DoneMessage, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal done message: %w", err)
	}

	// protojson would render numbers as floats too; going through the JSON
	// field names keeps the mapping in one place (the struct tags)
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, err
	}
	var done messaging.DoneMessage
	if err := json.Unmarshal(raw, &done); err != nil {
		return nil, fmt.Errorf("failed to decode done message: %w", err)
	}
	return &done, nil
}
