package streaming

import (
	"encoding/json"
	"errors"
	"time"

	"txqueue/internal/domain"
)

type MessageType string

const (
	MessageTypePendingReceipt MessageType = "pending_receipt"
	MessageTypeReceiptStatus  MessageType = "receipt_status"
	MessageTypeTransition     MessageType = "transition"
)

type Message struct {
	Type       MessageType            `json:"type"`
	ChainID    uint64                 `json:"chain_id"`
	TraceID    string                 `json:"trace_id,omitempty"`
	Account    string                 `json:"account,omitempty"`
	TxHash     string                 `json:"tx_hash,omitempty"`
	Status     domain.ReceiptStatus   `json:"status,omitempty"`
	Receipt    *domain.PendingReceipt `json:"receipt,omitempty"`
	Transition *domain.Transition     `json:"transition,omitempty"`
	At         time.Time              `json:"at"`
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	if msg.Type == "" {
		return errors.New("message type is required")
	}
	if msg.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	switch msg.Type {
	case MessageTypePendingReceipt:
		if msg.Receipt == nil {
			return errors.New("pending_receipt message has no receipt")
		}
	case MessageTypeTransition:
		if msg.Transition == nil {
			return errors.New("transition message has no transition")
		}
	case MessageTypeReceiptStatus:
		if msg.TxHash == "" || msg.Status == "" {
			return errors.New("receipt_status message needs tx_hash and status")
		}
	}
	return nil
}
