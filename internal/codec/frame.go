package codec

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"bridgewatch/internal/model"
)

// SubscriptionMethod is the JSON-RPC method name of ledger notifications.
const SubscriptionMethod = "ledger.subscription"

type notificationFrame struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// ParseNotification decodes a subscription notification frame. The result may be a
// single account block or a list of them.
func ParseNotification(frame []byte) (string, []model.AccountBlock, error) {
	var msg notificationFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return "", nil, fmt.Errorf("decode notification: %w", err)
	}
	if msg.Method != SubscriptionMethod {
		return "", nil, ErrNotNotification
	}
	blocks, err := ParseBlocks(msg.Params.Result)
	if err != nil {
		return "", nil, err
	}
	return msg.Params.Subscription, blocks, nil
}

// ParseBlocks decodes a JSON value holding either one account block or a list.
func ParseBlocks(result []byte) ([]model.AccountBlock, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var blocks []model.AccountBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return nil, fmt.Errorf("decode account blocks: %w", err)
		}
		return blocks, nil
	}
	var block model.AccountBlock
	if err := json.Unmarshal(trimmed, &block); err != nil {
		return nil, fmt.Errorf("decode account block: %w", err)
	}
	return []model.AccountBlock{block}, nil
}

// ExtractEvents selects the candidate bridge calls carried by blocks. A block on
// the bridge chain yields its own event and, when its paired block was sent to the
// bridge, an event for the paired block anchored at the bridge height. A block
// from any other chain sent to the bridge yields an unanchored event.
func ExtractEvents(blocks []model.AccountBlock, bridge string) []model.RawEvent {
	var events []model.RawEvent
	for i := range blocks {
		block := &blocks[i]
		ts := momentumTimestamp(block, 0)
		if block.Address != bridge {
			if block.ToAddress == bridge {
				events = append(events, rawEvent(block, 0, ts))
			}
			continue
		}
		events = append(events, rawEvent(block, block.Height, ts))
		paired := block.PairedAccountBlock
		if paired != nil && paired.ToAddress == bridge {
			events = append(events, rawEvent(paired, block.Height, momentumTimestamp(paired, ts)))
		}
	}
	return events
}

func rawEvent(block *model.AccountBlock, anchor uint64, ts int64) model.RawEvent {
	return model.RawEvent{
		Hash:          block.Hash,
		Anchor:        anchor,
		Address:       block.Address,
		ToAddress:     block.ToAddress,
		TokenStandard: block.TokenStandard,
		Amount:        block.Amount,
		Data:          block.Data,
		Timestamp:     ts,
	}
}

func momentumTimestamp(block *model.AccountBlock, fallback int64) int64 {
	if block.ConfirmationDetail != nil && block.ConfirmationDetail.MomentumTimestamp > 0 {
		return block.ConfirmationDetail.MomentumTimestamp
	}
	return fallback
}
