package indexer

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"bridgewatch/internal/model"
)

func buildDecodeError(event model.RawEvent, err error) model.DecodeError {
	return model.DecodeError{
		Hash:    event.Hash,
		Anchor:  event.Anchor,
		Address: event.Address,
		Data:    hexutil.Encode(event.Data),
		Error:   err.Error(),
	}
}
