package codec

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

func asUint32(method, field string, value interface{}) (uint32, error) {
	v, ok := value.(uint32)
	if !ok {
		return 0, &MalformedError{Method: method, Field: field, Err: fmt.Errorf("unexpected type %T", value)}
	}
	return v, nil
}

func asString(method, field string, value interface{}) (string, error) {
	v, ok := value.(string)
	if !ok {
		return "", &MalformedError{Method: method, Field: field, Err: fmt.Errorf("unexpected type %T", value)}
	}
	return v, nil
}

func asHash(method, field string, value interface{}) (string, error) {
	v, ok := value.([32]byte)
	if !ok {
		return "", &MalformedError{Method: method, Field: field, Err: fmt.Errorf("unexpected type %T", value)}
	}
	return hex.EncodeToString(v[:]), nil
}

func asBigInt(method, field string, value interface{}) (*big.Int, error) {
	v, ok := value.(*big.Int)
	if !ok || v == nil {
		return nil, &MalformedError{Method: method, Field: field, Err: fmt.Errorf("unexpected type %T", value)}
	}
	return new(big.Int).Set(v), nil
}
