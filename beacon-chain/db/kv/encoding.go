package kv

import (
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-ssz"
)

// encode serializes val with the canonical deterministic encoding used for
// everything persisted in this store.
func encode(val interface{}) ([]byte, error) {
	enc, err := ssz.Marshal(val)
	if err != nil {
		return nil, errors.Wrap(err, "could not ssz encode value")
	}
	return enc, nil
}

func decode(enc []byte, dst interface{}) error {
	if err := ssz.Unmarshal(enc, dst); err != nil {
		return errors.Wrap(err, "could not ssz decode value")
	}
	return nil
}
