package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// wireEntry is the compact L2 representation of an entry. Secret entries
// carry only their ciphertext.
type wireEntry struct {
	Namespace   string `cbor:"1,keyasint"`
	Key         string `cbor:"2,keyasint"`
	Environment string `cbor:"3,keyasint"`
	Version     int64  `cbor:"4,keyasint"`
	Value       []byte `cbor:"5,keyasint,omitempty"`
	IsSecret    bool   `cbor:"6,keyasint,omitempty"`
	Ciphertext  []byte `cbor:"7,keyasint,omitempty"`
	KeyID       string `cbor:"8,keyasint,omitempty"`
	CreatedAt   int64  `cbor:"9,keyasint"`
	UpdatedAt   int64  `cbor:"10,keyasint"`
	Author      string `cbor:"11,keyasint,omitempty"`
	Description string `cbor:"12,keyasint,omitempty"`
}

// ErrUnencodable marks an entry that has no L2 representation. It says
// nothing about the health of the remote tier.
var ErrUnencodable = errors.New("entry cannot be encoded")

func encodeEntry(e *configstore.Entry) ([]byte, error) {
	w := wireEntry{
		Namespace:   e.Namespace,
		Key:         e.Key,
		Environment: e.Environment.String(),
		Version:     e.Version,
		IsSecret:    e.IsSecret,
		Ciphertext:  e.Ciphertext,
		KeyID:       e.KeyID,
		CreatedAt:   e.CreatedAt.UnixNano(),
		UpdatedAt:   e.UpdatedAt.UnixNano(),
		Author:      e.Author,
		Description: e.Description,
	}
	if !e.IsSecret {
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
		}
		w.Value = v
	}
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*configstore.Entry, error) {
	var w wireEntry
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode cached entry: %w", err)
	}
	env, err := configstore.ParseEnvironment(w.Environment)
	if err != nil {
		return nil, err
	}
	e := &configstore.Entry{
		Namespace:   w.Namespace,
		Key:         w.Key,
		Environment: env,
		Version:     w.Version,
		IsSecret:    w.IsSecret,
		Ciphertext:  w.Ciphertext,
		KeyID:       w.KeyID,
		CreatedAt:   time.Unix(0, w.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, w.UpdatedAt).UTC(),
		Author:      w.Author,
		Description: w.Description,
	}
	if len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &e.Value); err != nil {
			return nil, fmt.Errorf("decode cached value: %w", err)
		}
	}
	return e, nil
}
