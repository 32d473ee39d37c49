package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"tribeone/storage"
)

// KV layers an RLP codec over the raw key-value database. Engines depend on
// the narrow method set below rather than on the database directly so tests
// can swap in in-memory state.
type KV struct {
	db storage.Database
}

// NewKV wraps the provided database.
func NewKV(db storage.Database) *KV {
	return &KV{db: db}
}

// KVPut stores value under key using RLP encoding.
func (kv *KV) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return kv.db.Put(key, encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed. A nil out only probes for existence.
func (kv *KV) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := kv.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key from state.
func (kv *KV) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return kv.db.Delete(key)
}

// KVAppend appends value to the RLP byte-slice list stored under key.
// Duplicates are ignored to keep index keys deterministic.
func (kv *KV) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	data, err := kv.db.Get(key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return kv.db.Put(key, encoded)
}

// KVGetList decodes the RLP slice stored under key into the supplied slice
// pointer. A missing key initialises the destination to an empty slice.
func (kv *KV) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := kv.db.Get(key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
