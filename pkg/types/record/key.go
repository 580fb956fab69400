// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// separator separates the parts of an encoded key. Using the lowest byte means
// a key sorts immediately before its children.
const separator = 0

// A Key is the key for a record. Keys are made of string parts. Integer parts
// are zero-padded so keys sort in numeric order.
type Key struct {
	values []string
}

// NewKey returns a new key with the given parts.
func NewKey(v ...any) *Key {
	return (*Key)(nil).Append(v...)
}

// Len returns the number of parts of the key.
func (k *Key) Len() int {
	if k == nil {
		return 0
	}
	return len(k.values)
}

// Get returns the I'th part of the key.
func (k *Key) Get(i int) string {
	if i < 0 || i >= k.Len() {
		return ""
	}
	return k.values[i]
}

// SliceI returns the key with the first I parts removed.
func (k *Key) SliceI(i int) *Key {
	if i >= k.Len() {
		return &Key{}
	}
	return &Key{values: k.values[i:]}
}

// SliceJ returns the first J parts of the key.
func (k *Key) SliceJ(j int) *Key {
	if j >= k.Len() {
		return k.Copy()
	}
	return &Key{values: k.values[:j]}
}

// Append creates a child key of this key.
func (k *Key) Append(v ...any) *Key {
	l := make([]string, k.Len(), k.Len()+len(v))
	if k != nil {
		copy(l, k.values)
	}
	for _, v := range v {
		l = append(l, formatPart(v))
	}
	return &Key{values: l}
}

// AppendKey appends one key to another.
func (k *Key) AppendKey(l *Key) *Key {
	if l.Len() == 0 {
		return k
	}
	if k.Len() == 0 {
		return l
	}
	m := make([]string, 0, k.Len()+l.Len())
	m = append(m, k.values...)
	m = append(m, l.values...)
	return &Key{values: m}
}

// HasPrefix returns true if the key starts with all the parts of the prefix.
func (k *Key) HasPrefix(prefix *Key) bool {
	if prefix.Len() > k.Len() {
		return false
	}
	for i, v := range prefix.values {
		if k.values[i] != v {
			return false
		}
	}
	return true
}

// String returns a human-readable string for the key.
func (k *Key) String() string {
	if k.Len() == 0 {
		return "()"
	}
	return strings.Join(k.values, ".")
}

// Copy returns a copy of the key.
func (k *Key) Copy() *Key {
	if k == nil {
		return nil
	}
	l := make([]string, len(k.values))
	copy(l, k.values)
	return &Key{values: l}
}

// Equal checks if the two keys are equal.
func (k *Key) Equal(l *Key) bool {
	return k.Compare(l) == 0
}

// Compare orders keys the same way their binary encodings sort.
func (k *Key) Compare(l *Key) int {
	for i := 0; i < k.Len() && i < l.Len(); i++ {
		if c := strings.Compare(k.values[i], l.values[i]); c != 0 {
			return c
		}
	}
	switch {
	case k.Len() < l.Len():
		return -1
	case k.Len() > l.Len():
		return +1
	}
	return 0
}

// MarshalBinary encodes the key. The encoding preserves ordering: if A
// sorts before B, A's encoding sorts before B's encoding.
func (k *Key) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	for i, v := range k.values {
		if strings.IndexByte(v, separator) >= 0 {
			return nil, fmt.Errorf("key part %d contains a null byte", i)
		}
		if i > 0 {
			buf.WriteByte(separator)
		}
		buf.WriteString(v)
	}
	return buf.Bytes(), nil
}

// PrefixBytes returns the encoding every child of this key starts with.
func (k *Key) PrefixBytes() ([]byte, error) {
	b, err := k.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if k.Len() == 0 {
		return b, nil
	}
	return append(b, separator), nil
}

// UnmarshalBinary decodes a key.
func (k *Key) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		k.values = nil
		return nil
	}
	k.values = strings.Split(string(b), string([]byte{separator}))
	return nil
}

// MarshalJSON marshals the key as a list of strings.
func (k *Key) MarshalJSON() ([]byte, error) {
	if k.Len() == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(k.values)
}

// UnmarshalJSON unmarshals a list of strings.
func (k *Key) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &k.values)
}

func formatPart(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	case uint64:
		return fmt.Sprintf("%020d", v)
	case uint:
		return fmt.Sprintf("%020d", v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func formatInt(v int64) string {
	if v < 0 {
		panic(fmt.Errorf("negative key part %d", v))
	}
	return fmt.Sprintf("%020d", v)
}
