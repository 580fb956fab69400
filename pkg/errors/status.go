// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is a request status code. Codes line up with HTTP status codes so
// the API can use them directly.
type Status uint64

const (
	// OK means the request succeeded.
	OK Status = 200

	// BadRequest means the input was malformed or out of range.
	BadRequest Status = 400

	// InsufficientBalance means the user's balance cannot cover the request.
	InsufficientBalance Status = 402

	// NotAllowed means the operation is not permitted, such as writing to a
	// read-only batch.
	NotAllowed Status = 403

	// NotFound means the user, stake or transaction does not exist.
	NotFound Status = 404

	// Conflict means the request conflicts with existing state, such as a
	// duplicate registration.
	Conflict Status = 409

	// AlreadyClosed means the stake has already been closed.
	AlreadyClosed Status = 410

	// InternalError means something went wrong that is not the caller's
	// fault.
	InternalError Status = 500

	// BadGateway means an external collaborator (the payment gateway)
	// failed.
	BadGateway Status = 502

	// StorageError means the store failed. Storage errors are transient.
	StorageError Status = 503

	// NotReady means the store has been closed or is not yet open.
	NotReady Status = 504

	// UnknownError is used when an error has not been classified.
	UnknownError Status = 520
)

var statusNames = map[Status]string{
	OK:                  "ok",
	BadRequest:          "badRequest",
	InsufficientBalance: "insufficientBalance",
	NotAllowed:          "notAllowed",
	NotFound:            "notFound",
	Conflict:            "conflict",
	AlreadyClosed:       "alreadyClosed",
	InternalError:       "internalError",
	BadGateway:          "badGateway",
	StorageError:        "storageError",
	NotReady:            "notReady",
	UnknownError:        "unknownError",
}

// String returns the name of the status.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status:%d", uint64(s))
}

// StatusByName returns the status with the given name.
func StatusByName(name string) (Status, bool) {
	for s, n := range statusNames {
		if strings.EqualFold(n, name) {
			return s, true
		}
	}
	return 0, false
}

// MarshalJSON marshals the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts a status name or number.
func (s *Status) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		v, err := strconv.ParseUint(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid status %s", b)
		}
		*s = Status(v)
		return nil
	}

	v, ok := StatusByName(str)
	if !ok {
		return fmt.Errorf("invalid status %q", str)
	}
	*s = v
	return nil
}
