// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"

	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
)

// SignatureHeader carries the processor's signature of a notification.
const SignatureHeader = "X-Nowpayments-Sig"

// Sign returns the hex HMAC-SHA512 of a notification body. The body is
// signed in canonical form: object keys sorted at every level, no
// whitespace, and numbers as sent.
func Sign(secret string, body []byte) (string, error) {
	sum, err := signature(secret, body)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func signature(secret string, body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	if err != nil {
		return nil, errors.BadRequest.WithFormat("invalid notification body: %w", err)
	}

	// Maps are encoded with sorted keys
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err = enc.Encode(v)
	if err != nil {
		return nil, errors.BadRequest.WithFormat("encode notification body: %w", err)
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return mac.Sum(nil), nil
}
