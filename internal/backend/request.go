// ABOUTME: Backend request and response value types plus request fingerprinting
// ABOUTME: Responses carry JSON-encoded payloads so any cache driver can store them

package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// Request is a backend operation and its parameters.
type Request struct {
	Op     string
	Params map[string]string

	// Resource groups operations that go stale together.
	Resource string

	// Mutating requests bypass the cache and invalidate Resource on success.
	Mutating bool
}

// NewRequest builds a request from alternating key, value pairs.
func NewRequest(op, resource string, kv ...string) Request {
	req := Request{Op: op, Resource: resource}
	if len(kv) > 0 {
		req.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			req.Params[kv[i]] = kv[i+1]
		}
	}
	return req
}

// Param returns a parameter value or "".
func (r Request) Param(key string) string {
	return r.Params[key]
}

// Fingerprint is a deterministic hash of the operation and parameters.
// Parameter order does not matter.
func (r Request) Fingerprint() string {
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	writeField(h, r.Op)
	for _, k := range keys {
		writeField(h, k)
		writeField(h, r.Params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes s so ("ab","c") and ("a","bc") hash differently.
func writeField(w io.Writer, s string) {
	_, _ = io.WriteString(w, strconv.Itoa(len(s)))
	_, _ = io.WriteString(w, ":")
	_, _ = io.WriteString(w, s)
}

// Response is a decoded backend result.
type Response struct {
	Op        string          `json:"op"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// NewResponse encodes v as the response payload.
func NewResponse(op string, v any) (Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{}, InvalidResponse(fmt.Errorf("encoding %s result: %w", op, err))
	}
	return Response{Op: op, Data: data, FetchedAt: time.Now()}, nil
}

// Decode unmarshals a response payload into T.
func Decode[T any](resp Response) (T, error) {
	var v T
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		return v, &Error{Kind: KindInvalidResponse, Op: resp.Op, Err: fmt.Errorf("decoding result: %w", err)}
	}
	return v, nil
}
