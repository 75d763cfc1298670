package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxRequestSize is the default limit for a request body.
const DefaultMaxRequestSize = 1 << 20 // 1MB

// ErrRequestTooLarge is returned when a request body exceeds the size limit.
var ErrRequestTooLarge = errors.New("protocol: request too large")

// DecodeRequest reads one request from r. At most maxSize bytes are read;
// maxSize <= 0 uses DefaultMaxRequestSize. An empty body decodes as a ping.
// Every failure is an *Error with code ErrBadRequest.
func DecodeRequest(r io.Reader, maxSize int64) (*Request, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, Wrap(ErrBadRequest, "decode", err)
	}
	if int64(len(data)) > maxSize {
		return nil, Wrap(ErrBadRequest, "decode", ErrRequestTooLarge)
	}
	return DecodeRequestBytes(data)
}

// DecodeRequestBytes decodes one request from data.
func DecodeRequestBytes(data []byte) (*Request, error) {
	req := &Request{}
	if len(bytes.TrimSpace(data)) == 0 {
		req.Kind = KindPing
		return req, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(req); err != nil {
		return nil, Wrap(ErrBadRequest, "decode", err)
	}

	if req.Kind == "" {
		if req.Session == "" {
			req.Kind = KindPing
		} else {
			req.Kind = KindEvent
		}
	}
	if !req.Kind.Valid() {
		return nil, Errorf(ErrBadRequest, "decode", "unknown request kind %q", req.Kind)
	}
	if req.Kind == KindEvent && req.Session != "" && req.Target == "" {
		return nil, Errorf(ErrBadRequest, "decode", "event request without target")
	}
	return req, nil
}

// EncodeResponse writes resp as JSON to w.
func EncodeResponse(w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("protocol: encode response: %w", err)
	}
	_, err = w.Write(data)
	return err
}
