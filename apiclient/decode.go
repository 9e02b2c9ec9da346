package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// Do executes d and decodes the response body into T.
//
// JSON responses are unmarshalled. Text responses decode into string or
// []byte. Any other content type decodes only into []byte. An empty
// response yields the zero T with Empty set.
func Do[T any](ctx context.Context, c *Client, d Descriptor) Result[T] {
	return Decode[T](c.Execute(ctx, d))
}

// Decode converts a raw result into a typed one.
func Decode[T any](raw Result[Payload]) Result[T] {
	out := Result[T]{Status: raw.Status, Header: raw.Header, Empty: raw.Empty, Err: raw.Err}
	if raw.Err != nil || raw.Empty {
		return out
	}
	if err := decodePayload(raw.Value, &out.Value); err != nil {
		out.Err = newError(KindParse, raw.Status, err)
	}
	return out
}

func decodePayload[T any](p Payload, dst *T) error {
	switch v := any(dst).(type) {
	case *Payload:
		*v = p
		return nil
	case *[]byte:
		*v = p.Body
		return nil
	case *json.RawMessage:
		if !isJSON(p.ContentType) {
			return fmt.Errorf("content type %q is not JSON", p.ContentType)
		}
		*v = json.RawMessage(p.Body)
		return nil
	case *string:
		if isText(p.ContentType) || isJSON(p.ContentType) {
			*v = string(p.Body)
			return nil
		}
		return fmt.Errorf("content type %q is not text", p.ContentType)
	}

	if !isJSON(p.ContentType) {
		return fmt.Errorf("content type %q is not JSON", p.ContentType)
	}
	return json.Unmarshal(p.Body, dst)
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func isJSON(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func isText(contentType string) bool {
	return strings.HasPrefix(mediaType(contentType), "text/")
}
