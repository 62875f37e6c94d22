package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"cafesync/internal/model"
)

// Wire format: a JSON object with a "type" tag and exactly one body field
// named after the kind, e.g. {"type":"catalog","catalog":[...]}.
//
// Decode tries kinds in DecodeOrder and returns the first whose tag matches
// and whose body decodes and validates.

var ErrUnrecognized = errors.New("unrecognized payload")

func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	var body any
	switch v := m.(type) {
	case CatalogUpdate:
		items := v.Items
		if items == nil {
			items = []model.CatalogItem{}
		}
		body = items
	case PresentationUpdate:
		body = v.Profile
	case OrderSubmission:
		body = v.Ticket
	case OrderStatusUpdate:
		body = v
	case StaffCallNotice:
		body = v.Call
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	kind := m.Kind()
	return json.Marshal(map[string]json.RawMessage{
		"type":       json.RawMessage(`"` + string(kind) + `"`),
		string(kind): raw,
	})
}

type decoder func(body json.RawMessage) (Message, error)

var decoders = map[Kind]decoder{
	KindOrder: func(body json.RawMessage) (Message, error) {
		var t model.OrderTicket
		if err := strictUnmarshal(body, &t); err != nil {
			return nil, err
		}
		return OrderSubmission{Ticket: t}, nil
	},
	KindPresentation: func(body json.RawMessage) (Message, error) {
		var p model.PresentationProfile
		if err := strictUnmarshal(body, &p); err != nil {
			return nil, err
		}
		return PresentationUpdate{Profile: p}, nil
	},
	KindCatalog: func(body json.RawMessage) (Message, error) {
		if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
			return nil, errors.New("null catalog")
		}
		var items []model.CatalogItem
		if err := strictUnmarshal(body, &items); err != nil {
			return nil, err
		}
		return CatalogUpdate{Items: items}, nil
	},
	KindOrderStatus: func(body json.RawMessage) (Message, error) {
		var s OrderStatusUpdate
		if err := strictUnmarshal(body, &s); err != nil {
			return nil, err
		}
		return s, nil
	},
	KindStaffCall: func(body json.RawMessage) (Message, error) {
		var c model.StaffCall
		if err := strictUnmarshal(body, &c); err != nil {
			return nil, err
		}
		return StaffCallNotice{Call: c}, nil
	},
}

func Decode(payload []byte) (Message, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	var tag Kind
	if raw, ok := env["type"]; ok {
		if err := json.Unmarshal(raw, &tag); err != nil {
			return nil, fmt.Errorf("%w: type: %v", ErrUnrecognized, err)
		}
	}
	var lastErr error
	for _, kind := range DecodeOrder {
		if tag != kind {
			continue
		}
		body, ok := env[string(kind)]
		if !ok {
			lastErr = fmt.Errorf("%s: missing body", kind)
			continue
		}
		m, err := decoders[kind](body)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", kind, err)
			continue
		}
		return m, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, lastErr)
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnrecognized, tag)
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
