package ir

import (
	"fmt"
	"regexp"
	"time"
)

// CanonicalStatus is the normalized enumeration value a raw status maps to.
type CanonicalStatus string

// RequestType is the fixed enumeration tag a writer stamps on every record
// it derives (e.g. "WITHDRAWAL").
type RequestType string

var enumTagPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidEnumTag reports whether s is an upper snake case enumeration tag.
func ValidEnumTag(s string) bool {
	return enumTagPattern.MatchString(s)
}

// Validate checks the request type is a well-formed enumeration tag.
func (rt RequestType) Validate() error {
	if !ValidEnumTag(string(rt)) {
		return fmt.Errorf("invalid request type %q: must be UPPER_SNAKE_CASE", string(rt))
	}
	return nil
}

// DerivedRecord is the normalized audit/transaction record synthesized from a
// mutated row. It is written exactly once and never updated.
type DerivedRecord struct {
	// Key is the identifying key copied from the source row's NEW image.
	Key string `json:"key"`

	// SourceTable is the table whose mutation produced this record.
	SourceTable string `json:"source_table"`

	RequestType RequestType     `json:"request_type"`
	Status      CanonicalStatus `json:"status"`

	// Platform is the enum-cast platform value; empty means unset.
	Platform string `json:"platform,omitempty"`

	// Payload is canonical JSON text; empty means the source value was NULL.
	Payload string `json:"payload,omitempty"`

	// Passthrough holds declared columns copied verbatim as text.
	Passthrough map[string]string `json:"passthrough,omitempty"`

	// ActorID is empty when the acting party is the automated subsystem.
	ActorID string `json:"actor_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// TxnID identifies the transaction the record was written in.
	TxnID string `json:"txn_id"`
}

// contentObject is the canonical object the digest covers.
func (r DerivedRecord) contentObject() Object {
	obj := Object{
		"key":          String(r.Key),
		"source_table": String(r.SourceTable),
		"request_type": String(r.RequestType),
		"status":       String(r.Status),
	}
	if r.Platform != "" {
		obj["platform"] = String(r.Platform)
	}
	if r.Payload != "" {
		obj["payload"] = String(r.Payload)
	}
	if r.ActorID != "" {
		obj["actor_id"] = String(r.ActorID)
	}
	if len(r.Passthrough) > 0 {
		pt := make(Object, len(r.Passthrough))
		for k, v := range r.Passthrough {
			pt[k] = String(v)
		}
		obj["passthrough"] = pt
	}
	return obj
}

// CanonicalObject returns the full record, timestamps included, as an Object
// suitable for canonical JSON. Timestamps render as RFC 3339 UTC.
func (r DerivedRecord) CanonicalObject() Object {
	obj := r.contentObject()
	obj["created_at"] = String(r.CreatedAt.UTC().Format(time.RFC3339Nano))
	obj["updated_at"] = String(r.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if r.TxnID != "" {
		obj["txn_id"] = String(r.TxnID)
	}
	return obj
}
