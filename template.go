/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipfix

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// TemplateKind distinguishes a plain Template Record (set id 2) from an
// Options Template Record (set id 3).
type TemplateKind uint8

const (
	TemplateKindData TemplateKind = iota
	TemplateKindOptions
)

func (k TemplateKind) String() string {
	if k == TemplateKindOptions {
		return "options"
	}
	return "data"
}

// Reserved template ids per RFC 7011 section 3.3.2.
const (
	SetIdTemplate        uint16 = 2
	SetIdOptionsTemplate uint16 = 3
	MinimumSetId         uint16 = 256
	MinimumTemplateId    uint16 = 256
)

// TemplateMetadata carries bookkeeping that is not part of the wire format
// but is useful for observability and for distributed template stores.
type TemplateMetadata struct {
	Name                string            `json:"name,omitempty"`
	ObservationDomainId uint32            `json:"observation_domain_id,omitempty"`
	CreationTimestamp   time.Time         `json:"created,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
	Annotations         map[string]string `json:"annotations,omitempty"`
}

// FieldSpec is one field slot within a Template: a reference to an
// Information Element plus the on-wire length carried in the template's
// field specifier (0 defers to the element's natural width, 0xFFFF marks
// variable length).
type FieldSpec struct {
	Key      FieldKey
	Length   uint16
	Reversed bool

	ie *InformationElement
}

// InformationElement returns the resolved Information Element for this
// field slot, synthesizing an alien element if necessary.
func (f *FieldSpec) InformationElement() *InformationElement {
	return f.ie
}

func (f *FieldSpec) isVariableLength() bool {
	return f.Length == 0xFFFF
}

func (f *FieldSpec) isListType() bool {
	if f.ie == nil || f.ie.Constructor == nil {
		return false
	}
	switch f.ie.Constructor().Type() {
	case "basicList", "subTemplateList", "subTemplateMultiList":
		return true
	default:
		return false
	}
}

// naturalLength returns the element's default (non-reduced) wire length.
func (f *FieldSpec) naturalLength() uint16 {
	if f.ie == nil || f.ie.Constructor == nil {
		return f.Length
	}
	return f.ie.Constructor().DefaultLength()
}

// effectiveLength returns the length to use for decode/encode sizing: the
// override if one was specified, otherwise the element's natural length.
func (f *FieldSpec) effectiveLength() uint16 {
	if f.Length != 0 {
		return f.Length
	}
	return f.naturalLength()
}

func (f *FieldSpec) displayName() string {
	if f.ie == nil {
		return ""
	}
	if f.Reversed {
		return reversedName(f.ie.Name)
	}
	return f.ie.Name
}

// Template is the in-memory representation of a Template Record or Options
// Template Record: an ordered list of FieldSpecs plus the bookkeeping a
// Session needs to keep it alive across the messages that reference it.
//
// Templates are reference counted: Retain/Release let a Session, a
// MessageBuffer, and any cached transcode plan share ownership without
// needing a finalizer (whose timing Go does not guarantee), and the
// optional FreeFunc runs synchronously on the last Release.
type Template struct {
	Id         uint16
	Kind       TemplateKind
	ScopeCount uint16
	Fields     []*FieldSpec

	Metadata TemplateMetadata

	model *InformationModel

	refs int32

	// FreeFunc, if set, is invoked exactly once when the last reference is
	// released.
	FreeFunc func(*Template)
}

// NewTemplate creates an empty data Template bound to model.
func NewTemplate(id uint16, model *InformationModel) *Template {
	return &Template{
		Id:    id,
		Kind:  TemplateKindData,
		model: model,
		refs:  1,
	}
}

// NewOptionsTemplate creates an empty Options Template with scopeCount
// leading scope fields, bound to model.
func NewOptionsTemplate(id uint16, scopeCount uint16, model *InformationModel) *Template {
	return &Template{
		Id:         id,
		Kind:       TemplateKindOptions,
		ScopeCount: scopeCount,
		model:      model,
		refs:       1,
	}
}

// Append adds a field referencing (enterprise, elementId) with the given
// on-wire length override (0 for natural length, 0xFFFF for variable) to
// the end of the template and returns the template for chaining.
func (t *Template) Append(enterprise uint32, elementId uint16, length uint16) *Template {
	key := NewFieldKey(enterprise, elementId)
	ie := t.model.Lookup(key)
	t.Fields = append(t.Fields, &FieldSpec{Key: key, Length: length, ie: ie})
	return t
}

// AppendReversed is like Append but marks the field as RFC 5103 reverse
// information, resolving the prototype element at the un-reversed key.
func (t *Template) AppendReversed(elementId uint16, length uint16) *Template {
	key := NewFieldKey(0, elementId)
	ie := t.model.Lookup(key)
	t.Fields = append(t.Fields, &FieldSpec{Key: key, Length: length, Reversed: true, ie: ie})
	return t
}

// Rebind re-resolves every field's Information Element against model and
// restores the template's reference count to 1. It is used to reconstruct
// a Template decoded from a non-wire representation (e.g. JSON read back
// from a distributed ExternalTemplateStore), where the unexported ie
// pointers and refs counter do not round-trip.
func (t *Template) Rebind(model *InformationModel) *Template {
	t.model = model
	t.refs = 1
	for _, f := range t.Fields {
		key := f.Key
		if f.Reversed {
			key = NewFieldKey(0, f.Key.Id)
		}
		f.ie = model.Lookup(key)
	}
	return t
}

// Retain increments the template's reference count and returns it.
func (t *Template) Retain() *Template {
	atomic.AddInt32(&t.refs, 1)
	return t
}

// Release decrements the template's reference count. When it reaches
// zero, FreeFunc (if set) runs synchronously.
func (t *Template) Release() {
	if atomic.AddInt32(&t.refs, -1) == 0 {
		if t.FreeFunc != nil {
			t.FreeFunc(t)
		}
	}
}

// RefCount returns the current reference count, primarily for tests and
// metrics.
func (t *Template) RefCount() int32 {
	return atomic.LoadInt32(&t.refs)
}

// IsVarlen reports whether decoding a record for this template requires
// scanning (at least one field is variable-length or a structured list).
func (t *Template) IsVarlen() bool {
	for _, f := range t.Fields {
		if f.isVariableLength() || f.isListType() {
			return true
		}
	}
	return false
}

// MinimumRecordLength returns the smallest possible on-wire length of a
// data record built from this template: natural/overridden lengths for
// fixed fields, 1 byte (the short-form length prefix of an empty value)
// for each variable-length field.
func (t *Template) MinimumRecordLength() uint16 {
	var n uint16
	for _, f := range t.Fields {
		if f.isVariableLength() {
			n += 1
			continue
		}
		n += f.effectiveLength()
	}
	return n
}

// WireLength returns the length, in bytes, that encoding this template as
// a Template Record (or Options Template Record) occupies on the wire,
// including its own header.
func (t *Template) WireLength() uint16 {
	var n uint16 = 4 // templateId + field count
	if t.Kind == TemplateKindOptions {
		n += 2 // scope field count
	}
	for _, f := range t.Fields {
		n += 4
		if f.Key.IsEnterprise() || f.Reversed {
			n += 4
		}
	}
	return n
}

// HasField reports whether the template carries a field for key.
func (t *Template) HasField(key FieldKey) bool {
	for _, f := range t.Fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// Encode writes the template as a Template Record or Options Template
// Record (without the enclosing Set header) to w.
func (t *Template) Encode(w io.Writer) (int, error) {
	var written int
	hdr := make([]byte, 0, 6)
	hdr = binary.BigEndian.AppendUint16(hdr, t.Id)
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(t.Fields)))
	if t.Kind == TemplateKindOptions {
		hdr = binary.BigEndian.AppendUint16(hdr, t.ScopeCount)
	}
	n, err := w.Write(hdr)
	written += n
	if err != nil {
		return written, newError("Template.Encode", KindIO, err)
	}

	for _, f := range t.Fields {
		fb := make([]byte, 0, 8)
		id := f.Key.Id
		if f.Key.IsEnterprise() || f.Reversed {
			fb = binary.BigEndian.AppendUint16(fb, id|0x8000)
		} else {
			fb = binary.BigEndian.AppendUint16(fb, id)
		}
		fb = binary.BigEndian.AppendUint16(fb, f.Length)
		if f.Reversed {
			fb = binary.BigEndian.AppendUint32(fb, ReversePEN)
		} else if f.Key.IsEnterprise() {
			fb = binary.BigEndian.AppendUint32(fb, f.Key.Enterprise)
		}
		n, err := w.Write(fb)
		written += n
		if err != nil {
			return written, newError("Template.Encode", KindIO, err)
		}
	}
	return written, nil
}

// DecodeTemplate reads a Template Record or Options Template Record body
// (after the Set header has already identified kind via its id) from r.
// The field count is read from the record header, so no enclosing set
// length is needed.
func DecodeTemplate(r io.Reader, kind TemplateKind, model *InformationModel) (*Template, int, error) {
	var read int
	hdr := make([]byte, 4)
	n, err := io.ReadFull(r, hdr)
	read += n
	if err != nil {
		return nil, read, newError("DecodeTemplate", KindInvalidIPFIX, err)
	}
	id := binary.BigEndian.Uint16(hdr[0:2])
	fieldCount := binary.BigEndian.Uint16(hdr[2:4])

	var scopeCount uint16
	if kind == TemplateKindOptions {
		sc := make([]byte, 2)
		n, err := io.ReadFull(r, sc)
		read += n
		if err != nil {
			return nil, read, newError("DecodeTemplate", KindInvalidIPFIX, err)
		}
		scopeCount = binary.BigEndian.Uint16(sc)
	}

	if fieldCount == 0 {
		// Template withdrawal: a template record with zero fields signals
		// revocation of the named template id. Callers (Session) detect
		// this via the returned Template having no Fields.
		t := &Template{Id: id, Kind: kind, model: model, refs: 1}
		return t, read, nil
	}

	t := &Template{Id: id, Kind: kind, ScopeCount: scopeCount, model: model, refs: 1}
	for i := uint16(0); i < fieldCount; i++ {
		fb := make([]byte, 4)
		n, err := io.ReadFull(r, fb)
		read += n
		if err != nil {
			return nil, read, newError("DecodeTemplate", KindInvalidIPFIX, err)
		}
		rawId := binary.BigEndian.Uint16(fb[0:2])
		length := binary.BigEndian.Uint16(fb[2:4])
		enterpriseBit := rawId&0x8000 != 0
		elementId := rawId &^ 0x8000

		var enterprise uint32
		var reversed bool
		if enterpriseBit {
			pb := make([]byte, 4)
			n, err := io.ReadFull(r, pb)
			read += n
			if err != nil {
				return nil, read, newError("DecodeTemplate", KindInvalidIPFIX, err)
			}
			enterprise = binary.BigEndian.Uint32(pb)
			if enterprise == ReversePEN && reversible(elementId) {
				reversed = true
				enterprise = 0
			}
		}

		key := NewFieldKey(enterprise, elementId)
		ie := model.Lookup(key)
		spec := &FieldSpec{Key: key, Length: length, Reversed: reversed, ie: ie}
		if err := validateFieldLength(spec); err != nil {
			return nil, read, err
		}
		t.Fields = append(t.Fields, spec)
	}

	return t, read, nil
}

// validateFieldLength rejects field specifiers whose reduced-length
// override exceeds the element's natural width -- RFC 7011 only permits
// *reducing* the encoded width of integer, boolean, and compatible types,
// never extending it implicitly via the template.
func validateFieldLength(f *FieldSpec) error {
	if f.Length == 0 || f.Length == 0xFFFF {
		return nil
	}
	natural := f.naturalLength()
	if natural == 0 {
		// variable-length-by-nature elements (octetArray, string, lists)
		// may legitimately carry any fixed override length too.
		return nil
	}
	if f.Length > natural {
		return newError("validateFieldLength", KindInvalidLength,
			fmt.Errorf("field %s: reduced length %d exceeds natural length %d", f.Key, f.Length, natural))
	}
	return nil
}
