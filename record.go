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
	"encoding/json"
	"io"
)

// Record is a decoded (or about-to-be-encoded) Data Record or Options Data
// Record. Values holds one DataType per FieldSpec in Template.Fields, in
// the same order; each DataType already knows how to encode and decode
// itself (including its own variable-length prefix), so Record needs no
// separate byte-offset layout to pack or unpack fields.
type Record struct {
	Template *Template
	Values   []DataType
}

// NewRecord allocates an empty Record for t, with nil values ready to be
// filled in by Decode or by direct assignment before Encode.
func NewRecord(t *Template) *Record {
	return &Record{
		Template: t,
		Values:   make([]DataType, len(t.Fields)),
	}
}

// bindSession is implemented by list DataTypes that need a Session to
// resolve nested templates and Information Elements during Decode.
type bindSession interface {
	WithSession(*Session) DataTypeConstructor
}

// Decode reads one Data Record for r.Template's shape from r, using
// session to resolve structured list content. It returns the number of
// bytes consumed.
func (rec *Record) Decode(r io.Reader, session *Session) (int, error) {
	var total int
	for i, f := range rec.Template.Fields {
		onWireVarlen := f.isVariableLength() || f.isListType()

		var length uint16
		if onWireVarlen {
			l, n, err := decodeVarlenLength(r)
			total += n
			if err != nil {
				return total, newError("Record.Decode", KindInvalidIPFIX, err)
			}
			length = l
		} else {
			length = f.effectiveLength()
		}

		ctor := f.ie.Constructor
		if bs, ok := ctor().(bindSession); ok {
			ctor = bs.WithSession(session)
		}

		value := ctor().WithLength(length)()
		n, err := value.Decode(r)
		total += n
		if err != nil {
			return total, newError("Record.Decode", KindInvalidIPFIX, err)
		}
		rec.Values[i] = value
	}
	return total, nil
}

// Encode writes the Data Record to w, emitting length prefixes ahead of
// every variable-length or structured-list field.
func (rec *Record) Encode(w io.Writer) (int, error) {
	var total int
	for i, f := range rec.Template.Fields {
		value := rec.Values[i]
		onWireVarlen := f.isVariableLength() || f.isListType()
		if !onWireVarlen {
			// apply the template's own field-specifier length (possibly a
			// reduced-length override) before encoding, so the emitted
			// bytes match what a collector decoding against this same
			// template expects -- a value constructed at its type's
			// natural width otherwise encodes too wide and misaligns
			// every field after it.
			value = value.SetLength(f.effectiveLength())
		}
		if onWireVarlen {
			n, err := encodeVarlenLength(w, value.Length())
			total += n
			if err != nil {
				return total, newError("Record.Encode", KindIO, err)
			}
		}
		n, err := value.Encode(w)
		total += n
		if err != nil {
			return total, newError("Record.Encode", KindIO, err)
		}
	}
	return total, nil
}

// decodeVarlenLength reads the IPFIX variable-length prefix as per RFC
// 7011 section 7: a single byte 0..254 is the length directly; the byte
// 255 indicates the real length follows as a big-endian uint16.
func decodeVarlenLength(r io.Reader) (uint16, int, error) {
	b := make([]byte, 1)
	n, err := io.ReadFull(r, b)
	if err != nil {
		return 0, n, err
	}
	if b[0] != 0xFF {
		return uint16(b[0]), n, nil
	}
	ext := make([]byte, 2)
	m, err := io.ReadFull(r, ext)
	n += m
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(ext), n, nil
}

// encodeVarlenLength writes the IPFIX variable-length prefix for length,
// using the short (1-byte) form when length < 255 and the long (3-byte)
// form otherwise.
func encodeVarlenLength(w io.Writer, length uint16) (int, error) {
	if length < 255 {
		return w.Write([]byte{byte(length)})
	}
	b := make([]byte, 3)
	b[0] = 0xFF
	binary.BigEndian.PutUint16(b[1:], length)
	return w.Write(b)
}

// Get returns the value for the first field matching key, or nil if the
// record has no such field.
func (rec *Record) Get(key FieldKey) DataType {
	for i, f := range rec.Template.Fields {
		if f.Key == key {
			return rec.Values[i]
		}
	}
	return nil
}

// GetByName returns the value for the first field whose Information
// Element carries the given name, or nil if no such field is present.
func (rec *Record) GetByName(name string) DataType {
	for i, f := range rec.Template.Fields {
		if f.ie != nil && f.ie.Name == name {
			return rec.Values[i]
		}
	}
	return nil
}

type recordJSON struct {
	TemplateId uint16          `json:"template_id"`
	Fields     map[string]any  `json:"fields"`
	Raw        json.RawMessage `json:"-"`
}

// MarshalJSON renders the record as an object keyed by field name (or
// "enterprise/id" for fields with no resolved name).
func (rec *Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{TemplateId: rec.Template.Id, Fields: make(map[string]any, len(rec.Values))}
	for i, f := range rec.Template.Fields {
		name := f.displayName()
		if name == "" {
			name = f.Key.String()
		}
		out.Fields[name] = rec.Values[i]
	}
	return json.Marshal(out)
}
