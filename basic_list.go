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
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

var penMask = uint16(0x8000)

// basicListMinimumHeaderLength is the combined size of a basicList's
// semantic (1 byte), field id (2 bytes), and element length (2 bytes)
// header fields, before any private enterprise number.
const basicListMinimumHeaderLength uint16 = 1 + 2 + 2

// BasicList implements the basicList abstract data type of RFC 6313: a
// homogeneous list of values of a single Information Element, tagged with
// a ListSemantic describing how its members relate to the containing Data
// Record.
//
// Decoding a basicList requires resolving its field id against an
// InformationModel, which is why BasicList implements bindSession: a
// Record.Decode binds the Session in before constructing list values.
type BasicList struct {
	semantic      ListSemantic
	key           FieldKey
	elementLength uint16
	length        uint16

	value []DataType

	session *Session
}

func NewBasicList() DataType {
	return &BasicList{semantic: SemanticUndefined}
}

// WithSession implements bindSession.
func (t *BasicList) WithSession(s *Session) DataTypeConstructor {
	return func() DataType {
		return &BasicList{semantic: SemanticUndefined, session: s}
	}
}

func (t *BasicList) String() string {
	if t.value == nil {
		return "nil"
	}
	s := make([]string, len(t.value))
	for i, el := range t.value {
		s[i] = el.String()
	}
	return "[" + strings.Join(s, " ") + "]"
}

func (t *BasicList) Type() string {
	typ := ""
	if len(t.value) > 0 && t.value[0] != nil {
		typ = "<" + t.value[0].Type() + ">"
	}
	return "basicList" + typ
}

func (t *BasicList) Value() interface{} {
	return t.value
}

func (t *BasicList) SetValue(v any) DataType {
	b, ok := v.([]DataType)
	if !ok {
		panic(fmt.Errorf("%T cannot be asserted to %T", v, t.value))
	}
	t.value = b
	var l uint16
	for _, e := range b {
		l += e.Length()
	}
	t.length = l
	return t
}

func (t *BasicList) Length() uint16 {
	return t.length
}

func (*BasicList) DefaultLength() uint16 {
	return 0
}

func (t *BasicList) Clone() DataType {
	dv := make([]DataType, len(t.value))
	for i, el := range t.value {
		dv[i] = el.Clone()
	}
	return &BasicList{
		value:         dv,
		semantic:      t.semantic,
		key:           t.key,
		elementLength: t.elementLength,
		length:        t.length,
		session:       t.session,
	}
}

func (t *BasicList) WithLength(length uint16) DataTypeConstructor {
	return func() DataType {
		return &BasicList{length: length, semantic: SemanticUndefined, session: t.session}
	}
}

func (t *BasicList) SetLength(length uint16) DataType {
	t.length = length
	return t
}

func (*BasicList) IsReducedLength() bool {
	return false
}

func (t *BasicList) Semantic() ListSemantic { return t.semantic }

func (t *BasicList) SetSemantic(s ListSemantic) *BasicList {
	t.semantic = s
	return t
}

// Elements returns the decoded list members.
func (t *BasicList) Elements() []DataType {
	return t.value
}

func (t *BasicList) Decode(r io.Reader) (n int, err error) {
	headerLength := basicListMinimumHeaderLength

	b := make([]byte, 1)
	m, err := io.ReadFull(r, b)
	n += m
	if err != nil {
		return n, fmt.Errorf("failed to read list semantic in %T, %w", t, err)
	}
	t.semantic = ListSemantic(b[0])

	b = make([]byte, 2)
	m, err = io.ReadFull(r, b)
	n += m
	if err != nil {
		return n, fmt.Errorf("failed to read field id in %T, %w", t, err)
	}
	rawFieldId := binary.BigEndian.Uint16(b)
	isEnterprise := rawFieldId&penMask != 0
	fieldId := rawFieldId &^ penMask

	b = make([]byte, 2)
	m, err = io.ReadFull(r, b)
	n += m
	if err != nil {
		return n, fmt.Errorf("failed to read element length in %T, %w", t, err)
	}
	t.elementLength = binary.BigEndian.Uint16(b)

	var enterprise uint32
	if isEnterprise {
		b = make([]byte, 4)
		m, err = io.ReadFull(r, b)
		n += m
		if err != nil {
			return n, fmt.Errorf("failed to read pen in %T, %w", t, err)
		}
		enterprise = binary.BigEndian.Uint32(b)
		if enterprise == ReversePEN && reversible(fieldId) {
			enterprise = 0
		}
		headerLength += 4
	}
	t.key = NewFieldKey(enterprise, fieldId)

	var model *InformationModel
	if t.session != nil {
		model = t.session.InformationModel()
	} else {
		model = NewInformationModel().LoadIANA()
	}
	ie := model.Lookup(t.key)

	contentLength := int(t.length) - int(headerLength)
	if contentLength < 0 {
		return n, fmt.Errorf("basicList declared length %d shorter than its own header", t.length)
	}
	content := make([]byte, contentLength)
	m, err = io.ReadFull(r, content)
	n += m
	if err != nil {
		return n, fmt.Errorf("failed to read basicList content, %w", err)
	}
	cr := bytes.NewReader(content)

	t.value = make([]DataType, 0)
	for cr.Len() > 0 {
		var elLen uint16
		if t.elementLength == 0xFFFF {
			l, _, err := decodeVarlenLength(cr)
			if err != nil {
				return n, fmt.Errorf("error while reading variable element length in %T, %w", t, err)
			}
			elLen = l
		} else {
			elLen = t.elementLength
		}
		el := ie.Constructor().WithLength(elLen)()
		if _, err := el.Decode(cr); err != nil {
			return n, fmt.Errorf("error while decoding list element %d in %T, %w", len(t.value), t, err)
		}
		t.value = append(t.value, el)
	}

	return n, nil
}

func (t *BasicList) Encode(w io.Writer) (n int, err error) {
	b := make([]byte, 0, 9)
	b = append(b, byte(t.semantic))
	if t.key.IsEnterprise() {
		b = binary.BigEndian.AppendUint16(b, penMask|t.key.Id)
	} else {
		b = binary.BigEndian.AppendUint16(b, t.key.Id)
	}
	b = binary.BigEndian.AppendUint16(b, t.elementLength)
	if t.key.IsEnterprise() {
		b = binary.BigEndian.AppendUint32(b, t.key.Enterprise)
	}

	n, err = w.Write(b)
	if err != nil {
		return n, err
	}

	for _, el := range t.value {
		if t.elementLength == 0xFFFF {
			ln, err := encodeVarlenLength(w, el.Length())
			n += ln
			if err != nil {
				return n, err
			}
		}
		m, err := el.Encode(w)
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

type basicListJSON struct {
	Semantic ListSemantic    `json:"semantic"`
	FieldId  uint16          `json:"field_id"`
	PEN      uint32          `json:"pen,omitempty"`
	Elements []DataType      `json:"elements"`
}

func (t *BasicList) MarshalJSON() ([]byte, error) {
	return json.Marshal(basicListJSON{
		Semantic: t.semantic,
		FieldId:  t.key.Id,
		PEN:      t.key.Enterprise,
		Elements: t.value,
	})
}

func (t *BasicList) UnmarshalJSON(in []byte) error {
	// Round-tripping a basicList from JSON requires knowing each element's
	// concrete type, which the JSON form erases; this direction is
	// write-only.
	return fmt.Errorf("basicList does not support UnmarshalJSON")
}

var _ DataTypeConstructor = NewBasicList
var _ DataType = &BasicList{}
var _ bindSession = &BasicList{}
