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

// subTemplateListHeaderLength is the combined size of a subTemplateList's
// semantic (1 byte) and template id (2 bytes) header fields.
const subTemplateListHeaderLength uint16 = 1 + 2

// SubTemplateList implements the subTemplateList abstract data type of RFC
// 6313: a homogeneous list of Data Records, all shaped like a single
// referenced Template, tagged with a ListSemantic.
//
// Decoding requires resolving templateId against the Session that owns the
// enclosing Message's observation domain, which is why SubTemplateList
// implements bindSession.
type SubTemplateList struct {
	semantic   ListSemantic
	templateId uint16
	length     uint16

	value []*Record

	session *Session
}

func NewDefaultSubTemplateList() DataType {
	return &SubTemplateList{semantic: SemanticUndefined}
}

// WithSession implements bindSession.
func (t *SubTemplateList) WithSession(s *Session) DataTypeConstructor {
	return func() DataType {
		return &SubTemplateList{semantic: SemanticUndefined, session: s}
	}
}

func (t *SubTemplateList) String() string {
	if t.value == nil {
		return "nil"
	}
	drs := make([]string, len(t.value))
	for i, dr := range t.value {
		drs[i] = fmt.Sprintf("%v", dr)
	}
	return fmt.Sprintf("SubTemplateList(%d,%s)[%s]", t.templateId, t.semantic, strings.Join(drs, " "))
}

func (t *SubTemplateList) Type() string {
	return "subTemplateList"
}

func (t *SubTemplateList) Value() interface{} {
	return t.value
}

func (t *SubTemplateList) SetValue(v any) DataType {
	b, ok := v.([]*Record)
	if !ok {
		panic(fmt.Errorf("%T cannot be asserted to %T", v, t.value))
	}
	t.value = b
	t.length = t.computeLength()
	return t
}

func (t *SubTemplateList) computeLength() uint16 {
	var l uint16
	for _, rec := range t.value {
		for i, f := range rec.Template.Fields {
			if f.isVariableLength() || f.isListType() {
				vl := rec.Values[i].Length()
				if vl < 255 {
					l += 1
				} else {
					l += 3
				}
				l += vl
			} else {
				l += f.effectiveLength()
			}
		}
	}
	return l + subTemplateListHeaderLength
}

func (t *SubTemplateList) Length() uint16 {
	return t.length
}

func (*SubTemplateList) DefaultLength() uint16 {
	return subTemplateListHeaderLength
}

func (t *SubTemplateList) Clone() DataType {
	vs := make([]*Record, len(t.value))
	copy(vs, t.value)
	return &SubTemplateList{
		value:      vs,
		semantic:   t.semantic,
		templateId: t.templateId,
		length:     t.length,
		session:    t.session,
	}
}

func (t *SubTemplateList) WithLength(length uint16) DataTypeConstructor {
	return func() DataType {
		return &SubTemplateList{length: length, semantic: SemanticUndefined, session: t.session}
	}
}

func (t *SubTemplateList) SetLength(length uint16) DataType {
	t.length = length
	return t
}

func (*SubTemplateList) IsReducedLength() bool {
	return false
}

func (t *SubTemplateList) SetSemantic(semantic ListSemantic) *SubTemplateList {
	t.semantic = semantic
	return t
}

func (t *SubTemplateList) Semantic() ListSemantic {
	return t.semantic
}

func (t *SubTemplateList) TemplateID() uint16 {
	return t.templateId
}

// Elements returns the decoded member records.
func (t *SubTemplateList) Elements() []*Record {
	return t.value
}

func (t *SubTemplateList) Decode(r io.Reader) (n int, err error) {
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
		return n, fmt.Errorf("failed to read template id in %T, %w", t, err)
	}
	t.templateId = binary.BigEndian.Uint16(b)

	t.value = nil

	if t.length <= subTemplateListHeaderLength {
		return n, nil
	}

	if t.session == nil {
		return n, fmt.Errorf("cannot decode %T without a bound Session", t)
	}

	tmpl, err := t.resolveTemplate()
	if err != nil {
		return n, err
	}

	content := make([]byte, t.length-subTemplateListHeaderLength)
	m, err = io.ReadFull(r, content)
	n += m
	if err != nil {
		return n, fmt.Errorf("failed to read subTemplateList content in %T, %w", t, err)
	}

	if tmpl == nil {
		// the pair map maps this member template to 0: skip entirely, per
		// the "unmapped means skip once any pair is registered" rule. The
		// bytes are already consumed above; the list decodes as empty.
		return n, nil
	}

	cr := bytes.NewReader(content)
	t.value = make([]*Record, 0)
	for cr.Len() > 0 {
		rec := NewRecord(tmpl)
		if _, err := rec.Decode(cr, t.session); err != nil {
			return n, fmt.Errorf("failed to decode sub template record in %T, %w", t, err)
		}
		t.value = append(t.value, rec)
	}

	return n, nil
}

// resolveTemplate looks up t.templateId against the bound Session's
// external template table for the session's current observation domain,
// then, if a pairing was registered for it (e.g. via
// MessageBuffer.SetInternalTemplate), returns the paired internal template
// instead so nested records decode into the caller's preferred shape.
func (t *SubTemplateList) resolveTemplate() (*Template, error) {
	external, err := t.session.GetTemplate(t.session.ObservationDomain(), t.templateId)
	if err != nil {
		return nil, err
	}
	internalId, skip := t.session.Pairs.ResolveNested(t.templateId)
	if skip {
		return nil, nil
	}
	if internalId == t.templateId {
		return external, nil
	}
	return t.session.GetInternalTemplate(internalId)
}

func (t *SubTemplateList) Encode(w io.Writer) (n int, err error) {
	b := make([]byte, 0, 3)
	b = append(b, byte(t.semantic))
	b = binary.BigEndian.AppendUint16(b, t.templateId)

	n, err = w.Write(b)
	if err != nil {
		return n, err
	}

	for _, rec := range t.value {
		rn, err := rec.Encode(w)
		n += rn
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

type subTemplateListJSON struct {
	Semantic   ListSemantic `json:"semantic"`
	TemplateId uint16       `json:"template_id"`
	Records    []*Record    `json:"records"`
}

func (t *SubTemplateList) MarshalJSON() ([]byte, error) {
	return json.Marshal(subTemplateListJSON{
		Semantic:   t.semantic,
		TemplateId: t.templateId,
		Records:    t.value,
	})
}

func (t *SubTemplateList) UnmarshalJSON(in []byte) error {
	// Round-tripping requires a Session to rebuild nested Records' field
	// types; this form is write-only, matching BasicList.
	return fmt.Errorf("subTemplateList does not support UnmarshalJSON")
}

var _ DataTypeConstructor = NewDefaultSubTemplateList
var _ DataType = &SubTemplateList{}
var _ bindSession = &SubTemplateList{}
