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

// subTemplateMultiListEntryHeaderLength is the size of one member group's
// header within a subTemplateMultiList: template id (2 bytes) and the
// content length of that group's records (2 bytes).
const subTemplateMultiListEntryHeaderLength uint16 = 2 + 2

// subTemplateMultiListGroup is one member of a SubTemplateMultiList: every
// Record sharing a single referenced Template.
type subTemplateMultiListGroup struct {
	TemplateId uint16
	Records    []*Record
}

func (g *subTemplateMultiListGroup) contentLength() uint16 {
	var l uint16
	for _, rec := range g.Records {
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
	return l
}

func (g *subTemplateMultiListGroup) String() string {
	drs := make([]string, len(g.Records))
	for i, dr := range g.Records {
		drs[i] = fmt.Sprintf("%v", dr)
	}
	return fmt.Sprintf("SubTemplate(%d)[%s]", g.TemplateId, strings.Join(drs, " "))
}

// SubTemplateMultiList implements the subTemplateMultiList abstract data
// type of RFC 6313: a list of Data Record groups, each group shaped like a
// (possibly different) referenced Template, tagged with a single
// ListSemantic for the whole list.
type SubTemplateMultiList struct {
	semantic ListSemantic
	length   uint16

	value []*subTemplateMultiListGroup

	session *Session
}

func NewDefaultSubTemplateMultiList() DataType {
	return &SubTemplateMultiList{semantic: SemanticUndefined}
}

// WithSession implements bindSession.
func (t *SubTemplateMultiList) WithSession(s *Session) DataTypeConstructor {
	return func() DataType {
		return &SubTemplateMultiList{semantic: SemanticUndefined, session: s}
	}
}

func (t *SubTemplateMultiList) String() string {
	if t.value == nil {
		return "nil"
	}
	stl := make([]string, len(t.value))
	for i, st := range t.value {
		stl[i] = st.String()
	}
	return fmt.Sprintf("SubTemplateMultiList(%s)[%s]", t.semantic, strings.Join(stl, " "))
}

func (t *SubTemplateMultiList) Type() string {
	return "subTemplateMultiList"
}

func (t *SubTemplateMultiList) Value() interface{} {
	return t.value
}

func (t *SubTemplateMultiList) SetValue(v any) DataType {
	b, ok := v.([]*subTemplateMultiListGroup)
	if !ok {
		panic(fmt.Errorf("%T cannot be asserted to %T", v, t.value))
	}
	t.value = b
	t.length = t.computeLength()
	return t
}

func (t *SubTemplateMultiList) computeLength() uint16 {
	var l uint16
	for _, g := range t.value {
		l += subTemplateMultiListEntryHeaderLength + g.contentLength()
	}
	return l + 1
}

func (t *SubTemplateMultiList) Length() uint16 {
	return t.length
}

func (*SubTemplateMultiList) DefaultLength() uint16 {
	return 1
}

func (t *SubTemplateMultiList) Clone() DataType {
	vs := make([]*subTemplateMultiListGroup, len(t.value))
	copy(vs, t.value)
	return &SubTemplateMultiList{
		semantic: t.semantic,
		length:   t.length,
		value:    vs,
		session:  t.session,
	}
}

func (t *SubTemplateMultiList) WithLength(length uint16) DataTypeConstructor {
	return func() DataType {
		return &SubTemplateMultiList{length: length, semantic: SemanticUndefined, session: t.session}
	}
}

func (t *SubTemplateMultiList) SetLength(length uint16) DataType {
	t.length = length
	return t
}

func (*SubTemplateMultiList) IsReducedLength() bool {
	return false
}

func (t *SubTemplateMultiList) SetSemantic(semantic ListSemantic) *SubTemplateMultiList {
	t.semantic = semantic
	return t
}

func (t *SubTemplateMultiList) Semantic() ListSemantic {
	return t.semantic
}

// Elements returns the decoded member groups, one per referenced Template.
func (t *SubTemplateMultiList) Elements() []*subTemplateMultiListGroup {
	return t.value
}

func (t *SubTemplateMultiList) Decode(r io.Reader) (n int, err error) {
	b := make([]byte, 1)
	m, err := io.ReadFull(r, b)
	n += m
	if err != nil {
		return n, fmt.Errorf("failed to read list semantic in %T, %w", t, err)
	}
	t.semantic = ListSemantic(b[0])

	t.value = make([]*subTemplateMultiListGroup, 0)

	if t.length <= 1 {
		return n, nil
	}

	if t.session == nil {
		return n, fmt.Errorf("cannot decode %T without a bound Session", t)
	}

	content := make([]byte, t.length-1)
	m, err = io.ReadFull(r, content)
	n += m
	if err != nil {
		return n, fmt.Errorf("failed to read subTemplateMultiList content in %T, %w", t, err)
	}
	cr := bytes.NewReader(content)

	for cr.Len() > 0 {
		hdr := make([]byte, subTemplateMultiListEntryHeaderLength)
		if _, err := io.ReadFull(cr, hdr); err != nil {
			return n, fmt.Errorf("failed to read sub template group header in %T, %w", t, err)
		}
		templateId := binary.BigEndian.Uint16(hdr[0:2])
		groupLength := binary.BigEndian.Uint16(hdr[2:4])

		tmpl, err := t.resolveTemplate(templateId)
		if err != nil {
			return n, err
		}

		groupContent := make([]byte, groupLength)
		if _, err := io.ReadFull(cr, groupContent); err != nil {
			return n, fmt.Errorf("failed to read sub template group content in %T, %w", t, err)
		}

		group := &subTemplateMultiListGroup{TemplateId: templateId}
		if tmpl != nil {
			// tmpl == nil means the pair map maps this member template to
			// 0: skip entirely, leaving this group's Records empty. The
			// bytes are already consumed above.
			gr := bytes.NewReader(groupContent)
			for gr.Len() > 0 {
				rec := NewRecord(tmpl)
				if _, err := rec.Decode(gr, t.session); err != nil {
					return n, fmt.Errorf("failed to decode sub template record in %T, %w", t, err)
				}
				group.Records = append(group.Records, rec)
			}
		}
		t.value = append(t.value, group)
	}

	return n, nil
}

func (t *SubTemplateMultiList) resolveTemplate(templateId uint16) (*Template, error) {
	external, err := t.session.GetTemplate(t.session.ObservationDomain(), templateId)
	if err != nil {
		return nil, err
	}
	internalId, skip := t.session.Pairs.ResolveNested(templateId)
	if skip {
		return nil, nil
	}
	if internalId == templateId {
		return external, nil
	}
	return t.session.GetInternalTemplate(internalId)
}

func (t *SubTemplateMultiList) Encode(w io.Writer) (n int, err error) {
	m, err := w.Write([]byte{byte(t.semantic)})
	n += m
	if err != nil {
		return n, err
	}

	for _, g := range t.value {
		hdr := make([]byte, subTemplateMultiListEntryHeaderLength)
		binary.BigEndian.PutUint16(hdr[0:2], g.TemplateId)
		binary.BigEndian.PutUint16(hdr[2:4], g.contentLength())
		hn, err := w.Write(hdr)
		n += hn
		if err != nil {
			return n, err
		}
		for _, rec := range g.Records {
			rn, err := rec.Encode(w)
			n += rn
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

type subTemplateMultiListGroupJSON struct {
	TemplateId uint16    `json:"template_id"`
	Records    []*Record `json:"records"`
}

type subTemplateMultiListJSON struct {
	Semantic ListSemantic                    `json:"semantic"`
	Groups   []subTemplateMultiListGroupJSON `json:"groups"`
}

func (t *SubTemplateMultiList) MarshalJSON() ([]byte, error) {
	groups := make([]subTemplateMultiListGroupJSON, len(t.value))
	for i, g := range t.value {
		groups[i] = subTemplateMultiListGroupJSON{TemplateId: g.TemplateId, Records: g.Records}
	}
	return json.Marshal(subTemplateMultiListJSON{Semantic: t.semantic, Groups: groups})
}

func (t *SubTemplateMultiList) UnmarshalJSON(in []byte) error {
	// Round-tripping requires a Session to rebuild nested Records' field
	// types; this form is write-only, matching BasicList.
	return fmt.Errorf("subTemplateMultiList does not support UnmarshalJSON")
}

var _ DataTypeConstructor = NewDefaultSubTemplateMultiList
var _ DataType = &SubTemplateMultiList{}
var _ bindSession = &SubTemplateMultiList{}
