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
	"testing"
)

// nestedListModel returns a model carrying one enterprise-specific
// subTemplateList-typed element (id 1000), used by both the exporter and
// collector sides of the pair-map tests below.
func nestedListModel() *InformationModel {
	m := testModel()
	typ := "subTemplateList"
	m.Add(InformationElement{
		Id:          1000,
		Name:        "nestedRecords",
		Constructor: LookupConstructor(typ),
		Type:        &typ,
	})
	return m
}

// buildNestedMessage encodes one Data Record for external template A (id
// 900) carrying a subTemplateList of three member records shaped like
// external template B (id 901, fields {a: unsigned32, b: unsigned32}).
func buildNestedMessage(t *testing.T, model *InformationModel) (*Session, []byte) {
	t.Helper()
	session := NewSession(model)
	session.SetObservationDomain(1)

	tmplB := NewTemplate(901, model).Append(0, 8, 0).Append(0, 12, 0) // source/destIPv4Address as stand-ins for a/b
	session.AddTemplate(1, tmplB)

	tmplA := NewTemplate(900, model).Append(0, 1000, 0xFFFF)
	session.AddTemplate(1, tmplA)

	members := make([]*Record, 3)
	for i := range members {
		rec := NewRecord(tmplB)
		rec.Values[0] = NewIPv4Address().SetValue("192.0.2.1")
		rec.Values[1] = NewIPv4Address().SetValue("192.0.2.2")
		members[i] = rec
	}
	list := &SubTemplateList{semantic: SemanticOrdered, templateId: 901}
	list.SetValue(members)

	rec := NewRecord(tmplA)
	rec.Values[0] = list

	var body bytes.Buffer
	if _, err := EncodeDataSet(&body, tmplA.Id, []*Record{rec}); err != nil {
		t.Fatalf("EncodeDataSet: %v", err)
	}
	msgHdr := MessageHeader{Version: ProtocolVersion, Length: uint16(MessageHeaderLength + body.Len()), ObservationDomainId: 1}
	var msgBuf bytes.Buffer
	if _, err := msgHdr.Encode(&msgBuf); err != nil {
		t.Fatalf("header encode: %v", err)
	}
	msgBuf.Write(body.Bytes())
	return session, msgBuf.Bytes()
}

// TestSubTemplateListPairedDecodesMembers covers the first half of the
// pair-map behavior: pairing (B, B) decodes all three member records.
func TestSubTemplateListPairedDecodesMembers(t *testing.T) {
	model := nestedListModel()

	exportSession, wire := buildNestedMessage(t, model)
	_ = exportSession

	collectModel := nestedListModel()
	collectSession := NewSession(collectModel)
	collectSession.AddTemplate(1, NewTemplate(901, collectModel).Append(0, 8, 0).Append(0, 12, 0))
	collectSession.AddTemplate(1, NewTemplate(900, collectModel).Append(0, 1000, 0xFFFF))
	// Pairing B to itself means "decode as external, unchanged" -- no
	// separate internal template registration is required for that case.
	collectSession.Pairs.Add(901, 901)
	mb := NewMessageBuffer(collectSession, 0)

	msg, err := mb.NextMessage(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if len(msg.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(msg.Records))
	}
	list, ok := msg.Records[0].Values[0].(*SubTemplateList)
	if !ok {
		t.Fatalf("field 0 is %T, want *SubTemplateList", msg.Records[0].Values[0])
	}
	if got := len(list.Elements()); got != 3 {
		t.Fatalf("decoded %d member records, want 3", got)
	}
}

// TestSubTemplateListSkippedPairYieldsEmptyList covers the second half of
// the pair-map behavior: pairing (B, 0) decodes the same wire shape into a
// count-0 list with a nil backing slice.
func TestSubTemplateListSkippedPairYieldsEmptyList(t *testing.T) {
	model := nestedListModel()
	_, wire := buildNestedMessage(t, model)

	collectModel := nestedListModel()
	collectSession := NewSession(collectModel)
	collectSession.AddTemplate(1, NewTemplate(901, collectModel).Append(0, 8, 0).Append(0, 12, 0))
	collectSession.AddTemplate(1, NewTemplate(900, collectModel).Append(0, 1000, 0xFFFF))
	collectSession.Pairs.Add(901, 0)
	mb := NewMessageBuffer(collectSession, 0)

	msg, err := mb.NextMessage(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if len(msg.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(msg.Records))
	}
	list, ok := msg.Records[0].Values[0].(*SubTemplateList)
	if !ok {
		t.Fatalf("field 0 is %T, want *SubTemplateList", msg.Records[0].Values[0])
	}
	if got := list.Elements(); got != nil {
		t.Fatalf("decoded %d member records, want a nil (count 0) list", len(got))
	}
}

// TestSubTemplateListUnpairedDefaultsToExternal covers the "pair map is
// empty" default: with no pair ever registered, an unmapped member
// template decodes using the external shape directly.
func TestSubTemplateListUnpairedDefaultsToExternal(t *testing.T) {
	model := nestedListModel()
	_, wire := buildNestedMessage(t, model)

	collectModel := nestedListModel()
	collectSession := NewSession(collectModel)
	collectSession.AddTemplate(1, NewTemplate(901, collectModel).Append(0, 8, 0).Append(0, 12, 0))
	collectSession.AddTemplate(1, NewTemplate(900, collectModel).Append(0, 1000, 0xFFFF))
	mb := NewMessageBuffer(collectSession, 0)

	msg, err := mb.NextMessage(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	list, ok := msg.Records[0].Values[0].(*SubTemplateList)
	if !ok {
		t.Fatalf("field 0 is %T, want *SubTemplateList", msg.Records[0].Values[0])
	}
	if got := len(list.Elements()); got != 3 {
		t.Fatalf("decoded %d member records, want 3", got)
	}
}
