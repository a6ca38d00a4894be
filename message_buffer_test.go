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
	"errors"
	"testing"
)

func TestMessageBufferExportReimportRoundTrip(t *testing.T) {
	exportModel := testModel()
	exportSession := NewSession(exportModel)
	exportSession.SetObservationDomain(7)
	mb := NewMessageBuffer(exportSession, 0)

	tmpl := NewTemplate(0, exportModel).Append(0, 8, 0).Append(0, 12, 0).Append(0, 1, 0)
	tmpl = mb.SetExportTemplate(tmpl)

	rec := NewRecord(tmpl)
	rec.Values[0] = NewIPv4Address().SetValue("10.0.0.1")
	rec.Values[1] = NewIPv4Address().SetValue("10.0.0.2")
	rec.Values[2] = NewUnsigned64().SetValue(1500)
	if err := mb.Append(tmpl.Id, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var wire bytes.Buffer
	if _, err := mb.Emit(&wire); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	collectModel := testModel()
	collectSession := NewSession(collectModel)
	cmb := NewMessageBuffer(collectSession, 0)

	msg, err := cmb.NextMessage(&wire)
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if len(msg.NewTemplates) != 1 {
		t.Fatalf("got %d new templates, want 1", len(msg.NewTemplates))
	}
	if len(msg.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(msg.Records))
	}
	if got := msg.Records[0].Values[2].Value(); got != uint64(1500) {
		t.Errorf("octetDeltaCount = %v, want 1500", got)
	}
}

func TestMessageBufferTemplateWithdrawal(t *testing.T) {
	model := testModel()
	session := NewSession(model)
	session.SetObservationDomain(1)
	mb := NewMessageBuffer(session, 0)

	tmpl := NewTemplate(1000, model).Append(0, 1, 0)
	session.AddTemplate(1, tmpl)
	session.AddInternalTemplate(tmpl)

	withdrawal := &Template{Id: 1000, Kind: TemplateKindData}

	var wire bytes.Buffer
	if _, err := EncodeTemplateSet(&wire, withdrawal); err != nil {
		t.Fatalf("EncodeTemplateSet: %v", err)
	}
	hdr := MessageHeader{Version: ProtocolVersion, Length: uint16(MessageHeaderLength + wire.Len()), ObservationDomainId: 1}
	var msgBuf bytes.Buffer
	if _, err := hdr.Encode(&msgBuf); err != nil {
		t.Fatalf("header encode: %v", err)
	}
	msgBuf.Write(wire.Bytes())

	out, err := mb.NextMessage(&msgBuf)
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if len(out.Withdrawn) != 1 || out.Withdrawn[0] != 1000 {
		t.Fatalf("Withdrawn = %v, want [1000]", out.Withdrawn)
	}
	if _, err := session.GetTemplate(1, 1000); err == nil {
		t.Fatalf("template 1000 still registered after withdrawal")
	}
}

func TestMessageBufferMissingTemplate(t *testing.T) {
	model := testModel()
	session := NewSession(model)
	mb := NewMessageBuffer(session, 0)

	var body bytes.Buffer
	hdr := SetHeader{Id: 999, Length: SetHeaderLength + 4}
	hdr.Encode(&body)
	body.Write([]byte{0, 0, 0, 0})

	msgHdr := MessageHeader{Version: ProtocolVersion, Length: uint16(MessageHeaderLength + body.Len())}
	var msgBuf bytes.Buffer
	msgHdr.Encode(&msgBuf)
	msgBuf.Write(body.Bytes())

	_, err := mb.NextMessage(&msgBuf)
	if err == nil {
		t.Fatalf("expected KindMissingTemplate error")
	}
	var ipfixErr *Error
	if !errors.As(err, &ipfixErr) || ipfixErr.Kind != KindMissingTemplate {
		t.Fatalf("got %v, want KindMissingTemplate", err)
	}
}

func TestMessageBufferInternalTemplatePairing(t *testing.T) {
	model := testModel()
	session := NewSession(model)
	session.SetObservationDomain(1)
	mb := NewMessageBuffer(session, 0)

	external := NewTemplate(2000, model).Append(0, 8, 0).Append(0, 1, 0)
	session.AddTemplate(1, external)

	// the internal template the caller actually wants, with fields
	// reordered relative to the wire template: the Transcoder must match
	// by FieldKey, not position.
	internal := NewTemplate(2000, model).Append(0, 1, 0).Append(0, 8, 0)
	mb.SetInternalTemplate(2000, internal)

	rec := NewRecord(external)
	rec.Values[0] = NewIPv4Address().SetValue("192.0.2.1")
	rec.Values[1] = NewUnsigned64().SetValue(42)

	var body bytes.Buffer
	EncodeDataSet(&body, 2000, []*Record{rec})

	msgHdr := MessageHeader{Version: ProtocolVersion, Length: uint16(MessageHeaderLength + body.Len()), ObservationDomainId: 1}
	var msgBuf bytes.Buffer
	msgHdr.Encode(&msgBuf)
	msgBuf.Write(body.Bytes())

	out, err := mb.NextMessage(&msgBuf)
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(out.Records))
	}
	got := out.Records[0]
	if got.Template.Id != internal.Id {
		t.Fatalf("transcoded into template %d, want %d", got.Template.Id, internal.Id)
	}
	if v := got.Values[0].Value(); v != uint64(42) {
		t.Errorf("octetDeltaCount = %v, want 42", v)
	}
	if v := got.Values[1].Value().(string); v == "" {
		t.Errorf("sourceIPv4Address transcoded empty")
	}
}
