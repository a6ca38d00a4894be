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

func testModel() *InformationModel {
	return NewInformationModel().LoadIANA()
}

func TestTemplateEncodeDecodeRoundTrip(t *testing.T) {
	model := testModel()
	tmpl := NewTemplate(300, model).
		Append(0, 8, 0).   // sourceIPv4Address
		Append(0, 12, 0).  // destinationIPv4Address
		Append(0, 1, 0).   // octetDeltaCount
		Append(0, 2, 0)    // packetDeltaCount

	var buf bytes.Buffer
	if _, err := EncodeTemplateSet(&buf, tmpl); err != nil {
		t.Fatalf("EncodeTemplateSet: %v", err)
	}

	sh, _, err := DecodeSetHeader(&buf)
	if err != nil {
		t.Fatalf("DecodeSetHeader: %v", err)
	}
	if sh.Id != SetIdTemplate {
		t.Fatalf("set id = %d, want %d", sh.Id, SetIdTemplate)
	}

	decoded, _, err := DecodeTemplate(&buf, TemplateKindData, model)
	if err != nil {
		t.Fatalf("DecodeTemplate: %v", err)
	}
	if decoded.Id != tmpl.Id {
		t.Errorf("id = %d, want %d", decoded.Id, tmpl.Id)
	}
	if len(decoded.Fields) != len(tmpl.Fields) {
		t.Fatalf("field count = %d, want %d", len(decoded.Fields), len(tmpl.Fields))
	}
	for i, f := range decoded.Fields {
		if f.Key != tmpl.Fields[i].Key {
			t.Errorf("field %d key = %v, want %v", i, f.Key, tmpl.Fields[i].Key)
		}
	}
}

func TestTemplateReducedLengthRoundTrip(t *testing.T) {
	model := testModel()
	// octetDeltaCount is natively unsigned64 (8 bytes); encode it
	// reduced-length to 4 bytes and confirm it round-trips.
	tmpl := NewTemplate(400, model).Append(0, 1, 4)

	rec := NewRecord(tmpl)
	rec.Values[0] = NewUnsigned64().WithLength(4)().SetValue(int(123456))

	var buf bytes.Buffer
	if _, err := rec.Encode(&buf); err != nil {
		t.Fatalf("Record.Encode: %v", err)
	}
	if buf.Len() != 4 {
		t.Fatalf("encoded length = %d, want 4", buf.Len())
	}

	session := NewSession(model)
	out := NewRecord(tmpl)
	if _, err := out.Decode(&buf, session); err != nil {
		t.Fatalf("Record.Decode: %v", err)
	}
	if got := out.Values[0].Value(); got != uint64(123456) {
		t.Errorf("decoded value = %v, want 123456", got)
	}
}

func TestTemplateRefCounting(t *testing.T) {
	model := testModel()
	tmpl := NewTemplate(500, model)
	var freed bool
	tmpl.FreeFunc = func(*Template) { freed = true }

	tmpl.Retain()
	tmpl.Release()
	if freed {
		t.Fatalf("freed too early at refcount %d", tmpl.RefCount())
	}
	tmpl.Release()
	if !freed {
		t.Fatalf("FreeFunc did not run at refcount 0")
	}
}

func TestTemplateWireLength(t *testing.T) {
	model := testModel()
	tmpl := NewTemplate(600, model).Append(0, 1, 0).Append(0, 7, 0)
	// 4 header bytes + 2 field specifiers of 4 bytes each
	if got, want := tmpl.WireLength(), uint16(4+4+4); got != want {
		t.Errorf("WireLength() = %d, want %d", got, want)
	}
}
