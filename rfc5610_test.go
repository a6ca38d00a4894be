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

// TestRFC5610AutomaticElementInsertion exercises an end-to-end flow where
// an Exporter announces a private-enterprise Information Element's
// metadata via RFC 5610, and a Collector with automatic element insertion
// enabled learns it without a shared out-of-band registry.
func TestRFC5610AutomaticElementInsertion(t *testing.T) {
	exportModel := testModel()
	exportModel.Add(InformationElement{
		Name:         "sampleElement",
		EnterpriseId: 99999,
		Id:           1000,
		Constructor:  NewUnsigned32,
	})

	exportSession := NewSession(exportModel)
	mb := NewMessageBuffer(exportSession, 0)
	mb.EnableElementTypeExport(999)

	var wire bytes.Buffer
	if _, err := mb.Emit(&wire); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	collectModel := NewInformationModel().LoadIANA()
	collectSession := NewSession(collectModel)
	cmb := NewMessageBuffer(collectSession, 0)
	cmb.EnableAutomaticElementInsertion()

	if _, err := cmb.NextMessage(&wire); err != nil {
		t.Fatalf("NextMessage: %v", err)
	}

	ie, ok := collectModel.LookupStrict(NewFieldKey(99999, 1000))
	if !ok {
		t.Fatalf("(99999, 1000) not learned by the collector")
	}
	if ie.Name != "sampleElement" {
		t.Errorf("name = %q, want %q", ie.Name, "sampleElement")
	}
	if ie.Type == nil || *ie.Type != "unsigned32" {
		t.Errorf("type = %v, want unsigned32", ie.Type)
	}
}

// TestRFC5610AutomaticElementInsertionDisabledByDefault confirms that a
// Collector which never calls EnableAutomaticElementInsertion does not
// mutate its InformationModel from RFC 5610 Options Data Records.
func TestRFC5610AutomaticElementInsertionDisabledByDefault(t *testing.T) {
	exportModel := testModel()
	exportModel.Add(InformationElement{
		Name:         "sampleElement",
		EnterpriseId: 99999,
		Id:           1000,
		Constructor:  NewUnsigned32,
	})
	exportSession := NewSession(exportModel)
	mb := NewMessageBuffer(exportSession, 0)
	mb.EnableElementTypeExport(999)

	var wire bytes.Buffer
	if _, err := mb.Emit(&wire); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	collectModel := NewInformationModel().LoadIANA()
	collectSession := NewSession(collectModel)
	cmb := NewMessageBuffer(collectSession, 0)

	if _, err := cmb.NextMessage(&wire); err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if _, ok := collectModel.LookupStrict(NewFieldKey(99999, 1000)); ok {
		t.Fatalf("(99999, 1000) learned despite automatic element insertion being disabled")
	}
}

// TestRFC5610OptionsDataDoesNotAdvanceSequence checks that an Options Data
// Set must not advance the session sequence number.
func TestRFC5610OptionsDataDoesNotAdvanceSequence(t *testing.T) {
	model := testModel()
	model.Add(InformationElement{Name: "x", EnterpriseId: 99999, Id: 1, Constructor: NewUnsigned32})
	session := NewSession(model)
	mb := NewMessageBuffer(session, 0)
	mb.EnableElementTypeExport(999)

	if got := session.SequenceNumber(0); got != 0 {
		t.Fatalf("sequence before Emit = %d, want 0", got)
	}

	var wire bytes.Buffer
	if _, err := mb.Emit(&wire); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := session.SequenceNumber(0); got != 0 {
		t.Errorf("sequence after an options-only Emit = %d, want 0", got)
	}
}
