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

	"github.com/abartolomey/ipfix/iana/semantics"
)

var sampleRegistryXML = []byte(`
<registry id="cert_ipfix"
          xmlns="http://www.iana.org/assignments"
          xmlns:cert="http://www.cert.org/ipfix">
  <title>CERT IPFIX Registry</title>
  <registry id="cert-information-elements">
    <record>
      <name>customCounter</name>
      <dataType>unsigned64</dataType>
      <cert:enterpriseId>6871</cert:enterpriseId>
      <elementId>13</elementId>
    </record>
    <record>
      <name>customList</name>
      <dataType>subTemplateList</dataType>
      <cert:enterpriseId>6871</cert:enterpriseId>
      <elementId>14</elementId>
    </record>
    <record>
      <name>templateId</name>
      <dataType>unsigned16</dataType>
      <reversible>true</reversible>
      <cert:enterpriseId>6871</cert:enterpriseId>
      <elementId>145</elementId>
    </record>
    <record>
      <name>octetDeltaCount</name>
      <dataType>unsigned64</dataType>
      <elementId>1</elementId>
    </record>
  </registry>
</registry>
`)

func TestReadXMLSkipsRecordsWithoutEnterpriseId(t *testing.T) {
	m, err := ReadXML(bytes.NewReader(sampleRegistryXML))
	if err != nil {
		t.Fatalf("ReadXML: %v", err)
	}
	if _, ok := m[1]; ok {
		t.Errorf("record with no enterpriseId (octetDeltaCount) should have been skipped")
	}
	if len(m) != 3 {
		t.Fatalf("got %d records, want 3", len(m))
	}
}

func TestReadXMLDefaults(t *testing.T) {
	m, err := ReadXML(bytes.NewReader(sampleRegistryXML))
	if err != nil {
		t.Fatalf("ReadXML: %v", err)
	}

	counter, ok := m[13]
	if !ok {
		t.Fatalf("customCounter (id 13) not parsed")
	}
	if counter.Semantics != semantics.Quantity {
		t.Errorf("customCounter semantics = %v, want Quantity (numeric type default)", counter.Semantics)
	}
	if !counter.Reversible {
		t.Errorf("customCounter should default to reversible (not in the exclusion list)")
	}

	list, ok := m[14]
	if !ok {
		t.Fatalf("customList (id 14) not parsed")
	}
	if list.Semantics != semantics.List {
		t.Errorf("customList semantics = %v, want List (list type default)", list.Semantics)
	}

	// id 145 (templateId) is in the non-reversible id blacklist but the
	// record explicitly sets <reversible>true</reversible>, which must win.
	explicit, ok := m[145]
	if !ok {
		t.Fatalf("templateId (id 145) not parsed")
	}
	if !explicit.Reversible {
		t.Errorf("explicit <reversible>true</reversible> must override the id blacklist default")
	}
}
