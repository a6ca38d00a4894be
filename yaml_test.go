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
	"os"
	"testing"
)

func TestWriteYAMLThenReadYAMLRoundTrip(t *testing.T) {
	srcFile, err := os.Open("./hack/ipfix-information-elements.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer srcFile.Close()

	m, err := ReadCSV(srcFile)
	if err != nil {
		t.Fatal(err)
	}
	ptrs := make(map[uint16]*InformationElement, len(m))
	for id, ie := range m {
		ie := ie
		ptrs[id] = &ie
	}

	var buf bytes.Buffer
	if err := WriteYAML(&buf, ptrs); err != nil {
		t.Fatal(err)
	}

	out, err := ReadYAML(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(ptrs) {
		t.Fatalf("round-tripped %d elements, want %d", len(out), len(ptrs))
	}
	if out[1].Name != "octetDeltaCount" {
		t.Errorf("element 1 name = %q, want octetDeltaCount", out[1].Name)
	}
}

func TestLoadYAMLPopulatesModel(t *testing.T) {
	srcFile, err := os.Open("./hack/ipfix-information-elements.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer srcFile.Close()

	m, err := ReadCSV(srcFile)
	if err != nil {
		t.Fatal(err)
	}
	ptrs := make(map[uint16]*InformationElement, len(m))
	for id, ie := range m {
		ie := ie
		ptrs[id] = &ie
	}

	var buf bytes.Buffer
	if err := WriteYAML(&buf, ptrs); err != nil {
		t.Fatal(err)
	}

	model := NewInformationModel()
	if err := model.LoadYAML(0, &buf); err != nil {
		t.Fatal(err)
	}

	ie, ok := model.LookupStrict(FieldKey{Enterprise: 0, Id: 1})
	if !ok {
		t.Fatal("expected element id 1 in the model after LoadYAML")
	}
	if ie.Name != "octetDeltaCount" {
		t.Errorf("name = %q, want octetDeltaCount", ie.Name)
	}
}
