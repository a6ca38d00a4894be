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
	"os"
	"testing"
)

func TestReadCSV(t *testing.T) {
	srcFile, err := os.Open("./hack/ipfix-information-elements.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer srcFile.Close()

	m, err := ReadCSV(srcFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) == 0 {
		t.Fatal("ReadCSV returned no elements")
	}

	octetDeltaCount, ok := m[1]
	if !ok {
		t.Fatal("expected element id 1 (octetDeltaCount) in the bundled registry")
	}
	if octetDeltaCount.Name != "octetDeltaCount" {
		t.Errorf("element 1 name = %q, want octetDeltaCount", octetDeltaCount.Name)
	}
}

func TestLoadCSVPopulatesModel(t *testing.T) {
	srcFile, err := os.Open("./hack/ipfix-information-elements.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer srcFile.Close()

	model := NewInformationModel()
	if err := model.LoadCSV(0, srcFile); err != nil {
		t.Fatal(err)
	}

	ie, ok := model.LookupStrict(FieldKey{Enterprise: 0, Id: 1})
	if !ok {
		t.Fatal("expected element id 1 (octetDeltaCount) in the model after LoadCSV")
	}
	if ie.Name != "octetDeltaCount" {
		t.Errorf("name = %q, want octetDeltaCount", ie.Name)
	}
}
