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

import "testing"

func TestInformationModelReversibleAddition(t *testing.T) {
	m := NewInformationModel()
	m.Add(InformationElement{
		Name:         "sampleElement",
		EnterpriseId: 0,
		Id:           1000,
		Reversible:   true,
		Constructor:  NewUnsigned32,
	})

	rev, ok := m.LookupStrict(NewFieldKey(ReversePEN, 1000))
	if !ok {
		t.Fatalf("reverse element not registered under (%d, 1000)", ReversePEN)
	}
	if rev.Name != "reverseSampleElement" {
		t.Errorf("reverse name = %q, want %q", rev.Name, "reverseSampleElement")
	}
	if rev.Reversible {
		t.Errorf("reverse element must not itself be marked Reversible")
	}
}

func TestInformationModelReversibleAdditionPrivateEnterprise(t *testing.T) {
	m := NewInformationModel()
	m.Add(InformationElement{
		Name:         "customCounter",
		EnterpriseId: 12345,
		Id:           7,
		Reversible:   true,
		Constructor:  NewUnsigned64,
	})

	rev, ok := m.LookupStrict(NewFieldKey(12345, 7|0x4000))
	if !ok {
		t.Fatalf("reverse element not registered under (12345, %d)", uint16(7|0x4000))
	}
	if rev.Name != "reverseCustomCounter" {
		t.Errorf("reverse name = %q, want %q", rev.Name, "reverseCustomCounter")
	}
}

func TestInformationModelAlienElement(t *testing.T) {
	m := NewInformationModel()
	ie := m.Lookup(NewFieldKey(99999, 4242))
	if ie.Name != "_alienInformationElement" {
		t.Errorf("alien name = %q, want %q", ie.Name, "_alienInformationElement")
	}
	if ie.Type == nil || *ie.Type != "octetArray" {
		t.Errorf("alien element must decode as octetArray")
	}

	// a second lookup of the same key must return the same synthesized
	// element rather than minting a new one each time.
	again := m.Lookup(NewFieldKey(99999, 4242))
	if again != ie {
		t.Errorf("alien element lookup is not stable across calls")
	}
}

func TestInformationModelAddUpdatesInPlace(t *testing.T) {
	m := NewInformationModel()
	m.Add(InformationElement{Name: "foo", EnterpriseId: 1, Id: 1, Constructor: NewUnsigned32})
	first, _ := m.LookupStrict(NewFieldKey(1, 1))

	m.Add(InformationElement{Name: "bar", EnterpriseId: 1, Id: 1, Constructor: NewUnsigned32})
	second, _ := m.LookupStrict(NewFieldKey(1, 1))

	if first != second {
		t.Fatalf("re-adding (enterprise, id) must update storage in place, not allocate a new entry")
	}
	if second.Name != "bar" {
		t.Errorf("name = %q, want %q", second.Name, "bar")
	}
	if _, ok := m.LookupByName("foo"); ok {
		t.Errorf("stale name %q still indexed after rename", "foo")
	}
	if got, ok := m.LookupByName("bar"); !ok || got != second {
		t.Errorf("new name %q not indexed to the updated element", "bar")
	}
}
