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
	"fmt"
	"io"
	"strings"
	"sync"
)

// FieldKey uniquely identifies an Information Element by enterprise number
// and element id. {0, id} names an IANA element; any other Enterprise
// names a private-enterprise element.
type FieldKey struct {
	Enterprise uint32
	Id         uint16
}

func NewFieldKey(enterprise uint32, id uint16) FieldKey {
	return FieldKey{Enterprise: enterprise, Id: id}
}

func (k FieldKey) IsEnterprise() bool {
	return k.Enterprise != 0
}

func (k FieldKey) String() string {
	return fmt.Sprintf("%d/%d", k.Enterprise, k.Id)
}

// InformationModel is the thread-safe registry of Information Elements an
// implementation knows about, keyed both by (enterprise, id) and by name.
// A Session is always bound to exactly one InformationModel, but a single
// InformationModel may be shared across many Sessions.
type InformationModel struct {
	mu      sync.RWMutex
	byKey   map[FieldKey]*InformationElement
	byName  map[string]*InformationElement
	metrics *modelMetrics
}

type modelMetrics struct {
	alienElements int
}

// NewInformationModel constructs an empty InformationModel. Use LoadIANA to
// seed it with the bundled IANA-IPFIX registry subset.
func NewInformationModel() *InformationModel {
	return &InformationModel{
		byKey:   make(map[FieldKey]*InformationElement),
		byName:  make(map[string]*InformationElement),
		metrics: &modelMetrics{},
	}
}

// LoadIANA seeds the model with the bundled IANA-IPFIX information element
// subset (enterprise 0). Safe to call more than once; later entries win.
func (m *InformationModel) LoadIANA() *InformationModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ie := range iana() {
		iec := ie.Clone()
		iec.Id = id
		iec.EnterpriseId = 0
		// The bundled registry CSV has no reversible column; RFC 5103
		// makes every IANA element reversible except the identifier,
		// configuration, and statistics fields rfc5103.go's blacklist
		// names, so derive it the same way the wire decoder already
		// does when it sees the reverse PEN.
		iec.Reversible = reversible(id)
		m.add(iec)
	}
	return m
}

// Add registers a single Information Element, keyed by its EnterpriseId/Id
// pair and by name. A later Add for the same key overwrites the former.
func (m *InformationModel) Add(ie InformationElement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(ie)
}

// AddArray registers all elements from a decoded registry, as produced by
// ReadCSV/ReadXML/ReadYAML. Entries are assumed to belong to enterprise eid
// unless the element already carries a non-zero EnterpriseId.
func (m *InformationModel) AddArray(eid uint32, elements map[uint16]InformationElement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ie := range elements {
		iec := ie.Clone()
		iec.Id = id
		if iec.EnterpriseId == 0 {
			iec.EnterpriseId = eid
		}
		m.add(iec)
	}
}

func (m *InformationModel) add(ie InformationElement) {
	key := NewFieldKey(ie.EnterpriseId, ie.Id)
	if existing, ok := m.byKey[key]; ok {
		// update in place, at the same storage address, so that any
		// in-flight *InformationElement pointers (e.g. held by a
		// FieldSpec) observe the change rather than going stale.
		oldName := existing.Name
		*existing = ie
		if oldName != ie.Name {
			delete(m.byName, oldName)
			if ie.Name != "" {
				m.byName[ie.Name] = existing
			}
		}
	} else {
		stored := ie
		m.byKey[key] = &stored
		if ie.Name != "" {
			m.byName[ie.Name] = &stored
		}
	}

	if ie.Reversible {
		m.addReverse(ie)
	}
}

// addReverse synthesizes and inserts the RFC 5103 reverse sibling of ie: a
// distinct (enterprise, id) entry under ReverseFieldKey(ie's key), named by
// prefixing "reverse" onto ie's name with its first letter capitalized.
// The sibling is never itself marked Reversible, so this does not recurse.
func (m *InformationModel) addReverse(ie InformationElement) {
	rev := ie.Clone()
	rk := ReverseFieldKey(NewFieldKey(ie.EnterpriseId, ie.Id))
	rev.EnterpriseId = rk.Enterprise
	rev.Id = rk.Id
	rev.Name = reverseElementName(ie.Name)
	rev.Reversible = false
	m.add(rev)
}

// reverseElementName implements the naming rule for a model-synthesized
// reverse Information Element: "reverse" followed by the original name with
// its first letter capitalized.
func reverseElementName(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	return "reverse" + strings.ToUpper(string(r[0:1])) + string(r[1:])
}

// LoadCSV reads an Information Element registry in the IANA IPFIX CSV
// dialect and merges it in under enterprise eid.
func (m *InformationModel) LoadCSV(eid uint32, r io.Reader) error {
	elements, err := ReadCSV(r)
	if err != nil {
		return newError("InformationModel.LoadCSV", KindInvalidIPFIX, err)
	}
	m.AddArray(eid, elements)
	return nil
}

// LoadXML reads an IANA-style XML registry export (as published by IANA
// and consumed by yaf) and merges it in under enterprise eid.
func (m *InformationModel) LoadXML(eid uint32, r io.Reader) error {
	elements, err := ReadXML(r)
	if err != nil {
		return newError("InformationModel.LoadXML", KindInvalidIPFIX, err)
	}
	m.AddArray(eid, elements)
	return nil
}

// LoadYAML reads a YAML Information Element export (FieldExport) and merges
// it in.
// Elements already carry their own EnterpriseId, so eid is only used as a
// fallback for entries that do not specify one.
func (m *InformationModel) LoadYAML(eid uint32, r io.Reader) error {
	byId, err := ReadYAML(r)
	if err != nil {
		return newError("InformationModel.LoadYAML", KindInvalidIPFIX, err)
	}
	flat := make(map[uint16]InformationElement, len(byId))
	for id, ie := range byId {
		flat[id] = *ie
	}
	m.AddArray(eid, flat)
	return nil
}

// Lookup returns the Information Element registered for key. If none is
// registered, Lookup synthesizes an "alien" octetArray element so that
// decoding can proceed without the full registry being present -- this
// mirrors how libfixbuf's collector never aborts on an unrecognized
// element, it just reports the bytes as opaque. Use LookupStrict where an
// unknown element must be treated as an error (e.g. RFC 5610 handling).
func (m *InformationModel) Lookup(key FieldKey) *InformationElement {
	m.mu.RLock()
	ie, ok := m.byKey[key]
	m.mu.RUnlock()
	if ok {
		return ie
	}
	return m.alien(key)
}

// LookupStrict returns the registered element for key, or (nil, false) if
// none is known. No alien element is synthesized.
func (m *InformationModel) LookupStrict(key FieldKey) (*InformationElement, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ie, ok := m.byKey[key]
	return ie, ok
}

// LookupByName returns the registered element with the given name, if any.
func (m *InformationModel) LookupByName(name string) (*InformationElement, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ie, ok := m.byName[name]
	return ie, ok
}

func (m *InformationModel) alien(key FieldKey) *InformationElement {
	m.mu.Lock()
	defer m.mu.Unlock()
	// double-checked: another goroutine may have raced us, or the element
	// may have been learned via RFC 5610 in the meantime.
	if ie, ok := m.byKey[key]; ok {
		return ie
	}
	typ := "octetArray"
	ie := &InformationElement{
		Id:           key.Id,
		EnterpriseId: key.Enterprise,
		Name:         "_alienInformationElement",
		Type:         &typ,
		Constructor:  NewOctetArray,
	}
	m.byKey[key] = ie
	m.metrics.alienElements++
	AlienElementsTotal.Set(float64(m.metrics.alienElements))
	return ie
}

// Count returns the number of distinct (enterprise, id) entries currently
// registered, including any alien elements synthesized so far by Lookup.
func (m *InformationModel) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

// Iterate calls fn once per registered Information Element. fn must not
// call back into the InformationModel.
func (m *InformationModel) Iterate(fn func(FieldKey, *InformationElement)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, ie := range m.byKey {
		fn(k, ie)
	}
}
