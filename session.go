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
	"io"
	"sync"
)

// PairMap records, for a Session decoding nested structured data
// (RFC 6313), which external template ids have been paired with an
// internal template the caller actually wants decoded into. hasAny records
// whether any pairing was ever added: Lookup returns early without a map
// lookup when none was, and ResolveNested uses it to choose its default
// for unmapped ids.
type PairMap struct {
	pairs  map[uint16]uint16
	hasAny bool
}

func newPairMap() *PairMap {
	return &PairMap{pairs: make(map[uint16]uint16)}
}

// Add registers that external template id ext should be decoded using
// internal template id in whenever it is encountered as the member
// template of a structured data list.
func (p *PairMap) Add(ext, in uint16) {
	p.pairs[ext] = in
	p.hasAny = true
}

// Lookup returns the internal template id paired with ext, if any.
func (p *PairMap) Lookup(ext uint16) (uint16, bool) {
	if !p.hasAny {
		return 0, false
	}
	id, ok := p.pairs[ext]
	return id, ok
}

// ResolveNested implements the template-pair lookup rule a nested member
// template (within a subTemplateList/subTemplateMultiList) is decoded
// under: if ext was explicitly paired, its stored value is the internal
// template id to decode into (0 meaning "skip entirely", ext itself
// meaning "decode as external, unchanged"). If ext was never paired, the
// outcome depends on whether *any* pair has ever been registered: an
// empty map defaults an unmapped ext to external-as-internal, but once
// any pair exists, an unmapped ext is skipped -- the caller asked for
// selective decoding and everything else should be dropped.
func (p *PairMap) ResolveNested(ext uint16) (internalId uint16, skip bool) {
	if id, ok := p.pairs[ext]; ok {
		return id, id == 0
	}
	if !p.hasAny {
		return ext, false
	}
	return 0, true
}

// Disposable pairs a user-supplied context value with a Close callback,
// the idiomatic Go stand-in for a C-style (context pointer, free function)
// pair used for new-template notifications.
type Disposable interface {
	Context() any
	Close()
}

type newTemplateCallback struct {
	fn func(domain uint32, t *Template)
}

// ExternalTemplateStore abstracts the storage backing a Session's external
// template table, so that it can be swapped for a distributed store (see
// addons/etcd) when many collector processes must share Exporter-assigned
// template ids, e.g. behind a load balancer.
type ExternalTemplateStore interface {
	Get(domain uint32, id uint16) (*Template, bool)
	Set(domain uint32, id uint16, t *Template)
	Delete(domain uint32, id uint16)
	DeleteDomain(domain uint32)
	Range(domain uint32, fn func(id uint16, t *Template) bool)
}

// memoryTemplateStore is the default in-process ExternalTemplateStore.
type memoryTemplateStore struct {
	mu    sync.RWMutex
	byDom map[uint32]map[uint16]*Template
}

func newMemoryTemplateStore() *memoryTemplateStore {
	return &memoryTemplateStore{byDom: make(map[uint32]map[uint16]*Template)}
}

func (s *memoryTemplateStore) Get(domain uint32, id uint16) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byDom[domain]
	if !ok {
		return nil, false
	}
	t, ok := d[id]
	return t, ok
}

func (s *memoryTemplateStore) Set(domain uint32, id uint16, t *Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byDom[domain]
	if !ok {
		d = make(map[uint16]*Template)
		s.byDom[domain] = d
	}
	d[id] = t
}

func (s *memoryTemplateStore) Delete(domain uint32, id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.byDom[domain]; ok {
		delete(d, id)
	}
}

func (s *memoryTemplateStore) DeleteDomain(domain uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDom, domain)
}

func (s *memoryTemplateStore) Range(domain uint32, fn func(id uint16, t *Template) bool) {
	s.mu.RLock()
	d := s.byDom[domain]
	// copy to release the lock before invoking fn, since fn may itself
	// call back into the Session.
	snapshot := make(map[uint16]*Template, len(d))
	for id, t := range d {
		snapshot[id] = t
	}
	s.mu.RUnlock()
	for id, t := range snapshot {
		if !fn(id, t) {
			return
		}
	}
}

// Session is the stateful context shared by every Message Buffer reading
// or writing a single IPFIX connection or file. It owns the external
// template table (one per observation domain, per RFC 7011 section 8.3),
// the Information Model used to resolve Information Elements, the
// per-domain sequence number, and the RFC 6313 template pair map.
//
// The external template table is guarded by the ExternalTemplateStore;
// the internal template table, the sequence numbers and the id cursors
// each have their own mutex. The active observation domain, the pair map
// and the new-template callback are not guarded.
type Session struct {
	model *InformationModel

	external ExternalTemplateStore

	muInternal sync.Mutex
	internal   map[uint16]*Template

	muSeq    sync.Mutex
	sequence map[uint32]uint32

	domain uint32

	Pairs *PairMap

	onNewTemplate func(domain uint32, t *Template)

	muCursor         sync.Mutex
	templateIdCursor uint16
	internalIdCursor uint16

	largest *Template
}

// NewSession creates a Session bound to model, with an in-memory external
// template store and auto-assigned template ids starting at 256 (the
// first id not reserved by RFC 7011 section 3.3.2).
func NewSession(model *InformationModel) *Session {
	return &Session{
		model:            model,
		external:         newMemoryTemplateStore(),
		internal:         make(map[uint16]*Template),
		sequence:         make(map[uint32]uint32),
		Pairs:            newPairMap(),
		templateIdCursor: MinimumTemplateId,
		internalIdCursor: 65535,
	}
}

// WithExternalTemplateStore swaps the default in-memory external template
// store for a custom one (e.g. the etcd-backed store in addons/etcd) and
// returns the Session for chaining.
func (s *Session) WithExternalTemplateStore(store ExternalTemplateStore) *Session {
	s.external = store
	return s
}

// InformationModel returns the Information Model this Session resolves
// Information Elements against.
func (s *Session) InformationModel() *InformationModel {
	return s.model
}

// SetObservationDomain sets the observation domain id returned by
// ObservationDomain, which nested SubTemplateList/SubTemplateMultiList
// decoding uses to resolve member templates.
func (s *Session) SetObservationDomain(id uint32) {
	s.domain = id
}

// ObservationDomain returns the currently active observation domain id.
func (s *Session) ObservationDomain() uint32 {
	return s.domain
}

// OnNewTemplate registers a callback invoked whenever a Template Record or
// Options Template Record is added to the external template table, e.g.
// to let a collector persist newly learned templates.
func (s *Session) OnNewTemplate(fn func(domain uint32, t *Template)) {
	s.onNewTemplate = fn
}

// AddTemplate installs t into the external template table for domain. If
// t.Id is 0, the Session assigns the next free id starting at 256. Per
// section 4.3, adding a template retains it; RemoveTemplate/removeOne
// releases the matching reference, so a template registered as both
// external and internal (e.g. via MessageBuffer.SetExportTemplate) is not
// freed until both tables have let go of it.
func (s *Session) AddTemplate(domain uint32, t *Template) (*Template, error) {
	if t.Id == 0 {
		t.Id = s.nextTemplateId(domain)
	}
	if t.Id < MinimumTemplateId {
		return nil, newError("Session.AddTemplate", KindInvalidIPFIX, nil)
	}
	t.Retain()
	s.external.Set(domain, t.Id, t)
	TemplatesActive.WithLabelValues("external").Inc()
	if s.onNewTemplate != nil {
		s.onNewTemplate(domain, t)
	}
	return t, nil
}

// nextTemplateId searches upward from the external cursor (256 -> 65535)
// for an id not already in use in the external template table, matching
// the "external searches upward" auto-assignment rule.
func (s *Session) nextTemplateId(domain uint32) uint16 {
	s.muCursor.Lock()
	defer s.muCursor.Unlock()
	for i := uint16(0); i < 65536-MinimumTemplateId; i++ {
		id := s.templateIdCursor
		s.templateIdCursor++
		if s.templateIdCursor < MinimumTemplateId {
			s.templateIdCursor = MinimumTemplateId
		}
		if _, ok := s.external.Get(domain, id); !ok {
			return id
		}
	}
	return s.templateIdCursor
}

// nextInternalTemplateId searches downward from the internal cursor
// (65535 -> 256) for an id not already registered in the internal
// template table, matching the "internal searches downward" auto-id rule.
func (s *Session) nextInternalTemplateId() uint16 {
	s.muCursor.Lock()
	defer s.muCursor.Unlock()
	for i := uint16(0); i < 65536-MinimumTemplateId; i++ {
		id := s.internalIdCursor
		s.internalIdCursor--
		if s.internalIdCursor < MinimumTemplateId {
			s.internalIdCursor = 65535
		}
		if _, exists := s.internal[id]; !exists {
			return id
		}
	}
	return s.internalIdCursor
}

// AddInternalTemplate registers t as an internal template: the shape a
// caller wants Data Records decoded into, independent of what an Exporter
// advertises on the wire. If t.Id is 0, the Session assigns the next free
// id searching downward from 65535, disjoint from the external table's
// upward-assigned range. Retains t, mirroring AddTemplate.
func (s *Session) AddInternalTemplate(t *Template) {
	if t.Id == 0 {
		t.Id = s.nextInternalTemplateId()
	}
	t.Retain()
	s.muInternal.Lock()
	defer s.muInternal.Unlock()
	if _, exists := s.internal[t.Id]; !exists {
		TemplatesActive.WithLabelValues("internal").Inc()
	}
	s.internal[t.Id] = t
	s.trackLargest(t)
}

func (s *Session) trackLargest(t *Template) {
	if s.largest == nil || t.MinimumRecordLength() > s.largest.MinimumRecordLength() {
		s.largest = t
	}
}

// LargestInternalTemplate returns the internal template with the greatest
// minimum record length registered so far, used by callers sizing
// reusable decode buffers.
func (s *Session) LargestInternalTemplate() *Template {
	return s.largest
}

// GetTemplate returns the external template registered for (domain, id).
func (s *Session) GetTemplate(domain uint32, id uint16) (*Template, error) {
	t, ok := s.external.Get(domain, id)
	if !ok {
		return nil, TemplateNotFound(domain, id)
	}
	return t, nil
}

// GetInternalTemplate returns the internal template registered under id.
func (s *Session) GetInternalTemplate(id uint16) (*Template, error) {
	s.muInternal.Lock()
	defer s.muInternal.Unlock()
	t, ok := s.internal[id]
	if !ok {
		return nil, TemplateNotFound(0, id)
	}
	return t, nil
}

// RemoveTemplate withdraws template id from domain's external table. If id
// equals SetIdTemplate or SetIdOptionsTemplate, every template (of the
// matching kind) in domain is withdrawn, implementing the "All
// [Options] Templates Withdrawal" mechanism of RFC 7011 section 8.1.
func (s *Session) RemoveTemplate(domain uint32, id uint16) {
	if id == SetIdTemplate || id == SetIdOptionsTemplate {
		kind := TemplateKindData
		if id == SetIdOptionsTemplate {
			kind = TemplateKindOptions
		}
		var toRemove []uint16
		s.external.Range(domain, func(tid uint16, t *Template) bool {
			if t.Kind == kind {
				toRemove = append(toRemove, tid)
			}
			return true
		})
		for _, tid := range toRemove {
			s.removeOne(domain, tid)
		}
		return
	}
	s.removeOne(domain, id)
}

func (s *Session) removeOne(domain uint32, id uint16) {
	if t, ok := s.external.Get(domain, id); ok {
		t.Release()
		TemplatesActive.WithLabelValues("external").Dec()
	}
	s.external.Delete(domain, id)
}

// NextSequenceNumber returns the next IPFIX message sequence number for
// domain, and increments the tracked counter. Used by Exporters; matches
// RFC 7011's "number of Data Records" sequencing semantics.
func (s *Session) NextSequenceNumber(domain uint32, records uint32) uint32 {
	s.muSeq.Lock()
	defer s.muSeq.Unlock()
	cur := s.sequence[domain]
	s.sequence[domain] = cur + records
	return cur
}

// SequenceNumber returns the current sequence number tracked for domain
// without advancing it.
func (s *Session) SequenceNumber(domain uint32) uint32 {
	s.muSeq.Lock()
	defer s.muSeq.Unlock()
	return s.sequence[domain]
}

// SetSequenceNumber overrides the tracked sequence number for domain, used
// by a Collector to resynchronize after observing an Exporter's header.
func (s *Session) SetSequenceNumber(domain uint32, seq uint32) {
	s.muSeq.Lock()
	defer s.muSeq.Unlock()
	s.sequence[domain] = seq
}

// Clone returns a fresh Session sharing this Session's Information Model
// and internal template table (by reference-count share, not by value) and
// new-template callback, but with empty external template tables and
// sequence counters. This matches fbSessionClone's use for UDP collectors
// that keep one Session per (peer, observation domain) but must recognize
// the same internal templates and invoke the same notification callback in
// every clone.
func (s *Session) Clone() *Session {
	clone := NewSession(s.model)
	clone.onNewTemplate = s.onNewTemplate

	s.muInternal.Lock()
	for id, t := range s.internal {
		clone.internal[id] = t.Retain()
	}
	s.muInternal.Unlock()
	clone.largest = s.largest

	return clone
}

// ExportTemplates writes every external template currently registered for
// domain (as Template Records / Options Template Records, each inside its
// own Set) to w, e.g. to retransmit full state to a newly (re)connected
// Collector.
func (s *Session) ExportTemplates(domain uint32, w io.Writer) (int, error) {
	var templates []*Template
	s.external.Range(domain, func(id uint16, t *Template) bool {
		templates = append(templates, t)
		return true
	})

	var total int
	for _, t := range templates {
		n, err := EncodeTemplateSet(w, t)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
