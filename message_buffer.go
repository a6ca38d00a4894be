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
	"fmt"
	"io"
)

// DefaultMaxMessageSize is the maximum Message size this package targets when
// no explicit limit is configured: the full 65535 byte ceiling RFC 7011's
// 16-bit Length field imposes. It leaves no margin for path MTU; a UDP
// Exporter that must avoid fragmentation passes a smaller maxSize.
const DefaultMaxMessageSize uint16 = 65535

// pendingDataSet accumulates Data Records for one Set, all sharing
// templateId, until Emit flushes the Message.
type pendingDataSet struct {
	templateId uint16
	records    []*Record
}

// MessageBuffer (fBuf in the vocabulary this package's design is grounded
// on) is the single component both Exporters and Collectors drive: on the
// write side it accumulates Template Records and Data Records and emits
// complete Messages; on the read side it decodes a Message into Template
// Records (folded into the Session) and Data Records (transcoded into
// whatever internal Template the caller registered).
type MessageBuffer struct {
	session *Session
	maxSize uint16

	domain uint32

	pendingTemplates []*Template
	pendingData      []*pendingDataSet

	reserved uint16

	// automatic mirrors the "automatic-next-message" configuration option
	// (section 6): when true, Append emits the current Message and starts
	// a fresh one instead of returning end-of-message once maxSize would
	// be exceeded. writer is the Writer such an automatic Emit targets.
	automatic bool
	writer    io.Writer

	exportRFC5610      bool
	ieTemplateId       uint16
	autoInsertElements bool

	planCache map[uint32]map[uint16]*Transcoder
}

// NewMessageBuffer creates a MessageBuffer bound to session, capping
// emitted messages at maxSize bytes. A maxSize of 0 selects
// DefaultMaxMessageSize.
func NewMessageBuffer(session *Session, maxSize uint16) *MessageBuffer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &MessageBuffer{
		session:   session,
		maxSize:   maxSize,
		reserved:  MessageHeaderLength,
		planCache: make(map[uint32]map[uint16]*Transcoder),
	}
}

// SetObservationDomain sets the observation domain new Messages are
// stamped with.
func (b *MessageBuffer) SetObservationDomain(domain uint32) {
	b.domain = domain
	b.session.SetObservationDomain(domain)
}

// SetAutomatic turns on automatic-next-message mode, binding w as the
// Writer Append uses to flush a full Message before starting a new one.
// Off by default, in which case Append returns end-of-message once the
// configured maxSize would be exceeded and the caller must Emit (or load
// the next Message, on the collect side) itself.
func (b *MessageBuffer) SetAutomatic(w io.Writer) {
	b.automatic = true
	b.writer = w
}

// EnableElementTypeExport turns on RFC 5610 element-type export: the first
// Emit after this call also transmits the element-type Options Template
// (under templateId) and, thereafter, one Options Data Record per
// non-IANA Information Element known to the Session's InformationModel.
func (b *MessageBuffer) EnableElementTypeExport(templateId uint16) {
	b.exportRFC5610 = true
	b.ieTemplateId = templateId
	t := ElementTypeOptionsTemplate(templateId, b.session.model)
	b.SetExportTemplate(t)
}

// EnableAutomaticElementInsertion turns on RFC 5610 automatic element
// insertion: an Options Data Record matching the element-type template
// shape, seen while decoding, is registered into the Session's
// InformationModel instead of being left for the caller to interpret.
// Off by default, since it lets a peer mutate the local model.
func (b *MessageBuffer) EnableAutomaticElementInsertion() {
	b.autoInsertElements = true
}

// SetExportTemplate registers t as both an internal and an external
// template for b.domain and queues it to be written out with the next
// Emit.
func (b *MessageBuffer) SetExportTemplate(t *Template) *Template {
	t, _ = b.session.AddTemplate(b.domain, t)
	b.session.AddInternalTemplate(t)
	b.pendingTemplates = append(b.pendingTemplates, t)
	return t
}

// SetInternalTemplate registers t as the shape Data Records should be
// transcoded into when decoding, and pairs it with externalId so that
// NextMessage's Transcoder step picks it up.
func (b *MessageBuffer) SetInternalTemplate(externalId uint16, t *Template) {
	b.session.AddInternalTemplate(t)
	b.session.Pairs.Add(externalId, t.Id)
}

// queueElementTypeRecords appends one Options Data Record per non-IANA,
// non-synthesized Information Element known to the Session's
// InformationModel, per RFC 5610, so the next Emit announces their
// metadata to a Collector that enabled automatic element insertion.
func (b *MessageBuffer) queueElementTypeRecords() {
	tmpl, err := b.session.GetInternalTemplate(b.ieTemplateId)
	if err != nil {
		return
	}
	var records []*Record
	b.session.model.Iterate(func(key FieldKey, ie *InformationElement) {
		if key.Enterprise == 0 || key.Enterprise == ReversePEN || ie.Name == "_alienInformationElement" {
			return
		}
		records = append(records, ieToDataRecord(ie, tmpl))
	})
	for _, rec := range records {
		b.Append(b.ieTemplateId, rec)
	}
}

// Append queues rec, encoded according to templateId's external template,
// for the next Emit. Records must be appended template-contiguously: all
// records for one templateId, then the next.
//
// Per section 4.4's export step 1, Append first checks whether the
// currently pending Message has room for a Set header (if rec starts a
// new Set) plus rec's own minimum on-wire length. If not: in automatic
// mode, the pending Message is emitted and a new one started; in manual
// mode, Append returns end-of-message and queues nothing, leaving the
// caller to Emit (or resize) before retrying.
func (b *MessageBuffer) Append(templateId uint16, rec *Record) error {
	needsNewSet := true
	if n := len(b.pendingData); n > 0 && b.pendingData[n-1].templateId == templateId {
		needsNewSet = false
	}
	needed := rec.Template.MinimumRecordLength()
	if needsNewSet {
		needed += SetHeaderLength
	}

	if b.WouldOverflow(needed) {
		if !b.automatic {
			return ErrEndOfMessage
		}
		if _, err := b.Emit(b.writer); err != nil {
			return err
		}
		needsNewSet = true
		if b.WouldOverflow(rec.Template.MinimumRecordLength() + SetHeaderLength) {
			return newError("MessageBuffer.Append", KindBufferTooSmall,
				fmt.Errorf("record for template %d does not fit within maxSize %d even in an empty message", templateId, b.maxSize))
		}
	}

	if !needsNewSet {
		b.pendingData[len(b.pendingData)-1].records = append(b.pendingData[len(b.pendingData)-1].records, rec)
		return nil
	}
	b.pendingData = append(b.pendingData, &pendingDataSet{templateId: templateId, records: []*Record{rec}})
	return nil
}

// pendingSize estimates the encoded size of everything queued so far,
// without actually encoding it, so Append-adjacent callers can decide
// whether to Emit before adding more.
func (b *MessageBuffer) pendingSize() uint16 {
	size := b.reserved
	for _, t := range b.pendingTemplates {
		size += SetHeaderLength + t.WireLength()
	}
	for _, ds := range b.pendingData {
		size += SetHeaderLength
		for _, rec := range ds.records {
			size += rec.Template.MinimumRecordLength()
		}
	}
	return size
}

// WouldOverflow reports whether adding recordSize more bytes to the
// currently pending Message would exceed the configured maximum size,
// telling the caller to Emit first.
func (b *MessageBuffer) WouldOverflow(recordSize uint16) bool {
	return uint32(b.pendingSize())+uint32(recordSize) > uint32(b.maxSize)
}

// Emit writes out one complete Message containing every queued template
// set followed by every queued data set, each group in the order
// SetExportTemplate/Append were called, resets
// the buffer for the next Message, and advances the Session's sequence
// number for b.domain by the number of Data Records written.
func (b *MessageBuffer) Emit(w io.Writer) (int, error) {
	if b.exportRFC5610 {
		b.queueElementTypeRecords()
	}

	var body bytes.Buffer
	for _, t := range b.pendingTemplates {
		if _, err := EncodeTemplateSet(&body, t); err != nil {
			return 0, err
		}
	}

	var recordCount uint32
	for _, ds := range b.pendingData {
		if _, err := EncodeDataSet(&body, ds.templateId, ds.records); err != nil {
			return 0, err
		}
		// RFC 7011 section 4: the sequence number counts Data Records only
		// -- an Options Data Set (e.g. RFC 5610 element metadata) must not
		// advance it.
		for _, rec := range ds.records {
			if rec.Template.Kind == TemplateKindData {
				recordCount++
			}
		}
	}

	// section 6: the Length field is 16 bits wide, so a body exceeding
	// maxSize (itself a uint16, so at most 65535) must be
	// rejected outright rather than silently truncated into a Length that
	// no longer covers the Sets actually written.
	totalLength := MessageHeaderLength + body.Len()
	if totalLength > int(b.maxSize) {
		return 0, newError("MessageBuffer.Emit", KindBufferTooSmall,
			fmt.Errorf("message length %d exceeds configured maximum %d", totalLength, b.maxSize))
	}

	seq := b.session.NextSequenceNumber(b.domain, recordCount)
	hdr := MessageHeader{
		Version:             ProtocolVersion,
		Length:              uint16(totalLength),
		ExportTime:          ExportTimeNow(),
		SequenceNumber:      seq,
		ObservationDomainId: b.domain,
	}

	var total int
	n, err := hdr.Encode(w)
	total += n
	if err != nil {
		return total, err
	}
	m, err := w.Write(body.Bytes())
	total += m
	if err != nil {
		return total, newError("MessageBuffer.Emit", KindIO, err)
	}

	b.pendingTemplates = nil
	b.pendingData = nil
	MessagesTotal.WithLabelValues("export").Inc()
	return total, nil
}

// DecodedMessage is the result of decoding one Message: its header, the
// Data Records found in it (already transcoded into any paired internal
// template), and the set of template ids that were (re)defined or
// withdrawn while decoding it.
type DecodedMessage struct {
	Header       *MessageHeader
	Records      []*Record
	NewTemplates []*Template
	Withdrawn    []uint16
}

// NextMessage reads one complete Message from r: its header, then every
// Set up to Header.Length. Template Sets and Options Template Sets update
// the Session's external template table (including RFC 7011 section 8.1
// template withdrawal, and RFC 5610 learning new Information Elements
// from Options Data Records). Data Sets are decoded against the
// previously-learned external template for their Set Id and transcoded
// into the paired internal template, if one was registered via
// SetInternalTemplate; a Data Set whose template id is unknown reports
// KindMissingTemplate without aborting the rest of the message.
func (b *MessageBuffer) NextMessage(r io.Reader) (*DecodedMessage, error) {
	hdr, _, err := DecodeMessageHeader(r)
	if err != nil {
		return nil, err
	}
	domain := hdr.ObservationDomainId
	b.session.SetSequenceNumber(domain, hdr.SequenceNumber)
	// Nested structured-data decoding (SubTemplateList/SubTemplateMultiList)
	// resolves its member templates against Session.ObservationDomain()
	// rather than a domain threaded explicitly through Record.Decode; keep
	// it in sync with the Message actually being decoded so a Session
	// collecting from more than one observation domain resolves nested
	// templates against the right one.
	b.session.SetObservationDomain(domain)

	remaining := int(hdr.Length) - MessageHeaderLength
	body := make([]byte, remaining)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, newError("MessageBuffer.NextMessage", KindInvalidIPFIX, err)
	}
	buf := bytes.NewReader(body)

	out := &DecodedMessage{Header: hdr}

	var firstErr error
	for buf.Len() > 0 {
		setStart := buf.Len()
		sh, _, err := DecodeSetHeader(buf)
		if err != nil {
			return out, err
		}
		setBodyLen := int(sh.Length) - SetHeaderLength
		if setBodyLen < 0 || setBodyLen > setStart-SetHeaderLength {
			return out, newError("MessageBuffer.NextMessage", KindInvalidIPFIX, nil)
		}
		setBody := make([]byte, setBodyLen)
		if _, err := io.ReadFull(buf, setBody); err != nil {
			return out, newError("MessageBuffer.NextMessage", KindInvalidIPFIX, err)
		}
		sr := bytes.NewReader(setBody)

		switch {
		case sh.Id == SetIdTemplate:
			if err := b.decodeTemplateSet(sr, domain, TemplateKindData, out); err != nil && firstErr == nil {
				firstErr = err
			}
		case sh.Id == SetIdOptionsTemplate:
			if err := b.decodeOptionsTemplateSet(sr, domain, out); err != nil && firstErr == nil {
				firstErr = err
			}
		case sh.Id >= MinimumSetId:
			if err := b.decodeDataSet(sr, domain, sh.Id, out); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			if firstErr == nil {
				firstErr = newError("MessageBuffer.NextMessage", KindInvalidIPFIX, nil)
			}
		}
	}
	MessagesTotal.WithLabelValues("import").Inc()
	if firstErr != nil {
		MessageErrorsTotal.WithLabelValues(errorKind(firstErr).String()).Inc()
	}
	return out, firstErr
}

func (b *MessageBuffer) decodeTemplateSet(r io.Reader, domain uint32, kind TemplateKind, out *DecodedMessage) error {
	br, ok := r.(*bytes.Reader)
	if !ok {
		return newError("MessageBuffer.decodeTemplateSet", KindSetup, nil)
	}
	for br.Len() > 0 {
		t, _, err := DecodeTemplate(br, kind, b.session.model)
		if err != nil {
			return err
		}
		if len(t.Fields) == 0 {
			b.session.RemoveTemplate(domain, t.Id)
			out.Withdrawn = append(out.Withdrawn, t.Id)
			TemplateWithdrawalsTotal.Inc()
			continue
		}
		b.session.AddTemplate(domain, t)
		out.NewTemplates = append(out.NewTemplates, t)
	}
	label := "template"
	if kind == TemplateKindOptions {
		label = "options-template"
	}
	DecodedSets.WithLabelValues(label).Inc()
	return nil
}

func (b *MessageBuffer) decodeOptionsTemplateSet(r io.Reader, domain uint32, out *DecodedMessage) error {
	return b.decodeTemplateSet(r, domain, TemplateKindOptions, out)
}

func (b *MessageBuffer) decodeDataSet(r io.Reader, domain uint32, setId uint16, out *DecodedMessage) error {
	external, err := b.session.GetTemplate(domain, setId)
	if err != nil {
		return err
	}

	tc := b.transcoderFor(domain, setId, external)

	br, ok := r.(*bytes.Reader)
	if !ok {
		return newError("MessageBuffer.decodeDataSet", KindSetup, nil)
	}

	for br.Len() > 0 {
		rec := NewRecord(external)
		if _, err := rec.Decode(br, b.session); err != nil {
			return err
		}

		if b.autoInsertElements && external.Kind == TemplateKindOptions {
			if ie, ierr := dataRecordToIE(rec); ierr == nil && ie != nil {
				b.session.model.Add(*ie)
				ElementTypesLearnedTotal.Inc()
			}
		}

		if tc != nil {
			out.Records = append(out.Records, tc.Transcode(rec))
		} else {
			out.Records = append(out.Records, rec)
		}
	}
	DecodedSets.WithLabelValues("data").Inc()
	return nil
}

func (b *MessageBuffer) transcoderFor(domain uint32, externalId uint16, external *Template) *Transcoder {
	internalId, ok := b.session.Pairs.Lookup(externalId)
	if !ok {
		return nil
	}
	internal, err := b.session.GetInternalTemplate(internalId)
	if err != nil {
		return nil
	}

	perDomain, ok := b.planCache[domain]
	if !ok {
		perDomain = make(map[uint16]*Transcoder)
		b.planCache[domain] = perDomain
	}
	if tc, ok := perDomain[externalId]; ok && !tc.stale(external, internal) {
		return tc
	}
	tc := newTranscoder(external, internal)
	perDomain[externalId] = tc
	return tc
}
