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
	"encoding/binary"
	"io"
)

// SetHeaderLength is the fixed size, in bytes, of a Set Header as per RFC
// 7011 section 3.3.1.
const SetHeaderLength = 4

// SetHeader identifies the kind (via Id) and total length (header
// included) of the set that follows it in a Message.
type SetHeader struct {
	Id     uint16
	Length uint16
}

func (h *SetHeader) Encode(w io.Writer) (int, error) {
	b := make([]byte, SetHeaderLength)
	binary.BigEndian.PutUint16(b[0:2], h.Id)
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	return w.Write(b)
}

func DecodeSetHeader(r io.Reader) (*SetHeader, int, error) {
	b := make([]byte, SetHeaderLength)
	n, err := io.ReadFull(r, b)
	if err != nil {
		return nil, n, newError("DecodeSetHeader", KindInvalidIPFIX, err)
	}
	h := &SetHeader{
		Id:     binary.BigEndian.Uint16(b[0:2]),
		Length: binary.BigEndian.Uint16(b[2:4]),
	}
	if h.Length < SetHeaderLength {
		return nil, n, newError("DecodeSetHeader", KindInvalidIPFIX, nil)
	}
	return h, n, nil
}

// EncodeTemplateSet writes t, wrapped in its own Template Set (or Options
// Template Set), to w.
func EncodeTemplateSet(w io.Writer, t *Template) (int, error) {
	var body bytes.Buffer
	if _, err := t.Encode(&body); err != nil {
		return 0, err
	}
	id := SetIdTemplate
	if t.Kind == TemplateKindOptions {
		id = SetIdOptionsTemplate
	}
	hdr := SetHeader{Id: id, Length: uint16(SetHeaderLength + body.Len())}
	var total int
	n, err := hdr.Encode(w)
	total += n
	if err != nil {
		return total, err
	}
	m, err := w.Write(body.Bytes())
	total += m
	return total, err
}

// EncodeDataSet writes recs, all sharing a single template, wrapped in one
// Data Set whose Set Id is the template's id, to w.
func EncodeDataSet(w io.Writer, templateId uint16, recs []*Record) (int, error) {
	var body bytes.Buffer
	for _, rec := range recs {
		if _, err := rec.Encode(&body); err != nil {
			return 0, err
		}
	}
	hdr := SetHeader{Id: templateId, Length: uint16(SetHeaderLength + body.Len())}
	var total int
	n, err := hdr.Encode(w)
	total += n
	if err != nil {
		return total, err
	}
	m, err := w.Write(body.Bytes())
	total += m
	return total, err
}
