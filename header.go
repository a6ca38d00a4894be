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
	"encoding/binary"
	"io"
	"time"

	"github.com/abartolomey/ipfix/iana/version"
)

// MessageHeaderLength is the fixed size, in bytes, of the IPFIX Message
// Header as per RFC 7011 section 3.1.
const MessageHeaderLength = 16

// ProtocolVersion is the version field every IPFIX Message carries. Only
// version 10 (IPFIX) is implemented; any other version, NetFlow v9's 9
// included, is rejected with UnknownVersion.
const ProtocolVersion = version.IPFIX

// MessageHeader is the 16-byte header prefixing every IPFIX Message.
type MessageHeader struct {
	Version             version.ProtocolVersion
	Length              uint16
	ExportTime          uint32
	SequenceNumber      uint32
	ObservationDomainId uint32
}

// Encode writes the header to w in wire format.
func (h *MessageHeader) Encode(w io.Writer) (int, error) {
	b := make([]byte, MessageHeaderLength)
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Version))
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.ExportTime)
	binary.BigEndian.PutUint32(b[8:12], h.SequenceNumber)
	binary.BigEndian.PutUint32(b[12:16], h.ObservationDomainId)
	return w.Write(b)
}

// DecodeMessageHeader reads a 16-byte Message Header from r.
func DecodeMessageHeader(r io.Reader) (*MessageHeader, int, error) {
	b := make([]byte, MessageHeaderLength)
	n, err := io.ReadFull(r, b)
	if err != nil {
		if err == io.EOF {
			return nil, n, newError("DecodeMessageHeader", KindEndOfStream, err)
		}
		return nil, n, newError("DecodeMessageHeader", KindIO, err)
	}
	h := &MessageHeader{
		Version:             version.ProtocolVersion(binary.BigEndian.Uint16(b[0:2])),
		Length:              binary.BigEndian.Uint16(b[2:4]),
		ExportTime:          binary.BigEndian.Uint32(b[4:8]),
		SequenceNumber:      binary.BigEndian.Uint32(b[8:12]),
		ObservationDomainId: binary.BigEndian.Uint32(b[12:16]),
	}
	if h.Version != ProtocolVersion {
		return nil, n, UnknownVersion(h.Version)
	}
	return h, n, nil
}

// ExportTimeNow returns the current time truncated to seconds, the
// granularity IPFIX message headers carry.
func ExportTimeNow() uint32 {
	return uint32(time.Now().Unix())
}
