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

// RawMessage is one complete, still-encoded IPFIX Message as read from an
// RFC 5655 file: its 16-byte header followed by however many bytes
// Header.Length declares.
type RawMessage []byte

// FileWriter persists a sequence of whole IPFIX Messages to an io.Writer,
// one after another with no separators, matching RFC 5655 section 3's
// "file is simply a sequence of IPFIX Messages" layout. It is typically
// driven by repeated MessageBuffer.Emit calls against the same Session.
type FileWriter struct {
	w io.Writer
}

// NewFileWriter wraps w as a FileWriter.
func NewFileWriter(w io.Writer) *FileWriter {
	return &FileWriter{w: w}
}

// WriteMessage appends msg's already-encoded bytes to the file verbatim.
// Callers typically obtain msg by Emit-ing a MessageBuffer into a
// bytes.Buffer first.
func (f *FileWriter) WriteMessage(msg []byte) (int, error) {
	n, err := f.w.Write(msg)
	if err != nil {
		return n, newError("FileWriter.WriteMessage", KindIO, err)
	}
	return n, nil
}

// FileReader reads whole IPFIX Messages back out of an RFC 5655 file,
// splitting the byte stream purely by each Message's own Length field,
// since the format carries no outer framing.
type FileReader struct {
	r io.Reader
}

// NewFileReader wraps r as a FileReader.
func NewFileReader(r io.Reader) *FileReader {
	return &FileReader{r: r}
}

// ReadMessage reads one RawMessage: the 16-byte header, then Length-16
// more bytes. It returns io.EOF (wrapping no payload) once r is exhausted
// at a message boundary, and KindInvalidIPFIX if r ends mid-message.
func (f *FileReader) ReadMessage() (RawMessage, error) {
	header := make([]byte, MessageHeaderLength)
	if _, err := io.ReadFull(f.r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, newError("FileReader.ReadMessage", KindInvalidIPFIX, err)
	}

	version := binary.BigEndian.Uint16(header[0:2])
	if version != uint16(ProtocolVersion) {
		return nil, newError("FileReader.ReadMessage", KindInvalidIPFIX, ErrUnknownVersion)
	}
	length := binary.BigEndian.Uint16(header[2:4])
	if length < MessageHeaderLength {
		return nil, newError("FileReader.ReadMessage", KindInvalidIPFIX, nil)
	}

	msg := make([]byte, length)
	copy(msg, header)
	if _, err := io.ReadFull(f.r, msg[MessageHeaderLength:]); err != nil {
		return nil, newError("FileReader.ReadMessage", KindInvalidIPFIX, err)
	}
	return msg, nil
}

// ReadAll reads every RawMessage in the file until io.EOF, which is not
// itself returned as an error.
func (f *FileReader) ReadAll() ([]RawMessage, error) {
	var out []RawMessage
	for {
		msg, err := f.ReadMessage()
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, msg)
	}
}

// Decode decodes msg's Data Records and Template Sets against mb's
// Session, exactly as if it had just been read off the wire by
// MessageBuffer.NextMessage.
func (msg RawMessage) Decode(mb *MessageBuffer) (*DecodedMessage, error) {
	return mb.NextMessage(bytes.NewReader(msg))
}
