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

// Transcoder maps a Record decoded against an external (wire) Template
// onto a Record shaped like the internal Template a caller actually wants,
// matching fields by FieldKey and by RFC 5103 reversed-ness (a field and
// its "reversed" twin share a FieldKey but are distinct slots). Because
// each field's Go value is already fully decoded -- including any
// reduced-length zero-padding the external DataType performed -- transcode
// is a pure projection: no further byte manipulation is needed, which is
// what keeps "copy" and "reduced-length expand" a single code path per
// the design notes.
//
// A Transcoder is cached per (external Template, internal Template) pair
// by the MessageBuffer and is cheap to share across many records decoded
// against the same pairing.
type Transcoder struct {
	external *Template
	internal *Template
	// indexFor[i] is the index into an external record's Values for
	// internal field i, or -1 if the external template carries no
	// matching field.
	indexFor []int
}

func newTranscoder(external, internal *Template) *Transcoder {
	idx := make([]int, len(internal.Fields))
	for i, inf := range internal.Fields {
		idx[i] = -1
		for j, exf := range external.Fields {
			if exf.Key == inf.Key && exf.Reversed == inf.Reversed {
				idx[i] = j
				break
			}
		}
	}
	return &Transcoder{external: external, internal: internal, indexFor: idx}
}

// Transcode builds a new Record shaped like tc.internal from an already-
// decoded Record shaped like tc.external. Internal fields with no external
// counterpart are left nil.
func (tc *Transcoder) Transcode(external *Record) *Record {
	out := NewRecord(tc.internal)
	for i, j := range tc.indexFor {
		if j < 0 {
			continue
		}
		out.Values[i] = external.Values[j]
	}
	return out
}

// stale reports whether the external or internal template pointers this
// plan was built from have been superseded (e.g. by a template
// redefinition using the same id), in which case the plan must be rebuilt.
func (tc *Transcoder) stale(external, internal *Template) bool {
	return tc.external != external || tc.internal != internal
}
