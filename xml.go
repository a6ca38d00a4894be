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
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/abartolomey/ipfix/iana/semantics"
	"github.com/abartolomey/ipfix/iana/status"
)

func MustReadXML(r io.Reader) map[uint16]InformationElement {
	m, err := ReadXML(r)
	if err != nil {
		panic(err)
	}
	return m
}

func ReadXML(r io.Reader) (map[uint16]InformationElement, error) {
	type yafIERecord struct {
		Name string `xml:"name"`
		// colons are XML namespaces, which are denoted as spaces in struct tags.
		// EnterpriseId is a pointer so a record with no <enterpriseId> child
		// (a standard IANA element, already present in the base registry)
		// can be distinguished from one that explicitly declares enterprise 0.
		EnterpriseId *uint32            `xml:"enterpriseId"`
		Reversible   *bool              `xml:"reversible"`
		Id           string             `xml:"elementId"`
		Description  []string           `xml:"description>paragraph"`
		DataType     *string            `xml:"dataType"`
		Group        *string            `xml:"group"`
		Revision     *int               `xml:"revision"`
		Status       status.Status      `xml:"status"`
		Semantic     semantics.Semantic `xml:"semantic"`
		Date         *string            `xml:"date"`
		Range        *string            `xml:"range"`
		Units        *string            `xml:"units"`
	}
	type yafIERegistry struct {
		Id      *string `xml:"id,attr"`
		Title   *string `xml:"title"`
		Created *string `xml:"created"`
		Updated *string `xml:"updated"`

		Records []yafIERecord `xml:"registry>record"`
	}

	o, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	re := yafIERegistry{}
	err = xml.Unmarshal(o, &re)
	if err != nil {
		return nil, err
	}

	m := make(map[uint16]InformationElement)

	for _, r := range re.Records {
		// A record with no enterpriseId is a standard IANA element; the
		// base registry already carries it, so the XML record is ignored.
		if r.EnterpriseId == nil {
			continue
		}

		field := InformationElement{
			Name:         r.Name,
			Semantics:    r.Semantic,
			Status:       r.Status,
			Units:        r.Units,
			Revision:     r.Revision,
			Date:         r.Date,
			Type:         r.DataType,
			EnterpriseId: *r.EnterpriseId,
			Reversible:   xmlReversibleDefault(r.Id, r.Group, r.Reversible),
		}

		if field.Semantics == semantics.Undefined {
			field.Semantics = xmlSemanticDefault(r.DataType)
		}

		if description := r.Description; description != nil {
			for idx, d := range description {
				description[idx] = strings.TrimSpace(d)
			}
			d := strings.Join(description, "\n")
			field.Description = &d
		}

		if r.Range != nil {
			if fr := strings.Split(*r.Range, "-"); len(fr) == 2 {
				lows, highs := fr[0], fr[1]
				var low, high int
				low, _ = strconv.Atoi(lows)
				high, _ = strconv.Atoi(highs)
				field.Range = &InformationElementRange{
					Low:  low,
					High: high,
				}
			}
		}

		if typ := r.DataType; typ != nil {
			field.Constructor = LookupConstructor(*typ)
		}

		if id, err := strconv.Atoi(r.Id); err != nil {
			// id node is not a single number, skipping record node
			// TODO: maybe warn?
			continue
		} else {
			field.Id = uint16(id)
			m[uint16(id)] = field
		}
	}

	return m, nil
}

// xmlNonReversibleGroups holds the group names spec.md's XML load rules
// exclude from the reversible-by-default rule, alongside the id blacklist
// already used for the wire-level reverse PEN check (rfc5103.go).
var xmlNonReversibleGroups = map[string]bool{
	"config":         true,
	"processCounter": true,
	"netflow v9":     true,
}

// xmlReversibleDefault implements spec.md's §4.1 default: reversibility
// defaults to true except for the explicit id blacklist or one of three
// group names, unless the record explicitly says otherwise.
func xmlReversibleDefault(rawId string, group *string, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	if group != nil && xmlNonReversibleGroups[*group] {
		return false
	}
	if id, err := strconv.Atoi(rawId); err == nil {
		return reversible(uint16(id))
	}
	return true
}

// xmlSemanticDefault implements spec.md's §4.1 default: "quantity" for
// numeric abstract data types, "list" for the three RFC 6313 list types,
// otherwise "default".
func xmlSemanticDefault(dataType *string) semantics.Semantic {
	if dataType == nil {
		return semantics.Default
	}
	switch *dataType {
	case "basicList", "subTemplateList", "subTemplateMultiList":
		return semantics.List
	case "unsigned8", "unsigned16", "unsigned32", "unsigned64",
		"signed8", "signed16", "signed32", "signed64",
		"float32", "float64":
		return semantics.Quantity
	default:
		return semantics.Default
	}
}
