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

	"github.com/abartolomey/ipfix/iana/semantics"
	"github.com/abartolomey/ipfix/iana/units"
)

// RFC 5610 defines an Options Template carrying the metadata of an
// Information Element so that a Collector can learn the definitions of
// private-enterprise elements it did not ship a registry for.
const (
	ieElementId         = 303
	iePrivateEnterprise = 346
	ieName              = 341
	ieDescription       = 340
	ieDataType          = 339
	ieSemantics         = 344
	ieUnits             = 345
	ieRangeBegin        = 342
	ieRangeEnd          = 343
)

// definesInformationElement is a pre-check determining whether rec is a
// data record shaped like an RFC 5610 element-type-export record: its id
// and name scope fields must be present.
func definesInformationElement(rec *Record) bool {
	return rec.Get(NewFieldKey(0, ieElementId)) != nil && rec.Get(NewFieldKey(0, ieName)) != nil
}

// dataRecordToIE converts a Data Record conforming to RFC 5610's element
// type options template into a new InformationElement, to be registered
// into an InformationModel so that subsequent Data Records carrying the
// newly-announced element decode with full semantics instead of as an
// alien element.
func dataRecordToIE(rec *Record) (*InformationElement, error) {
	if !definesInformationElement(rec) {
		return nil, nil
	}

	ie := &InformationElement{}

	if v := rec.Get(NewFieldKey(0, iePrivateEnterprise)); v != nil {
		eid, ok := v.Value().(uint32)
		if !ok {
			return nil, fmt.Errorf("'privateEnterpriseNumber' field is not of type unsigned32")
		}
		ie.EnterpriseId = eid
	}

	v := rec.Get(NewFieldKey(0, ieElementId))
	id, ok := v.Value().(uint16)
	if !ok {
		return nil, fmt.Errorf("'informationElementId' field is not of type unsigned16")
	}
	ie.Id = id

	nameField := rec.Get(NewFieldKey(0, ieName))
	name, ok := nameField.Value().(string)
	if !ok {
		return nil, fmt.Errorf("'informationElementName' field is not of type string")
	}
	ie.Name = name

	if v := rec.Get(NewFieldKey(0, ieDescription)); v != nil {
		if desc, ok := v.Value().(string); ok {
			ie.Description = &desc
		}
	}

	if v := rec.Get(NewFieldKey(0, ieDataType)); v != nil {
		dt, ok := v.Value().(uint8)
		if !ok {
			return nil, fmt.Errorf("'informationElementDataType' field is not of type unsigned8")
		}
		dtc := DataTypeFromNumber(dt)
		typ := dtc().Type()
		ie.Type = &typ
		ie.Constructor = dtc
	}

	ie.Semantics = semantics.Default
	if v := rec.Get(NewFieldKey(0, ieSemantics)); v != nil {
		if sem, ok := v.Value().(uint8); ok {
			ie.Semantics = semantics.FromNumber(sem)
		}
	}

	if v := rec.Get(NewFieldKey(0, ieUnits)); v != nil {
		if u, ok := v.Value().(uint16); ok {
			unit := units.FromNumber(u)
			ie.Units = &unit
		}
	}

	var rang *InformationElementRange
	if v := rec.Get(NewFieldKey(0, ieRangeBegin)); v != nil {
		if r, ok := v.Value().(uint64); ok {
			rang = &InformationElementRange{Low: int(r)}
		}
	}
	if v := rec.Get(NewFieldKey(0, ieRangeEnd)); v != nil {
		if r, ok := v.Value().(uint64); ok {
			if rang == nil {
				rang = &InformationElementRange{}
			}
			rang.High = int(r)
		}
	}
	ie.Range = rang

	return ie, nil
}

// ieToDataRecord builds the Options Data Record announcing ie's metadata,
// shaped per tmpl (as built by ElementTypeOptionsTemplate), the reverse of
// dataRecordToIE.
func ieToDataRecord(ie *InformationElement, tmpl *Template) *Record {
	rec := NewRecord(tmpl)
	rec.Values[0] = NewUnsigned32().SetValue(int(ie.EnterpriseId))
	rec.Values[1] = NewUnsigned16().SetValue(int(ie.Id))

	var dataType uint8
	if ie.Type != nil {
		dataType = dataTypeNumber(*ie.Type)
	} else if ie.Constructor != nil {
		dataType = dataTypeNumber(ie.Constructor().Type())
	}
	rec.Values[2] = NewUnsigned8().SetValue(int(dataType))
	rec.Values[3] = NewUnsigned8().SetValue(int(ie.Semantics))

	var unitCode uint16
	if ie.Units != nil {
		unitCode = units.ToNumber(*ie.Units)
	}
	rec.Values[4] = NewUnsigned16().SetValue(int(unitCode))

	var low, high int
	if ie.Range != nil {
		low, high = ie.Range.Low, ie.Range.High
	}
	rec.Values[5] = NewUnsigned64().SetValue(low)
	rec.Values[6] = NewUnsigned64().SetValue(high)

	rec.Values[7] = NewString().SetValue(ie.Name)
	var desc string
	if ie.Description != nil {
		desc = *ie.Description
	}
	rec.Values[8] = NewString().SetValue(desc)

	return rec
}

// dataTypeNumber inverts DataTypeFromNumber by constructing each candidate
// and comparing its Type() string, since DataTypeConstructor carries no id
// of its own.
func dataTypeNumber(typeName string) uint8 {
	for id := uint8(0); id <= 22; id++ {
		ctor := DataTypeFromNumber(id)
		if ctor().Type() == typeName {
			return id
		}
	}
	return 0
}

// ElementTypeOptionsTemplate builds the RFC 5610 Options Template used to
// announce Information Element metadata, scoped by privateEnterpriseNumber
// and informationElementId.
func ElementTypeOptionsTemplate(id uint16, model *InformationModel) *Template {
	t := NewOptionsTemplate(id, 2, model)
	t.Append(0, iePrivateEnterprise, 0)
	t.Append(0, ieElementId, 0)
	t.Append(0, ieDataType, 0)
	t.Append(0, ieSemantics, 0)
	t.Append(0, ieUnits, 0)
	t.Append(0, ieRangeBegin, 0)
	t.Append(0, ieRangeEnd, 0)
	t.Append(0, ieName, 0xFFFF)
	t.Append(0, ieDescription, 0xFFFF)
	return t
}
