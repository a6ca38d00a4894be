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
	"testing"
)

func TestSessionAutoTemplateIdRanges(t *testing.T) {
	model := testModel()
	session := NewSession(model)

	external := NewTemplate(0, model).Append(0, 1, 0)
	external, err := session.AddTemplate(1, external)
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if external.Id < MinimumTemplateId {
		t.Fatalf("external id = %d, want >= %d", external.Id, MinimumTemplateId)
	}

	internal := NewTemplate(0, model).Append(0, 1, 0)
	session.AddInternalTemplate(internal)
	if internal.Id <= 65535-100 {
		t.Fatalf("internal id = %d, want close to 65535", internal.Id)
	}
	if internal.Id == external.Id {
		t.Fatalf("internal and external auto-assigned ids collided: %d", internal.Id)
	}
}

func TestSessionAddTemplateSkipsIdInUse(t *testing.T) {
	model := testModel()
	session := NewSession(model)

	first, err := session.AddTemplate(1, NewTemplate(MinimumTemplateId, model).Append(0, 1, 0))
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if first.Id != MinimumTemplateId {
		t.Fatalf("first id = %d, want %d", first.Id, MinimumTemplateId)
	}

	second, err := session.AddTemplate(1, NewTemplate(0, model).Append(0, 2, 0))
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if second.Id == MinimumTemplateId {
		t.Fatalf("auto-assigned id collided with the already-registered template at %d", MinimumTemplateId)
	}
}

func TestSessionCloneRetainsInternalTemplates(t *testing.T) {
	model := testModel()
	session := NewSession(model)
	tmpl := NewTemplate(1000, model).Append(0, 1, 0)
	session.AddInternalTemplate(tmpl)

	var notified bool
	session.OnNewTemplate(func(domain uint32, t *Template) { notified = true })

	clone := session.Clone()
	got, err := clone.GetInternalTemplate(1000)
	if err != nil {
		t.Fatalf("clone lost internal template 1000: %v", err)
	}
	if got != tmpl {
		t.Fatalf("clone's internal template is not the same retained instance")
	}
	if got.RefCount() < 2 {
		t.Errorf("RefCount = %d, want >= 2 after Clone retains it", got.RefCount())
	}

	clone.AddTemplate(1, NewTemplate(2000, model).Append(0, 1, 0))
	if !notified {
		t.Errorf("clone did not carry over the new-template callback")
	}
}

func TestSessionExportTemplatesUsesExternalTable(t *testing.T) {
	model := testModel()
	session := NewSession(model)
	session.AddTemplate(1, NewTemplate(MinimumTemplateId, model).Append(0, 1, 0))
	session.AddInternalTemplate(NewTemplate(9000, model).Append(0, 2, 0))

	var buf bytes.Buffer
	n, err := session.ExportTemplates(1, &buf)
	if err != nil {
		t.Fatalf("ExportTemplates: %v", err)
	}
	if n == 0 {
		t.Fatalf("ExportTemplates wrote nothing")
	}

	sh, _, err := DecodeSetHeader(&buf)
	if err != nil {
		t.Fatalf("DecodeSetHeader: %v", err)
	}
	decoded, _, err := DecodeTemplate(&buf, TemplateKindData, model)
	if err != nil {
		t.Fatalf("DecodeTemplate: %v", err)
	}
	if sh.Id != SetIdTemplate {
		t.Fatalf("set id = %d, want %d", sh.Id, SetIdTemplate)
	}
	if decoded.Id != MinimumTemplateId {
		t.Fatalf("exported template id = %d, want the external template %d, not the internal-only one", decoded.Id, MinimumTemplateId)
	}
}
