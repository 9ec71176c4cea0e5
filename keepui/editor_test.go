package keepui

import (
	"sort"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testEditorSettings() *AttributeEditorSettings {
	settings := DefaultAttributeEditorSettings()
	settings.CompletionDelay = 10 * time.Millisecond
	return settings
}

func waitEditorStatus(t *testing.T, statuses chan EditorStatus) EditorStatus {
	t.Helper()
	select {
	case status := <-statuses:
		return status
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for editor status")
		return ""
	}
}

func claimOpKeys(ops []*attributeClaimOp) []string {
	keys := []string{}
	for _, op := range ops {
		keys = append(keys, op.claimType+" "+op.attr+"="+op.value)
	}
	sort.Strings(keys)
	return keys
}

func TestDiffEdits(t *testing.T) {
	current := &Permanode{
		Attr: map[string]AttrValues{
			AttrTag:   {"beach", "2019"},
			AttrTitle: {"old title"},
		},
	}

	// unchanged values produce no claims
	ops := diffEdits(current, map[string][]string{
		AttrTag: {"beach", "2019"},
	})
	assert.Equal(t, 0, len(ops))

	ops = diffEdits(current, map[string][]string{
		AttrTag:   {"beach", "sunset"},
		AttrTitle: {"new title"},
	})
	assert.Equal(t, []string{
		"add-attribute tag=sunset",
		"add-attribute title=new title",
		"del-attribute tag=2019",
		"del-attribute title=old title",
	}, claimOpKeys(ops))

	// attributes not named in the edits are untouched
	ops = diffEdits(current, map[string][]string{
		AttrDescription: {"a day out"},
	})
	assert.Equal(t, []string{
		"add-attribute description=a day out",
	}, claimOpKeys(ops))

	// nil current permanode means everything wanted is an add
	ops = diffEdits(nil, map[string][]string{
		AttrTitle: {"fresh"},
	})
	assert.Equal(t, []string{
		"add-attribute title=fresh",
	}, claimOpKeys(ops))

	// clearing an attribute is all deletes
	ops = diffEdits(current, map[string][]string{
		AttrTitle: {},
	})
	assert.Equal(t, []string{
		"del-attribute title=old title",
	}, claimOpKeys(ops))
}

func TestAttributeEditorSave(t *testing.T) {
	camli := newTestCamliServer()
	defer camli.close()

	sc := NewServerConnection(camli.discovery())
	defer sc.Close()

	permanode := HashString("edited permanode")
	editor := NewAttributeEditorWithSettings(sc, permanode, testEditorSettings())

	statuses := make(chan EditorStatus, 8)
	editor.AddStatusCallback(func(status EditorStatus, message string) {
		statuses <- status
	})

	current := &Permanode{
		Attr: map[string]AttrValues{
			AttrTag: {"beach"},
		},
	}
	editor.Save(current, map[string][]string{
		AttrTag: {"beach", "sunset"},
	})

	assert.Equal(t, EditorStatusSaving, waitEditorStatus(t, statuses))
	assert.Equal(t, EditorStatusIdle, waitEditorStatus(t, statuses))

	claims := camli.claims()
	assert.Equal(t, 1, len(claims))
	assert.Equal(t, ClaimAddAttribute, claims[0].ClaimType)
	assert.Equal(t, AttrTag, claims[0].Attribute)
	assert.Equal(t, "sunset", claims[0].Value)
	assert.Equal(t, permanode.String(), claims[0].PermaNode)
}

func TestAttributeEditorEmptyDiff(t *testing.T) {
	camli := newTestCamliServer()
	defer camli.close()

	sc := NewServerConnection(camli.discovery())
	defer sc.Close()

	editor := NewAttributeEditorWithSettings(sc, HashString("pn"), testEditorSettings())

	statuses := make(chan EditorStatus, 8)
	editor.AddStatusCallback(func(status EditorStatus, message string) {
		statuses <- status
	})

	current := &Permanode{
		Attr: map[string]AttrValues{
			AttrTitle: {"same"},
		},
	}
	editor.Save(current, map[string][]string{
		AttrTitle: {"same"},
	})

	// nothing to do, no status churn, no claims
	select {
	case status := <-statuses:
		t.Fatalf("unexpected status %s", status)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, len(camli.claims()))

	status, _ := editor.Status()
	assert.Equal(t, EditorStatusIdle, status)
}

func TestAttributeEditorSaveFailure(t *testing.T) {
	camli := newTestCamliServer()
	defer camli.close()
	camli.setSignFail(true)

	sc := NewServerConnection(camli.discovery())
	defer sc.Close()

	editor := NewAttributeEditorWithSettings(sc, HashString("pn"), testEditorSettings())

	type statusChange struct {
		status  EditorStatus
		message string
	}
	changes := make(chan statusChange, 8)
	editor.AddStatusCallback(func(status EditorStatus, message string) {
		changes <- statusChange{status: status, message: message}
	})

	editor.Save(nil, map[string][]string{
		AttrTitle: {"doomed"},
	})

	change := <-changes
	assert.Equal(t, EditorStatusSaving, change.status)

	select {
	case change = <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for failed status")
	}
	assert.Equal(t, EditorStatusFailed, change.status)
	assert.MatchRegex(t, change.message, "^Could not save changes: ")

	// failed state is sticky until the next save attempt
	status, message := editor.Status()
	assert.Equal(t, EditorStatusFailed, status)
	assert.NotEqual(t, "", message)

	// recovery: the next save runs and lands back on idle
	camli.setSignFail(false)
	editor.Save(nil, map[string][]string{
		AttrTitle: {"second try"},
	})
	assert.Equal(t, EditorStatusSaving, (<-changes).status)
	select {
	case change = <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for idle status")
	}
	assert.Equal(t, EditorStatusIdle, change.status)
}
