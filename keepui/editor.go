package keepui

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

type EditorStatus string

const (
	EditorStatusIdle   EditorStatus = "idle"
	EditorStatusSaving EditorStatus = "saving"
	EditorStatusFailed EditorStatus = "failed"
)

type EditorStatusFunction func(status EditorStatus, message string)

type AttributeEditorSettings struct {
	// idle is delayed after the last claim completes so a quick save still
	// shows as saved
	CompletionDelay time.Duration
}

func DefaultAttributeEditorSettings() *AttributeEditorSettings {
	return &AttributeEditorSettings{
		CompletionDelay: 500 * time.Millisecond,
	}
}

// AttributeEditor sequences the sign+upload+claim operations that mutate a
// permanode's attributes, surfacing save status without blocking callers.
type AttributeEditor struct {
	sc        *ServerConnection
	permanode BlobRef
	settings  *AttributeEditorSettings

	mutex         sync.Mutex
	status        EditorStatus
	statusMessage string

	statusCallbacks *CallbackList[EditorStatusFunction]
}

func NewAttributeEditor(sc *ServerConnection, permanode BlobRef) *AttributeEditor {
	return NewAttributeEditorWithSettings(sc, permanode, DefaultAttributeEditorSettings())
}

func NewAttributeEditorWithSettings(
	sc *ServerConnection,
	permanode BlobRef,
	settings *AttributeEditorSettings,
) *AttributeEditor {
	return &AttributeEditor{
		sc:              sc,
		permanode:       permanode,
		settings:        settings,
		status:          EditorStatusIdle,
		statusCallbacks: NewCallbackList[EditorStatusFunction](),
	}
}

func (self *AttributeEditor) AddStatusCallback(callback EditorStatusFunction) func() {
	return self.statusCallbacks.Add(callback)
}

func (self *AttributeEditor) Status() (EditorStatus, string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.status, self.statusMessage
}

type attributeClaimOp struct {
	claimType string
	attr      string
	value     string
}

// diffEdits computes the add and delete claims that take the permanode's
// current attribute state to the desired one. A desired pair that already
// exists is a no-op.
func diffEdits(current *Permanode, edits map[string][]string) []*attributeClaimOp {
	ops := []*attributeClaimOp{}
	for name, want := range edits {
		var have AttrValues
		if current != nil {
			have = current.Attr[name]
		}
		for _, value := range want {
			if !slices.Contains(have, value) {
				ops = append(ops, &attributeClaimOp{
					claimType: ClaimAddAttribute,
					attr:      name,
					value:     value,
				})
			}
		}
		for _, value := range have {
			if !slices.Contains(want, value) {
				ops = append(ops, &attributeClaimOp{
					claimType: ClaimDelAttribute,
					attr:      name,
					value:     value,
				})
			}
		}
	}
	return ops
}

// Save diffs the desired attribute values against the permanode's current
// state and issues the add/del claims concurrently. Status transitions
// idle -> saving -> idle on success (after the completion delay), or to
// failed with a single human-readable message. No automatic retry.
// A save while another is in flight is dropped.
func (self *AttributeEditor) Save(current *Permanode, edits map[string][]string) {
	self.mutex.Lock()
	if self.status == EditorStatusSaving {
		self.mutex.Unlock()
		return
	}

	ops := diffEdits(current, edits)
	if len(ops) == 0 {
		self.mutex.Unlock()
		return
	}

	self.status = EditorStatusSaving
	self.statusMessage = ""
	self.mutex.Unlock()
	self.emitStatus()

	go self.runClaims(ops)
}

func (self *AttributeEditor) runClaims(ops []*attributeClaimOp) {
	var waitGroup sync.WaitGroup

	errs := make([]error, len(ops))
	for i, op := range ops {
		i := i
		waitGroup.Add(1)
		callback := NewApiCallback[BlobRef](func(claimRef BlobRef, err error) {
			errs[i] = err
			waitGroup.Done()
		})
		switch op.claimType {
		case ClaimAddAttribute:
			self.sc.NewAddAttributeClaim(self.permanode, op.attr, op.value, callback)
		case ClaimDelAttribute:
			self.sc.NewDelAttributeClaim(self.permanode, op.attr, op.value, callback)
		case ClaimSetAttribute:
			self.sc.NewSetAttributeClaim(self.permanode, op.attr, op.value, callback)
		}
	}
	waitGroup.Wait()

	for _, err := range errs {
		if err != nil {
			glog.Infof("[ed]%s save failed = %s\n", self.permanode, err)
			self.mutex.Lock()
			self.status = EditorStatusFailed
			self.statusMessage = "Could not save changes: " + err.Error()
			self.mutex.Unlock()
			self.emitStatus()
			return
		}
	}

	glog.V(2).Infof("[ed]%s saved %d claims\n", self.permanode, len(ops))
	time.Sleep(self.settings.CompletionDelay)

	self.mutex.Lock()
	self.status = EditorStatusIdle
	self.statusMessage = ""
	self.mutex.Unlock()
	self.emitStatus()
}

func (self *AttributeEditor) emitStatus() {
	self.mutex.Lock()
	status := self.status
	message := self.statusMessage
	self.mutex.Unlock()

	for _, callback := range self.statusCallbacks.Get() {
		callback(status, message)
	}
}
