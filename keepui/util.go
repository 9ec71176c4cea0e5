package keepui

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/oklog/ulid/v2"
)

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

// subscriber list for function-typed callbacks.
// `Add` returns the unsubscribe function since func values cannot be compared.
// `Get` returns a stable snapshot so emit can iterate without the lock.
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextIndex int
	callbacks map[int]T
	order     []int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	out := make([]T, 0, len(self.order))
	for _, i := range self.order {
		out = append(out, self.callbacks[i])
	}
	return out
}

func (self *CallbackList[T]) Add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := self.nextIndex
	self.nextIndex += 1
	self.callbacks[i] = callback
	self.order = append(self.order, i)
	return func() {
		self.remove(i)
	}
}

func (self *CallbackList[T]) remove(i int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[i]; !ok {
		return
	}
	delete(self.callbacks, i)
	j := slices.Index(self.order, i)
	self.order = slices.Delete(slices.Clone(self.order), j, j+1)
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}
