package task

import (
	"math"
	"time"

	"github.com/me/cotask/pkg/model"
)

// Schedulable is implemented by exactly two types, *Task and *Group.
type Schedulable interface {
	Name() string
	State() model.TaskState
	StateValue() *StateValue
	EstimatedDuration() float64
	ExecutedCPUTime() time.Duration
	ComputeProgress() float64
	Join(resolve func(), reject func(error))
	OnStarted(fn func())
	OnCompleted(fn func())
	OnFailed(fn func(error))

	// Leaves returns every leaf task, depth first and without duplicates.
	Leaves() []*Task

	schedulable()
}

func (*Task) schedulable()  {}
func (*Group) schedulable() {}

// weight normalizes an estimated duration for aggregation: negative values
// count as zero and NaN reports ok=false so the item is skipped entirely.
func weight(d float64) (w float64, ok bool) {
	if math.IsNaN(d) {
		return 0, false
	}
	if d < 0 {
		return 0, true
	}
	return d, true
}

// WeightedProgress is the duration-weighted mean progress of items.
// Items whose estimate is NaN are excluded and a zero total weight yields 0.
func WeightedProgress(owner string, items []Schedulable) float64 {
	var num, den float64
	for _, item := range items {
		w, ok := weight(item.EstimatedDuration())
		if !ok {
			continue
		}
		p := item.ComputeProgress()
		checkProgress(owner, p)
		num += p * w
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func checkProgress(name string, p float64) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		panic(&model.ContractError{
			Name:    name,
			Message: "progress " + formatFloat(p) + " outside [0,1]",
		})
	}
}
