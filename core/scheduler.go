package core

// Timer represents a scheduled foreground event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer adds a timer to the schedule
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	insertTimer(t)
}

// CancelTimer removes t from the schedule if it is queued
func CancelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for link := &timerList; *link != nil; link = &(*link).Next {
		if *link == t {
			*link = t.Next
			t.Next = nil
			return
		}
	}
}

// insertTimer inserts a timer in wake order, after timers due at the same tick
func insertTimer(t *Timer) {
	link := &timerList
	for *link != nil && !timerIsBefore(t.WakeTime, (*link).WakeTime) {
		link = &(*link).Next
	}
	t.Next = *link
	*link = t
}

// TimerDispatch runs every timer due at currentTime.
// Timers rescheduled by their handler run again on a later dispatch at the
// earliest, even when their new wake time is already due.
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	var again *Timer
	for timerList != nil && !timerIsBefore(currentTime, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == SF_RESCHEDULE {
			timer.Next = again
			again = timer
		}
	}
	for again != nil {
		timer := again
		again = timer.Next
		insertTimer(timer)
	}
}
