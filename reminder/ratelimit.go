/*
ratelimit.go - Minimum spacing between reminders to one thread

PURPOSE:
  Keeps a thread from being hammered: a reminder may go out only when at
  least RateLimitMinutes whole minutes have passed since the thread's
  last_reminded_at. Managers doing an explicit double-confirmed re-send
  bypass the check with the override flag.

CORRECTNESS NOTE:
  The decision is only as good as its input. Callers must pass the
  last_reminded_at of a thread row re-read at trigger time, not one
  cached from an earlier listing, so concurrent triggers (manual send
  racing a recurring pass) cannot both slip through. threads.go owns
  that re-read.

SEE ALSO:
  - threads.go: re-reads the row and applies the conditional update
  - sender.go: converts a blocked decision into RateLimitError
*/
package reminder

import "time"

// RateLimitDecision is the outcome of one spacing check. RetryAfter is
// only meaningful when Allowed is false.
type RateLimitDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// CheckRateLimit decides whether a reminder may be sent now given the
// thread's last reminder instant (nil = never reminded). Elapsed time
// counts in whole minutes: with a 60-minute limit, 59m59s is blocked and
// 60m00s is allowed. The wait hint rounds up to whole seconds, minimum 1.
func CheckRateLimit(lastRemindedAt *time.Time, limitMinutes int, override bool, nowUTC time.Time) RateLimitDecision {
	if override || lastRemindedAt == nil || limitMinutes <= 0 {
		return RateLimitDecision{Allowed: true}
	}

	elapsed := nowUTC.Sub(*lastRemindedAt)
	if int(elapsed.Minutes()) >= limitMinutes {
		return RateLimitDecision{Allowed: true}
	}

	remaining := time.Duration(limitMinutes)*time.Minute - elapsed
	retryAfter := remaining.Truncate(time.Second)
	if retryAfter < remaining {
		retryAfter += time.Second
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return RateLimitDecision{Allowed: false, RetryAfter: retryAfter}
}
