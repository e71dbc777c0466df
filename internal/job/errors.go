package job

import "errors"

// ErrTryAgainLater is the cooperative signal a job body raises to request
// re-execution in place, typically after a Yield could not be performed.
// It never exits the job system: the queue's dispatch loop retries the
// same thunk without advancing past it or releasing category exclusivity.
var ErrTryAgainLater = errors.New("job: try again later")
