package domain

import "time"

// Result accumulates the outcome of the attempts to execute one command.
type Result struct {
	ExecutionCount     int       `json:"execution_count"`
	RetriesLeft        int       `json:"retries_left"`
	LastExecuted       time.Time `json:"last_executed"`
	NumAuthExceptions  int       `json:"num_auth_exceptions"`
	NumIoExceptions    int       `json:"num_io_exceptions"`
	NumParseExceptions int       `json:"num_parse_exceptions"`
	Message            string    `json:"message,omitempty"`
	Progress           string    `json:"progress,omitempty"`
	DownloadedCount    int       `json:"downloaded_count"`
	NewCount           int       `json:"new_count"`
	ResultItemID       string    `json:"result_item_id,omitempty"`
}

func NewResult(code CommandCode) Result {
	return Result{RetriesLeft: code.InitialRetries()}
}

// PrepareForLaunch resets the per-attempt state before an execution starts.
func (r *Result) PrepareForLaunch(now time.Time) {
	r.ExecutionCount++
	r.LastExecuted = now
	r.NumAuthExceptions = 0
	r.NumIoExceptions = 0
	r.NumParseExceptions = 0
	r.Message = ""
	r.Progress = ""
	r.DownloadedCount = 0
	r.NewCount = 0
}

// AfterExecutionEnded spends one retry after a failed attempt.
func (r *Result) AfterExecutionEnded() {
	if r.HasError() && r.RetriesLeft > 0 {
		r.RetriesLeft--
	}
	r.Progress = ""
}

func (r *Result) ResetRetries(code CommandCode) {
	r.RetriesLeft = code.InitialRetries()
}

func (r *Result) IncrementAuth(msg string) {
	r.NumAuthExceptions++
	r.Message = msg
}

func (r *Result) IncrementIo(msg string) {
	r.NumIoExceptions++
	r.Message = msg
}

func (r *Result) IncrementParse(msg string) {
	r.NumParseExceptions++
	r.Message = msg
}

func (r Result) HasError() bool { return r.HasSoftError() || r.HasHardError() }

func (r Result) HasSoftError() bool { return r.NumIoExceptions > 0 }

func (r Result) HasHardError() bool { return r.NumAuthExceptions > 0 || r.NumParseExceptions > 0 }

// ShouldRetry holds for soft failures with budget left. Hard failures are never retried.
func (r Result) ShouldRetry() bool {
	return r.HasSoftError() && !r.HasHardError() && r.RetriesLeft > 0
}
