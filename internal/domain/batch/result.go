package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of processing one upload in a bulk operation.
// Items are reported in request order and identified by their filename.
type Result struct {
	filename   string
	documentID string
	version    int
	status     ItemStatus
	err        error
}

// NewOK creates a successful batch result.
func NewOK(filename, documentID string, version int) Result {
	return Result{filename: filename, documentID: documentID, version: version, status: StatusOK}
}

// NewError creates a failed batch result.
func NewError(filename string, err error) Result {
	return Result{filename: filename, status: StatusError, err: err}
}

// Filename returns the uploaded filename.
func (r Result) Filename() string { return r.filename }

// DocumentID returns the created document, empty on failure.
func (r Result) DocumentID() string { return r.documentID }

// Version returns the created version number, 0 on failure.
func (r Result) Version() int { return r.version }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Summary counts successes and failures.
func Summary(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.status == StatusOK {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
