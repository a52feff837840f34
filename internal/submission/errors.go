package submission

import (
	"fmt"
	"strings"
)

var connectivityMarkers = []string{"connection", "network", "refused", "unreachable", "timeout", "eof", "reset"}

// SubmitError is the terminal error once submit retries are exhausted.
type SubmitError struct {
	Attempts     int
	Connectivity bool
	Err          error
}

func newSubmitError(attempts int, err error) *SubmitError {
	return &SubmitError{Attempts: attempts, Connectivity: isConnectivity(err), Err: err}
}

func isConnectivity(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range connectivityMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (e *SubmitError) Error() string {
	if e.Connectivity {
		return fmt.Sprintf("could not reach the assignment store after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("submission failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
