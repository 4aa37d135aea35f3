package download

import "fmt"

// HTTPError represents a non-2xx HTTP response.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d for %s", e.StatusCode, e.URL)
}

// MismatchError means the downloaded bytes did not hash to the published
// checksum. The temp file has already been discarded when this is returned.
type MismatchError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: got %s, expected %s", e.URL, e.Actual, e.Expected)
}
