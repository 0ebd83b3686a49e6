package pouch

import "os"

// isNotExist lets every pouch's Load treat a missing subdirectory as
// "nothing persisted yet" rather than an error.
func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
