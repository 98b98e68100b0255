//go:build !windows

package notification

// showPopup has no dialog to open outside Windows; Notify already logged.
func showPopup(title, message string) error {
	return nil
}
