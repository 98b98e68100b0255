//go:build windows

package notification

import (
	"golang.org/x/sys/windows"
)

const (
	mbOK              = 0x00000000
	mbIconInformation = 0x00000040
	mbTopMost         = 0x00040000
)

func showPopup(title, message string) error {
	titlePtr, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return err
	}
	messagePtr, err := windows.UTF16PtrFromString(message)
	if err != nil {
		return err
	}
	_, err = windows.MessageBox(0, messagePtr, titlePtr, mbOK|mbIconInformation|mbTopMost)
	return err
}
