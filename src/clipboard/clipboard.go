package clipboard

import (
	"os"
	"sync"

	"golang.design/x/clipboard"

	"croquis-timer/src/imagelist"
	"croquis-timer/src/screenshot"
)

var (
	writeMu  sync.Mutex
	initOnce sync.Once
	initErr  error
)

// Init prepares the system clipboard. It is safe to call more than once.
func Init() error {
	initOnce.Do(func() { initErr = clipboard.Init() })
	return initErr
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	if err := Init(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// CopyImage decodes the image at path and places it on the clipboard as PNG.
func CopyImage(path string) error {
	data, err := EncodeFile(path)
	if err != nil {
		return err
	}
	if err := Init(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtImage, data)
	return nil
}

// EncodeFile decodes any supported image format and re-encodes it as PNG,
// the only image format the clipboard accepts.
func EncodeFile(path string) ([]byte, error) {
	img, format, err := imagelist.Decode(path)
	if err != nil {
		return nil, err
	}
	if format == "png" {
		return os.ReadFile(path)
	}
	return screenshot.EncodePNG(img)
}
