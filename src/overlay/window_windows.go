//go:build windows

package overlay

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"croquis-timer/src/screenshot"
)

const (
	windowClassName = "CroquisSelection"
	windowTitle     = "Select your drawing - drag a rectangle, ESC cancels"
	waInactive      = 0
	penColor        = 0x0000FF // BGR red
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procAllowSetForegroundWindow = user32.NewProc("AllowSetForegroundWindow")
	gdi32                        = windows.NewLazySystemDLL("gdi32.dll")
	procCreatePen                = gdi32.NewProc("CreatePen")
	procRectangle                = gdi32.NewProc("Rectangle")

	registerOnce sync.Once
	registerErr  error
	crossCursor  win.HCURSOR

	// current is the open window's state; only one selection window exists at a time
	current atomic.Pointer[windowState]
)

// windowState is owned by the window thread.
type windowState struct {
	feed   func(Input)
	origin image.Point
	width  int32
	height int32
	bitmap win.HBITMAP

	activated  bool
	lost       bool
	dragging   bool
	start, end image.Point
}

type win32Window struct {
	mu   sync.Mutex
	hwnd win.HWND
	done chan struct{}
}

// NewWindow returns the Win32 selection window.
func NewWindow() Window { return &win32Window{} }

// Open freezes the screen into a topmost popup covering every display and
// returns once the window is shown.
func (w *win32Window) Open(windowID string, feed func(Input)) error {
	w.Close()

	img, origin, err := screenshot.CaptureDisplay()
	if err != nil {
		return fmt.Errorf("freeze screen: %w", err)
	}

	ready := make(chan error, 1)
	done := make(chan struct{})
	go w.loop(img, origin, feed, ready, done)
	if err := <-ready; err != nil {
		return err
	}
	w.mu.Lock()
	w.done = done
	w.mu.Unlock()
	log.Printf("Surface: selection window open for %s at %v", windowID, origin)
	return nil
}

// Close destroys the window and waits for its thread to finish.
func (w *win32Window) Close() {
	w.mu.Lock()
	hwnd, done := w.hwnd, w.done
	w.hwnd, w.done = 0, nil
	w.mu.Unlock()

	if hwnd != 0 {
		win.PostMessage(hwnd, win.WM_CLOSE, 0, 0)
	}
	if done != nil {
		<-done
	}
}

// loop runs the window on its own OS thread. The thread is never unlocked,
// so it exits with the goroutine together with its message queue.
func (w *win32Window) loop(img *image.RGBA, origin image.Point, feed func(Input), ready chan<- error, done chan struct{}) {
	runtime.LockOSThread()
	defer close(done)

	registerOnce.Do(registerClass)
	if registerErr != nil {
		ready <- registerErr
		return
	}

	b := img.Bounds()
	st := &windowState{
		feed:   feed,
		origin: origin,
		width:  int32(b.Dx()),
		height: int32(b.Dy()),
	}
	st.bitmap = newBitmap(img)
	if st.bitmap == 0 {
		ready <- errors.New("failed to create screen bitmap")
		return
	}
	current.Store(st)
	defer current.CompareAndSwap(st, nil)

	hwnd := win.CreateWindowEx(
		win.WS_EX_TOPMOST|win.WS_EX_TOOLWINDOW,
		syscall.StringToUTF16Ptr(windowClassName),
		syscall.StringToUTF16Ptr(windowTitle),
		win.WS_POPUP|win.WS_VISIBLE,
		int32(origin.X), int32(origin.Y), st.width, st.height,
		0, 0, win.GetModuleHandle(nil), nil,
	)
	if hwnd == 0 {
		win.DeleteObject(win.HGDIOBJ(st.bitmap))
		ready <- errors.New("failed to create selection window")
		return
	}
	w.mu.Lock()
	w.hwnd = hwnd
	w.mu.Unlock()

	win.ShowWindow(hwnd, win.SW_SHOW)
	procAllowSetForegroundWindow.Call(uintptr(os.Getpid()))
	win.SetForegroundWindow(hwnd)
	win.BringWindowToTop(hwnd)
	win.SetFocus(hwnd)
	win.UpdateWindow(hwnd)
	ready <- nil

	var msg win.MSG
	for win.GetMessage(&msg, 0, 0, 0) > 0 {
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}
}

func registerClass() {
	crossCursor = win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_CROSS))
	wc := win.WNDCLASSEX{
		CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
		LpfnWndProc:   syscall.NewCallback(wndProc),
		HInstance:     win.GetModuleHandle(nil),
		HCursor:       crossCursor,
		LpszClassName: syscall.StringToUTF16Ptr(windowClassName),
	}
	if win.RegisterClassEx(&wc) == 0 {
		registerErr = errors.New("failed to register selection window class")
	}
}

// newBitmap copies img into a top-down 32-bit DIB.
func newBitmap(img *image.RGBA) win.HBITMAP {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	info := win.BITMAPINFOHEADER{
		BiSize:        uint32(unsafe.Sizeof(win.BITMAPINFOHEADER{})),
		BiWidth:       int32(w),
		BiHeight:      -int32(h),
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: win.BI_RGB,
	}
	hdc := win.GetDC(0)
	defer win.ReleaseDC(0, hdc)

	var bits unsafe.Pointer
	bmp := win.CreateDIBSection(hdc, &info, win.DIB_RGB_COLORS, &bits, 0, 0)
	if bmp == 0 {
		return 0
	}
	dst := unsafe.Slice((*byte)(bits), w*h*4)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		row := dst[y*w*4 : (y+1)*w*4]
		for x := 0; x < w*4; x += 4 {
			row[x], row[x+1], row[x+2], row[x+3] = src[x+2], src[x+1], src[x], 0xFF
		}
	}
	return bmp
}

func wndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	st := current.Load()
	if st == nil {
		return win.DefWindowProc(hwnd, msg, wParam, lParam)
	}

	switch msg {
	case win.WM_LBUTTONDOWN:
		p := clientPoint(lParam)
		win.SetCapture(hwnd)
		st.dragging = true
		st.start, st.end = p, p
		st.send(PointerDown, p)
		win.InvalidateRect(hwnd, nil, false)
		return 0

	case win.WM_MOUSEMOVE:
		if st.dragging {
			st.end = clientPoint(lParam)
			st.send(PointerMove, st.end)
			win.InvalidateRect(hwnd, nil, false)
		}
		return 0

	case win.WM_LBUTTONUP:
		if st.dragging {
			win.ReleaseCapture()
			st.dragging = false
			st.end = clientPoint(lParam)
			st.send(PointerUp, st.end)
			win.InvalidateRect(hwnd, nil, false)
		}
		return 0

	case win.WM_KEYDOWN:
		if wParam == win.VK_ESCAPE {
			st.loseFocus()
		}
		return 0

	case win.WM_ACTIVATE:
		if win.LOWORD(uint32(wParam)) == waInactive {
			if st.activated {
				st.loseFocus()
			}
		} else {
			st.activated = true
		}
		return 0

	case win.WM_KILLFOCUS:
		if st.activated {
			st.loseFocus()
		}
		return 0

	case win.WM_PAINT:
		st.paint(hwnd)
		return 0

	case win.WM_ERASEBKGND:
		return 1

	case win.WM_SETCURSOR:
		if crossCursor != 0 {
			win.SetCursor(crossCursor)
		}
		return 1

	case win.WM_NCHITTEST:
		return uintptr(win.HTCLIENT)

	case win.WM_CLOSE:
		win.DestroyWindow(hwnd)
		return 0

	case win.WM_DESTROY:
		win.DeleteObject(win.HGDIOBJ(st.bitmap))
		st.bitmap = 0
		win.PostQuitMessage(0)
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

// clientPoint decodes signed client coordinates from lParam.
func clientPoint(lParam uintptr) image.Point {
	return image.Pt(int(int16(win.LOWORD(uint32(lParam)))), int(int16(win.HIWORD(uint32(lParam)))))
}

func (st *windowState) send(kind InputKind, p image.Point) {
	v := p.Add(st.origin)
	st.feed(Input{Kind: kind, X: v.X, Y: v.Y})
}

func (st *windowState) loseFocus() {
	if st.lost {
		return
	}
	st.lost = true
	st.feed(Input{Kind: FocusLost})
}

func (st *windowState) paint(hwnd win.HWND) {
	var ps win.PAINTSTRUCT
	hdc := win.BeginPaint(hwnd, &ps)
	defer win.EndPaint(hwnd, &ps)

	if st.bitmap != 0 {
		mem := win.CreateCompatibleDC(hdc)
		old := win.SelectObject(mem, win.HGDIOBJ(st.bitmap))
		win.BitBlt(hdc, 0, 0, st.width, st.height, mem, 0, 0, win.SRCCOPY)
		win.SelectObject(mem, old)
		win.DeleteDC(mem)
	}

	hint := windowTitle
	win.SetBkMode(hdc, win.TRANSPARENT)
	win.SetTextColor(hdc, win.COLORREF(0x00FFFF))
	win.TextOut(hdc, 16, 16, syscall.StringToUTF16Ptr(hint), int32(len([]rune(hint))))

	if !st.dragging {
		return
	}
	r := image.Rectangle{Min: st.start, Max: st.end}.Canon()
	pen, _, _ := procCreatePen.Call(0, 3, penColor)
	oldPen := win.SelectObject(hdc, win.HGDIOBJ(pen))
	oldBrush := win.SelectObject(hdc, win.GetStockObject(win.NULL_BRUSH))
	procRectangle.Call(uintptr(hdc), uintptr(r.Min.X), uintptr(r.Min.Y), uintptr(r.Max.X), uintptr(r.Max.Y))
	win.SelectObject(hdc, oldPen)
	win.SelectObject(hdc, oldBrush)
	win.DeleteObject(win.HGDIOBJ(pen))
}
