package imagelist

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// IsImage reports whether name has a reference image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// FromDir lists the images directly inside dir as absolute paths in name order.
// Subdirectories are not descended into.
func FromDir(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(abs, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// FromArgs builds a queue from a mix of files and directories. Directories
// expand to their images; files are kept if they are images. Order follows
// args.
func FromArgs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			images, err := FromDir(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, images...)
			continue
		}
		if !IsImage(arg) {
			continue
		}
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no images found in %v", args)
	}
	return out, nil
}

// Shuffle returns a shuffled copy of queue. A nil r uses the global source.
func Shuffle(queue []string, r *rand.Rand) []string {
	out := append([]string(nil), queue...)
	swap := func(i, j int) { out[i], out[j] = out[j], out[i] }
	if r == nil {
		rand.Shuffle(len(out), swap)
	} else {
		r.Shuffle(len(out), swap)
	}
	return out
}
