package buffer

import "errors"

// ErrWouldOverflow is returned by Extend when appending would push the
// live window past maxCap.
var ErrWouldOverflow = errors.New("buffer: write would exceed max capacity")
