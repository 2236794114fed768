package recognition

import "errors"

// ErrNoFrame means a recognizer was invoked without a captured image.
var ErrNoFrame = errors.New("no captured frame")
