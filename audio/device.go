package audio

import "github.com/plugdev/plugdev"

// Device is a started audio backend driving the pipeline's callbacks. The
// pipeline owns the device for its session: negotiated once, released only
// by an explicit Stop.
type Device interface {
	Start() error
	Stop() error
	Status() plugdev.AudioStatus
}
