package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// ErrDeviceNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrDeviceNotRegistered = errors.New("config: audio device not registered")

// Registry maps backend names to device constructors. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	capture  map[string]func(DeviceConfig) (audio.CaptureDevice, error)
	playback map[string]func(DeviceConfig) (audio.OutputDevice, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:  make(map[string]func(DeviceConfig) (audio.CaptureDevice, error)),
		playback: make(map[string]func(DeviceConfig) (audio.OutputDevice, error)),
	}
}

// RegisterCapture registers a microphone backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(DeviceConfig) (audio.CaptureDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayback registers a speaker backend factory under name.
func (r *Registry) RegisterPlayback(name string, factory func(DeviceConfig) (audio.OutputDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback[name] = factory
}

// CreateCapture instantiates the microphone backend registered under
// entry.Name. Returns [ErrDeviceNotRegistered] for unknown names.
func (r *Registry) CreateCapture(entry DeviceConfig) (audio.CaptureDevice, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q (registered: %v)", ErrDeviceNotRegistered, entry.Name, r.CaptureNames())
	}
	return factory(entry)
}

// CreatePlayback instantiates the speaker backend registered under entry.Name.
func (r *Registry) CreatePlayback(entry DeviceConfig) (audio.OutputDevice, error) {
	r.mu.RLock()
	factory, ok := r.playback[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: playback/%q (registered: %v)", ErrDeviceNotRegistered, entry.Name, r.PlaybackNames())
	}
	return factory(entry)
}

// CaptureNames returns the registered microphone backends, sorted.
func (r *Registry) CaptureNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.capture)
}

// PlaybackNames returns the registered speaker backends, sorted.
func (r *Registry) PlaybackNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.playback)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
