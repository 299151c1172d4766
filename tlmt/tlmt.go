// Package tlmt emits anonymous product telemetry events. The instance id is
// derived from host facts, never from account data.
package tlmt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
)

var (
	once       sync.Once
	identifier instanceIdentifier
)

// Event is one telemetry data point.
type Event struct {
	AnonymousID string
	Name        string
	Properties  map[string]any
}

// NewEvent creates an event carrying the instance's anonymous id and host
// metadata plus the given properties.
func NewEvent(name string, props map[string]any) Event {
	instance := generateInstanceID()

	ev := Event{
		AnonymousID: instance.id,
		Name:        name,
		Properties:  make(map[string]any, len(instance.meta)+len(props)),
	}

	for k, v := range instance.meta {
		ev.Properties[k] = v
	}

	for k, v := range props {
		ev.Properties[k] = v
	}

	return ev
}

// Telemetry delivers events to a backend.
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

type instanceIdentifier struct {
	id   string
	meta map[string]any
}

func generateInstanceID() instanceIdentifier {
	once.Do(func() {
		seed, err := os.Hostname()
		if err != nil || seed == "" {
			seed = uuid.New().String()
		}

		hash := sha256.New()
		hash.Write([]byte(seed))
		hash.Write([]byte(runtime.GOARCH))
		hash.Write([]byte(runtime.GOOS))
		hash.Write([]byte(runtime.Version()))

		meta := make(map[string]any)

		if info, err := host.Info(); err == nil {
			meta["os"] = info.OS
			meta["platform"] = info.Platform
			meta["platform_family"] = info.PlatformFamily
			meta["platform_version"] = info.PlatformVersion
		}

		identifier.id = fmt.Sprintf("%x", hash.Sum(nil))
		identifier.meta = meta
	})

	return identifier
}
