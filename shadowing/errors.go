package shadowing

import (
	"errors"
	"fmt"
)

// ErrObstacleConfiguration marks setup mistakes that make obstacle shadowing
// unusable. They are fatal and must not be retried.
var ErrObstacleConfiguration = errors.New("obstacle shadowing configuration error")

var (
	// ErrNoObstacles is returned by FilterSignal when the registry has no
	// obstacle types configured.
	ErrNoObstacles = fmt.Errorf("%w: no obstacle types have been configured, or no obstacles have been added", ErrObstacleConfiguration)

	// ErrTorusPlayground is returned by NewFilter for wrap-around playgrounds.
	ErrTorusPlayground = fmt.Errorf("%w: obstacle shadowing does not work on torus-shaped playgrounds", ErrObstacleConfiguration)

	// ErrNoRegistry is returned by NewFilter when no obstacle registry is given.
	ErrNoRegistry = fmt.Errorf("%w: no obstacle registry", ErrObstacleConfiguration)
)

// ErrClosed is returned when a filter is used after Close.
var ErrClosed = errors.New("shadowing filter closed")
