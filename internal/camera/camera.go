// Package camera implements the scene-investigation rig: an orbiting camera
// addressed by focus/zoom/move directives in spherical coordinates around
// the focused object. Rendering the resulting view is delegated to a
// RenderFunc so the rig itself stays pure.
package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"sceneloop/internal/protocol"
)

// ErrNoTarget is returned for zoom/move before any focus.
var ErrNoTarget = errors.New("camera: no focus target set")

// Vec3 is a point in scene space.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// LocateFunc resolves an object name to its position. Empty names resolve to
// the scene origin.
type LocateFunc func(ctx context.Context, name string) (Vec3, error)

// RenderFunc renders a view from eye looking at target and returns the view
// reference.
type RenderFunc func(ctx context.Context, eye, target Vec3, view int) (string, error)

const (
	zoomStep  = 3.0
	minRadius = 1.0
	// poleMargin keeps the camera off the exact poles where the azimuth
	// degenerates.
	poleMargin = 0.1
)

// Rig holds the orbit state between directives. One rig serves one
// verifier session's rendering context.
type Rig struct {
	mu sync.Mutex

	locate LocateFunc
	render RenderFunc

	target    Vec3
	hasTarget bool
	radius    float64
	theta     float64 // azimuth around Z
	phi       float64 // elevation from the XY plane
	views     int
}

// NewRig creates a rig with the given resolvers. The initial eye position
// before the first focus sits on the +X axis at startRadius.
func NewRig(locate LocateFunc, render RenderFunc, startRadius float64) *Rig {
	if startRadius <= 0 {
		startRadius = 5
	}
	return &Rig{locate: locate, render: render, radius: startRadius}
}

// Apply executes one directive and renders the updated view.
func (r *Rig) Apply(ctx context.Context, d protocol.CameraDirective) (string, error) {
	switch d.Op {
	case protocol.CameraFocus:
		return r.focus(ctx, d.Target)
	case protocol.CameraZoom:
		return r.zoom(ctx, d.Direction)
	case protocol.CameraMove:
		return r.move(ctx, d.Direction)
	default:
		return "", fmt.Errorf("camera: unknown op %q", d.Op)
	}
}

// focus points the rig at the named object, keeping the current eye
// distance as the orbit radius.
func (r *Rig) focus(ctx context.Context, name string) (string, error) {
	target, err := r.locate(ctx, name)
	if err != nil {
		return "", fmt.Errorf("camera: locate %q: %w", name, err)
	}

	r.mu.Lock()
	eye := r.eyeLocked()
	r.target = target
	r.hasTarget = true

	rel := eye.sub(target)
	if l := rel.length(); l >= minRadius {
		r.radius = l
		r.theta = math.Atan2(rel.Y, rel.X)
		r.phi = math.Asin(rel.Z / l)
	}
	r.mu.Unlock()

	return r.renderView(ctx)
}

// zoom moves the eye along the view axis in fixed steps, never closer than
// minRadius.
func (r *Rig) zoom(ctx context.Context, direction string) (string, error) {
	r.mu.Lock()
	if !r.hasTarget {
		r.mu.Unlock()
		return "", ErrNoTarget
	}
	switch direction {
	case "in":
		r.radius = math.Max(minRadius, r.radius-zoomStep)
	case "out":
		r.radius += zoomStep
	default:
		r.mu.Unlock()
		return "", fmt.Errorf("camera: zoom direction %q", direction)
	}
	r.mu.Unlock()

	return r.renderView(ctx)
}

// move orbits the eye one arc step around the target. The step length
// equals the radius, clamped at the poles.
func (r *Rig) move(ctx context.Context, direction string) (string, error) {
	r.mu.Lock()
	if !r.hasTarget {
		r.mu.Unlock()
		return "", ErrNoTarget
	}

	step := r.radius
	thetaStep := step / (r.radius * math.Cos(r.phi))
	phiStep := step / r.radius

	switch direction {
	case "up":
		r.phi = math.Min(math.Pi/2-poleMargin, r.phi+phiStep)
	case "down":
		r.phi = math.Max(-math.Pi/2+poleMargin, r.phi-phiStep)
	case "left":
		r.theta -= thetaStep
	case "right":
		r.theta += thetaStep
	default:
		r.mu.Unlock()
		return "", fmt.Errorf("camera: move direction %q", direction)
	}
	r.mu.Unlock()

	return r.renderView(ctx)
}

func (r *Rig) renderView(ctx context.Context) (string, error) {
	r.mu.Lock()
	eye := r.eyeLocked()
	target := r.target
	r.views++
	view := r.views
	r.mu.Unlock()

	ref, err := r.render(ctx, eye, target, view)
	if err != nil {
		return "", fmt.Errorf("camera: render view %d: %w", view, err)
	}
	return ref, nil
}

// eyeLocked converts the spherical orbit state to the eye position.
func (r *Rig) eyeLocked() Vec3 {
	offset := Vec3{
		X: r.radius * math.Cos(r.phi) * math.Cos(r.theta),
		Y: r.radius * math.Cos(r.phi) * math.Sin(r.theta),
		Z: r.radius * math.Sin(r.phi),
	}
	return r.target.add(offset)
}

// Eye reports the current eye position.
func (r *Rig) Eye() Vec3 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eyeLocked()
}

// Radius reports the current orbit radius.
func (r *Rig) Radius() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.radius
}

// Views reports how many views have been rendered.
func (r *Rig) Views() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views
}
