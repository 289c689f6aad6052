package camera

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneloop/internal/protocol"
)

type recordingRenderer struct {
	eyes    []Vec3
	targets []Vec3
}

func (r *recordingRenderer) render(ctx context.Context, eye, target Vec3, view int) (string, error) {
	r.eyes = append(r.eyes, eye)
	r.targets = append(r.targets, target)
	return fmt.Sprintf("view_%03d.png", view), nil
}

func originLocator(positions map[string]Vec3) LocateFunc {
	return func(ctx context.Context, name string) (Vec3, error) {
		if name == "" {
			return Vec3{}, nil
		}
		pos, ok := positions[name]
		if !ok {
			return Vec3{}, fmt.Errorf("no object %q", name)
		}
		return pos, nil
	}
}

func newTestRig(t *testing.T, positions map[string]Vec3, startRadius float64) (*Rig, *recordingRenderer) {
	t.Helper()
	rec := &recordingRenderer{}
	return NewRig(originLocator(positions), rec.render, startRadius), rec
}

func focus(t *testing.T, rig *Rig, name string) {
	t.Helper()
	_, err := rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraFocus, Target: name})
	require.NoError(t, err)
}

func apply(t *testing.T, rig *Rig, op protocol.CameraOp, direction string) {
	t.Helper()
	_, err := rig.Apply(context.Background(), protocol.CameraDirective{Op: op, Direction: direction})
	require.NoError(t, err)
}

func TestZoomAndMoveRequireFocus(t *testing.T) {
	rig, _ := newTestRig(t, nil, 10)

	_, err := rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraZoom, Direction: "in"})
	require.ErrorIs(t, err, ErrNoTarget)

	_, err = rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraMove, Direction: "left"})
	require.ErrorIs(t, err, ErrNoTarget)
}

func TestFocusKeepsEyeDistanceAsRadius(t *testing.T) {
	rig, rec := newTestRig(t, map[string]Vec3{"cube": {X: 4, Y: 0, Z: 0}}, 10)

	focus(t, rig, "cube")
	// Eye started at (10,0,0); distance to the cube is 6.
	assert.InDelta(t, 6, rig.Radius(), 1e-9)
	require.Len(t, rec.targets, 1)
	assert.Equal(t, Vec3{X: 4}, rec.targets[0])
}

func TestZoomInStepsAndFloors(t *testing.T) {
	rig, _ := newTestRig(t, map[string]Vec3{"cube": {}}, 10)
	focus(t, rig, "cube")
	require.InDelta(t, 10, rig.Radius(), 1e-9)

	apply(t, rig, protocol.CameraZoom, "in")
	assert.InDelta(t, 7, rig.Radius(), 1e-9)
	apply(t, rig, protocol.CameraZoom, "in")
	assert.InDelta(t, 4, rig.Radius(), 1e-9)
	apply(t, rig, protocol.CameraZoom, "in")
	assert.InDelta(t, 1, rig.Radius(), 1e-9, "radius floors at the minimum")
	apply(t, rig, protocol.CameraZoom, "in")
	assert.InDelta(t, 1, rig.Radius(), 1e-9, "zooming past the floor is a no-op")
}

func TestZoomOutIsUnbounded(t *testing.T) {
	rig, _ := newTestRig(t, map[string]Vec3{"cube": {}}, 10)
	focus(t, rig, "cube")

	apply(t, rig, protocol.CameraZoom, "out")
	apply(t, rig, protocol.CameraZoom, "out")
	assert.InDelta(t, 16, rig.Radius(), 1e-9)
}

func TestMoveKeepsOrbitDistance(t *testing.T) {
	rig, rec := newTestRig(t, map[string]Vec3{"cube": {X: 1, Y: 2, Z: 3}}, 8)
	focus(t, rig, "cube")

	for _, dir := range []string{"left", "right", "up", "down"} {
		apply(t, rig, protocol.CameraMove, dir)
	}

	target := Vec3{X: 1, Y: 2, Z: 3}
	for _, eye := range rec.eyes {
		d := eye.sub(target).length()
		assert.InDelta(t, rig.Radius(), d, 1e-9, "orbit must stay on the sphere")
	}
}

func TestMoveUpClampsAtThePole(t *testing.T) {
	rig, rec := newTestRig(t, map[string]Vec3{"cube": {}}, 5)
	focus(t, rig, "cube")

	for i := 0; i < 10; i++ {
		apply(t, rig, protocol.CameraMove, "up")
	}

	// phi is clamped short of +pi/2, so the eye never reaches the axis.
	last := rec.eyes[len(rec.eyes)-1]
	maxZ := 5 * math.Sin(math.Pi/2-0.1)
	assert.InDelta(t, maxZ, last.Z, 1e-9)
	assert.Greater(t, math.Hypot(last.X, last.Y), 0.0)
}

func TestMoveDownClampsAtThePole(t *testing.T) {
	rig, rec := newTestRig(t, map[string]Vec3{"cube": {}}, 5)
	focus(t, rig, "cube")

	for i := 0; i < 10; i++ {
		apply(t, rig, protocol.CameraMove, "down")
	}
	last := rec.eyes[len(rec.eyes)-1]
	assert.InDelta(t, -5*math.Sin(math.Pi/2-0.1), last.Z, 1e-9)
}

func TestRefocusBetweenObjects(t *testing.T) {
	rig, rec := newTestRig(t, map[string]Vec3{
		"cube":   {X: 2},
		"sphere": {X: -3, Y: 4},
	}, 10)

	focus(t, rig, "cube")
	apply(t, rig, protocol.CameraZoom, "in")
	focus(t, rig, "sphere")

	// The new radius is the distance from the current eye to the sphere.
	eyeBefore := rec.eyes[1]
	want := eyeBefore.sub(Vec3{X: -3, Y: 4}).length()
	assert.InDelta(t, want, rig.Radius(), 1e-9)
}

func TestFocusInsideMinimumRadiusKeepsOrbit(t *testing.T) {
	rig, rec := newTestRig(t, map[string]Vec3{
		"cube": {},
		"near": {X: 5.5},
	}, 5)

	focus(t, rig, "cube")
	require.InDelta(t, 5, rig.Radius(), 1e-9)

	// The eye sits at (5,0,0), only 0.5 from the new target. Adopting that
	// distance would pin the orbit below the zoom floor, so the previous
	// radius and angles stay and only the target moves.
	focus(t, rig, "near")
	assert.InDelta(t, 5, rig.Radius(), 1e-9)

	require.Len(t, rec.eyes, 2)
	assert.Equal(t, Vec3{X: 5.5}, rec.targets[1])
	assert.InDelta(t, 10.5, rec.eyes[1].X, 1e-9)
	assert.InDelta(t, 0, rec.eyes[1].Y, 1e-9)
	assert.InDelta(t, 0, rec.eyes[1].Z, 1e-9)
}

func TestUnknownOpAndDirectionsFail(t *testing.T) {
	rig, _ := newTestRig(t, map[string]Vec3{"cube": {}}, 5)
	focus(t, rig, "cube")

	_, err := rig.Apply(context.Background(), protocol.CameraDirective{Op: "teleport"})
	require.Error(t, err)
	_, err = rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraZoom, Direction: "sideways"})
	require.Error(t, err)
	_, err = rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraMove, Direction: "diagonal"})
	require.Error(t, err)
}

func TestViewRefsAreSequential(t *testing.T) {
	rig, _ := newTestRig(t, map[string]Vec3{"cube": {}}, 5)

	ref, err := rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraFocus, Target: "cube"})
	require.NoError(t, err)
	assert.Equal(t, "view_001.png", ref)

	ref, err = rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraZoom, Direction: "out"})
	require.NoError(t, err)
	assert.Equal(t, "view_002.png", ref)
	assert.Equal(t, 2, rig.Views())
}

func TestLocateFailurePropagates(t *testing.T) {
	rig, rec := newTestRig(t, nil, 5)
	_, err := rig.Apply(context.Background(), protocol.CameraDirective{Op: protocol.CameraFocus, Target: "ghost"})
	require.Error(t, err)
	assert.Empty(t, rec.eyes, "a failed focus must not render")
}
