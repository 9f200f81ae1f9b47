package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// OrbitCamera circles a target point at a fixed radius. Azimuth and
// elevation are radians; the camera always looks at Target with +Y up.
type OrbitCamera struct {
	Target    mgl32.Vec3
	Radius    float32
	Azimuth   float32
	Elevation float32

	Fov  float32 // vertical field of view, radians
	Near float32
	Far  float32
}

func NewOrbitCamera() *OrbitCamera {
	return &OrbitCamera{
		Radius: 5,
		Fov:    float32(60 * math.Pi / 180),
		Near:   0.2,
		Far:    200,
	}
}

// Orbit rotates the camera around the target. dx and dy are already
// scaled to radians by the input layer.
func (c *OrbitCamera) Orbit(dx, dy float32) {
	c.Azimuth += dx
	c.Elevation += dy
	limit := float32(math.Pi/2 - 0.01)
	if c.Elevation > limit {
		c.Elevation = limit
	}
	if c.Elevation < -limit {
		c.Elevation = -limit
	}
}

// Dolly moves the camera along the view ray; positive delta zooms out.
func (c *OrbitCamera) Dolly(delta float32) {
	c.Radius *= float32(math.Exp(float64(delta)))
	if c.Radius < 0.1 {
		c.Radius = 0.1
	}
	if c.Radius > 500 {
		c.Radius = 500
	}
}

// Eye is the camera position in world space.
func (c *OrbitCamera) Eye() mgl32.Vec3 {
	ce := float32(math.Cos(float64(c.Elevation)))
	return c.Target.Add(mgl32.Vec3{
		c.Radius * ce * float32(math.Sin(float64(c.Azimuth))),
		c.Radius * float32(math.Sin(float64(c.Elevation))),
		c.Radius * ce * float32(math.Cos(float64(c.Azimuth))),
	})
}

// ViewMatrix is the world-to-camera transform handed to the splat
// pipeline: a GL-convention look-at with the Y and Z rows negated so
// that points in front of the camera land at positive cam.z, agreeing
// with the projection and the shader Jacobian.
func (c *OrbitCamera) ViewMatrix() mgl32.Mat4 {
	return FlipViewRows(mgl32.LookAtV(c.Eye(), c.Target, mgl32.Vec3{0, 1, 0}))
}

// FlipViewRows negates rows 1 and 2 of a column-major matrix.
func FlipViewRows(m mgl32.Mat4) mgl32.Mat4 {
	for col := 0; col < 4; col++ {
		m[col*4+1] = -m[col*4+1]
		m[col*4+2] = -m[col*4+2]
	}
	return m
}

// Focal is the pinhole focal length shared by the projection and the
// shader Jacobian: fx = fy = (h/2)*cot(fov/2).
func (c *OrbitCamera) Focal(height uint32) float32 {
	return float32(height) / 2 / float32(math.Tan(float64(c.Fov)/2))
}

// ProjectionMatrix builds the splat projection for a framebuffer of
// the given pixel size. The X scale is negated and the Y scale kept
// positive; together with the flipped view rows this maps in-front
// geometry to clip.z in [0, clip.w].
func (c *OrbitCamera) ProjectionMatrix(width, height uint32) mgl32.Mat4 {
	f := c.Focal(height)
	var m mgl32.Mat4
	m[0] = -2 * f / float32(width)
	m[5] = 2 * f / float32(height)
	m[10] = c.Far / (c.Far - c.Near)
	m[11] = 1
	m[14] = -(c.Far * c.Near) / (c.Far - c.Near)
	return m
}

// ViewProj composes the sort matrix sent to the worker, column-major.
func (c *OrbitCamera) ViewProj(width, height uint32) [16]float32 {
	return [16]float32(c.ProjectionMatrix(width, height).Mul4(c.ViewMatrix()))
}
