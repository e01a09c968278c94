package main

import (
	"math"
	"math/rand"
)

const (
	CanvasWidth  = 800.0
	CanvasHeight = 600.0

	BallRadius       = 10.0
	BallInitialSpeed = 5.0
	BallMaxSpeed     = 15.0
	BallSpeedStep    = 0.5 // speed gained per paddle hit

	PaddleWidth  = 10.0
	PaddleHeight = 100.0
	PaddleSpeed  = 10.0 // pixels per tick
	PaddleMargin = 20.0 // gap between paddle and its goal line

	// Maximum deflection angle off a paddle edge. Kept under 45° so a
	// serve or edge hit never travels faster vertically than horizontally.
	MaxBounceAngle = math.Pi / 4
	ServeMaxAngle  = math.Pi / 8
)

// Ball is the moving game object. Speed mirrors |(VX, VY)| so contact
// resolution can rescale velocity without recomputing the magnitude.
type Ball struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Radius float64 `json:"radius"`
	Speed  float64 `json:"speed"`
}

// Paddle is one player's paddle, including its match score.
type Paddle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Speed  float64 `json:"speed"`
	Score  int     `json:"score"`
}

// NewBall returns a ball centered on the canvas, serving toward the given
// seat (1 = toward player1's side, 2 = toward player2's side).
func NewBall(servingTowards int) Ball {
	b := Ball{Radius: BallRadius}
	ReseedBall(&b, servingTowards)
	return b
}

// NewPaddle returns a paddle for the given seat, vertically centered.
func NewPaddle(seat int) Paddle {
	x := PaddleMargin
	if seat == 2 {
		x = CanvasWidth - PaddleMargin - PaddleWidth
	}
	return Paddle{
		X:      x,
		Y:      CanvasHeight/2 - PaddleHeight/2,
		Width:  PaddleWidth,
		Height: PaddleHeight,
		Speed:  PaddleSpeed,
	}
}

// Integrate advances the ball one tick.
func Integrate(b *Ball) {
	b.X += b.VX
	b.Y += b.VY
}

// ReflectOffWalls bounces the ball off the top and bottom bounds.
// Energy-preserving: only the sign of VY changes.
func ReflectOffWalls(b *Ball) {
	if b.Y-b.Radius <= 0 && b.VY < 0 {
		b.VY = -b.VY
	}
	if b.Y+b.Radius >= CanvasHeight && b.VY > 0 {
		b.VY = -b.VY
	}
}

// ResolvePaddleContact checks the ball against one paddle and, on contact,
// reflects it away with a deflection angle derived from how far off-center
// the hit was. Reports whether contact occurred.
func ResolvePaddleContact(b *Ball, p *Paddle) bool {
	if b.X+b.Radius < p.X || b.X-b.Radius > p.X+p.Width {
		return false
	}
	if b.Y < p.Y || b.Y > p.Y+p.Height {
		return false
	}

	// -1 at the top edge, 0 dead center, +1 at the bottom edge
	relative := (b.Y - (p.Y + p.Height/2)) / (p.Height / 2)
	angle := relative * MaxBounceAngle

	b.Speed += BallSpeedStep
	if b.Speed > BallMaxSpeed {
		b.Speed = BallMaxSpeed
	}

	// Left paddle sends the ball right, right paddle sends it left
	dir := 1.0
	if p.X > CanvasWidth/2 {
		dir = -1.0
	}
	b.VX = dir * b.Speed * math.Cos(angle)
	b.VY = b.Speed * math.Sin(angle)
	return true
}

// DetectScore reports which seat scored: 1 if the ball exited past
// player2's goal, 2 if it exited past player1's goal, 0 otherwise.
func DetectScore(b *Ball) int {
	if b.X+b.Radius < 0 {
		return 2
	}
	if b.X-b.Radius > CanvasWidth {
		return 1
	}
	return 0
}

// ReseedBall recenters the ball and serves it toward the given seat at the
// initial speed, with a small random vertical component.
func ReseedBall(b *Ball, servingTowards int) {
	b.X = CanvasWidth / 2
	b.Y = CanvasHeight / 2
	b.Speed = BallInitialSpeed

	angle := (rand.Float64()*2 - 1) * ServeMaxAngle
	dir := 1.0
	if servingTowards == 1 {
		dir = -1.0
	}
	b.VX = dir * b.Speed * math.Cos(angle)
	b.VY = b.Speed * math.Sin(angle)
}

// ClampPaddleMove moves the paddle one step in the given direction and
// clamps it into the canvas.
func ClampPaddleMove(p *Paddle, dir Direction) {
	switch dir {
	case DirUp:
		p.Y -= p.Speed
	case DirDown:
		p.Y += p.Speed
	}
	p.Y = Clamp(p.Y, 0, CanvasHeight-p.Height)
}
