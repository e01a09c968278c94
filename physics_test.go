package main

import (
	"math"
	"testing"
)

func TestClampPaddleMoveStaysInBounds(t *testing.T) {
	p := NewPaddle(1)

	for i := 0; i < 200; i++ {
		ClampPaddleMove(&p, DirUp)
	}
	if p.Y != 0 {
		t.Errorf("expected paddle pinned at top, got Y=%f", p.Y)
	}

	for i := 0; i < 200; i++ {
		ClampPaddleMove(&p, DirDown)
	}
	if p.Y != CanvasHeight-p.Height {
		t.Errorf("expected paddle pinned at bottom, got Y=%f", p.Y)
	}

	y := p.Y
	ClampPaddleMove(&p, DirNone)
	if p.Y != y {
		t.Error("none input should not move the paddle")
	}
}

func TestReflectOffWalls(t *testing.T) {
	b := Ball{X: 400, Y: BallRadius - 1, VX: 3, VY: -4, Radius: BallRadius, Speed: 5}
	ReflectOffWalls(&b)
	if b.VY != 4 {
		t.Errorf("expected VY flipped to 4, got %f", b.VY)
	}
	if b.VX != 3 {
		t.Errorf("VX should be untouched, got %f", b.VX)
	}

	b.Y = CanvasHeight - BallRadius + 1
	ReflectOffWalls(&b)
	if b.VY != -4 {
		t.Errorf("expected VY flipped to -4, got %f", b.VY)
	}
}

func TestPaddleContactSpeedAndDirection(t *testing.T) {
	p := NewPaddle(1)
	b := Ball{
		X: p.X + p.Width, Y: p.Y + p.Height/2,
		VX: -5, VY: 0, Radius: BallRadius, Speed: BallInitialSpeed,
	}

	if !ResolvePaddleContact(&b, &p) {
		t.Fatal("expected contact")
	}
	if b.VX <= 0 {
		t.Errorf("left paddle must send the ball right, got VX=%f", b.VX)
	}
	if b.Speed != BallInitialSpeed+BallSpeedStep {
		t.Errorf("expected speed %f, got %f", BallInitialSpeed+BallSpeedStep, b.Speed)
	}

	// Velocity magnitude must track the speed field.
	mag := math.Hypot(b.VX, b.VY)
	if math.Abs(mag-b.Speed) > 1e-9 {
		t.Errorf("|v|=%f does not match speed %f", mag, b.Speed)
	}

	// Dead-center hit leaves no vertical component.
	if math.Abs(b.VY) > 1e-9 {
		t.Errorf("center hit should have VY=0, got %f", b.VY)
	}
}

func TestPaddleContactEdgeDeflection(t *testing.T) {
	p := NewPaddle(2)
	b := Ball{
		X: p.X, Y: p.Y + p.Height, // bottom edge
		VX: 5, VY: 0, Radius: BallRadius, Speed: BallInitialSpeed,
	}

	if !ResolvePaddleContact(&b, &p) {
		t.Fatal("expected contact")
	}
	if b.VX >= 0 {
		t.Errorf("right paddle must send the ball left, got VX=%f", b.VX)
	}
	if b.VY <= 0 {
		t.Errorf("bottom-edge hit should deflect downward, got VY=%f", b.VY)
	}
	angle := math.Atan2(b.VY, math.Abs(b.VX))
	if angle > MaxBounceAngle+1e-9 {
		t.Errorf("deflection %f exceeds max bounce angle", angle)
	}
}

func TestPaddleContactMiss(t *testing.T) {
	p := NewPaddle(1)
	b := Ball{X: 400, Y: 300, VX: -5, VY: 0, Radius: BallRadius, Speed: 5}
	if ResolvePaddleContact(&b, &p) {
		t.Error("ball at mid-court should not touch the paddle")
	}

	b = Ball{X: p.X + p.Width/2, Y: p.Y + p.Height + 50, VX: -5, Radius: BallRadius, Speed: 5}
	if ResolvePaddleContact(&b, &p) {
		t.Error("ball below the paddle should not register contact")
	}
}

func TestPaddleContactSpeedCap(t *testing.T) {
	p := NewPaddle(1)
	b := Ball{
		X: p.X + p.Width, Y: p.Y + p.Height/2,
		VX: -BallMaxSpeed, Radius: BallRadius, Speed: BallMaxSpeed,
	}
	ResolvePaddleContact(&b, &p)
	if b.Speed != BallMaxSpeed {
		t.Errorf("speed must cap at %f, got %f", BallMaxSpeed, b.Speed)
	}
}

func TestDetectScore(t *testing.T) {
	b := Ball{X: -BallRadius - 1, Y: 300, Radius: BallRadius}
	if got := DetectScore(&b); got != 2 {
		t.Errorf("ball past the left goal scores for seat 2, got %d", got)
	}

	b.X = CanvasWidth + BallRadius + 1
	if got := DetectScore(&b); got != 1 {
		t.Errorf("ball past the right goal scores for seat 1, got %d", got)
	}

	// Touching the goal line is not out yet.
	b.X = CanvasWidth + BallRadius
	if got := DetectScore(&b); got != 0 {
		t.Errorf("ball on the line should not score, got %d", got)
	}
}

func TestReseedBallServeAngle(t *testing.T) {
	for i := 0; i < 100; i++ {
		b := NewBall(2)
		if b.X != CanvasWidth/2 || b.Y != CanvasHeight/2 {
			t.Fatalf("serve must start at center, got (%f, %f)", b.X, b.Y)
		}
		if b.Speed != BallInitialSpeed {
			t.Fatalf("serve speed must reset to %f, got %f", BallInitialSpeed, b.Speed)
		}
		if b.VX <= 0 {
			t.Fatalf("serve toward seat 2 must travel right, got VX=%f", b.VX)
		}
		// Serve cone is narrower than the bounce cone.
		if math.Abs(b.VY) >= math.Abs(b.VX) {
			t.Fatalf("serve too steep: VX=%f VY=%f", b.VX, b.VY)
		}
	}

	b := NewBall(1)
	if b.VX >= 0 {
		t.Errorf("serve toward seat 1 must travel left, got VX=%f", b.VX)
	}
}
