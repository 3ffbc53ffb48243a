/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
)

// Calibration describes the camera the points are projected into.
// Matrices are row-major, the extrinsic maps sensor meters to camera meters.
type Calibration struct {
	Intrinsic [9]float64
	Extrinsic [12]float64
	Width     int
	Height    int
}

func CalibrationFromConfig(c *config.CalibrationConfig) Calibration {
	return Calibration{
		Intrinsic: c.Intrinsic,
		Extrinsic: c.Extrinsic,
		Width:     c.Width,
		Height:    c.Height,
	}
}

// ProjectedPoint is a point in pixel space. Depth is the camera frame z in meters.
type ProjectedPoint struct {
	Row          int        `json:"row"`
	Col          int        `json:"col"`
	Depth        float64    `json:"depth"`
	Reflectivity uint8      `json:"reflectivity"`
	Tag          layers.Tag `json:"tag"`
}

// ProjectedFrame is the projection of one datagram
type ProjectedFrame struct {
	SessionID uuid.UUID            `json:"sessionID"`
	LidarID   uint8                `json:"lidarID"`
	Timestamp uint64               `json:"timestamp"`
	Points    []ProjectedPoint     `json:"points"`
	Raw       []layers.PointRecord `json:"raw,omitempty"`
}

type Transformer struct {
	intrinsic  *mat.Dense
	extrinsic  *mat.Dense
	projection *mat.Dense
	p          [12]float64
	width      int
	height     int
}

func NewTransformer(c Calibration) (*Transformer, error) {
	k := c.Intrinsic
	if k[6] != 0 || k[7] != 0 || k[8] != 1 {
		return nil, errors.Errorf("intrinsic last row must be [0 0 1], got %v", k[6:9])
	}
	if !(k[0] > 0) || !(k[4] > 0) {
		return nil, errors.Errorf("focal lengths must be positive, got fx=%g fy=%g", k[0], k[4])
	}
	if c.Width <= 0 || c.Height <= 0 {
		return nil, errors.Errorf("image size must be positive, got %dx%d", c.Width, c.Height)
	}
	for _, v := range append(k[:], c.Extrinsic[:]...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("calibration contains non-finite values")
		}
	}

	t := &Transformer{
		intrinsic: mat.NewDense(3, 3, append([]float64(nil), k[:]...)),
		extrinsic: mat.NewDense(3, 4, append([]float64(nil), c.Extrinsic[:]...)),
		width:     c.Width,
		height:    c.Height,
	}
	t.projection = mat.NewDense(3, 4, nil)
	t.projection.Mul(t.intrinsic, t.extrinsic)
	copy(t.p[:], t.projection.RawMatrix().Data)
	return t, nil
}

// Projection returns K*E
func (t *Transformer) Projection() mat.Matrix {
	return t.projection
}

func (t *Transformer) Size() (width, height int) {
	return t.width, t.height
}

// Project maps a sensor record to a pixel. False means the point is behind
// the camera or outside the image.
func (t *Transformer) Project(r layers.PointRecord) (ProjectedPoint, bool) {
	pp, ok := t.ProjectVector(r.Vector())
	if !ok {
		return pp, false
	}
	pp.Reflectivity = r.Reflectivity
	pp.Tag = r.Tag
	return pp, true
}

// ProjectVector maps a sensor frame position in meters to a pixel
func (t *Transformer) ProjectVector(pos r3.Vector) (ProjectedPoint, bool) {
	p := &t.p
	u := p[0]*pos.X + p[1]*pos.Y + p[2]*pos.Z + p[3]
	v := p[4]*pos.X + p[5]*pos.Y + p[6]*pos.Z + p[7]
	z := p[8]*pos.X + p[9]*pos.Y + p[10]*pos.Z + p[11]
	return t.pixel(u, v, z)
}

// pixel divides homogeneous image coordinates. The third row of K is
// [0 0 1] so z is the camera frame depth.
func (t *Transformer) pixel(u, v, z float64) (ProjectedPoint, bool) {
	if !(z > 0) {
		return ProjectedPoint{}, false
	}
	col := math.Round(u / z)
	row := math.Round(v / z)
	if !(col >= 0 && row >= 0 && col < float64(t.width) && row < float64(t.height)) {
		return ProjectedPoint{}, false
	}
	return ProjectedPoint{Row: int(row), Col: int(col), Depth: z}, true
}

// ProjectFrame projects a batch with one matrix product and keeps the
// input order of the points that survive
func (t *Transformer) ProjectFrame(records []layers.PointRecord) []ProjectedPoint {
	n := len(records)
	if n == 0 {
		return nil
	}
	x := mat.NewDense(4, n, nil)
	for i, r := range records {
		x.Set(0, i, float64(r.X)/1000)
		x.Set(1, i, float64(r.Y)/1000)
		x.Set(2, i, float64(r.Z)/1000)
		x.Set(3, i, 1)
	}
	var uvz mat.Dense
	uvz.Mul(t.projection, x)

	out := make([]ProjectedPoint, 0, n)
	for i, r := range records {
		pp, ok := t.pixel(uvz.At(0, i), uvz.At(1, i), uvz.At(2, i))
		if !ok {
			continue
		}
		pp.Reflectivity = r.Reflectivity
		pp.Tag = r.Tag
		out = append(out, pp)
	}
	return out
}
