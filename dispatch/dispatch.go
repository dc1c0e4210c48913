// Package dispatch implements the shader dispatch engine: it compiles
// shader builders into backend passes, decides how to bind each input
// variable (push constants, uniform buffer or global uniforms), emits
// the complete GLSL source, and caches compiled passes under their
// content signature.
package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/internal/logx"
	"github.com/gogpu/gv/shader"
)

// Cache tuning. When the pass cache is full, passes older than minAge
// frames are evicted; failing that, the cache size doubles.
const (
	defaultMaxPasses = 100
	minPassAge       = 10
)

// ErrShaderFailed is returned when dispatching a shader whose pass
// failed to compile earlier; the failure is cached, so this is
// returned without touching the backend.
var ErrShaderFailed = errors.New("dispatch: shader pass failed to compile")

// scratch buffer roles during pass creation
const (
	tmpPrelude = iota
	tmpMain
	tmpVertHead
	tmpVertBody
	tmpCount
)

// Dispatch owns a pool of reusable shader builders and a cache of
// compiled passes. It is not safe for concurrent use.
type Dispatch struct {
	log *slog.Logger
	gpu gpu.GPU

	curIdent uint8
	curIndex uint8

	maxPasses int

	shaders []*shader.Shader
	passes  []*pass
	cached  []cachedProgram // loaded but not yet compiled

	// scratch buffers reused across pass creations
	tmp [tmpCount]bytes.Buffer

	// scratch backs strided UBO uploads
	scratch []byte
}

// New creates a dispatch engine for the given backend. A nil logger
// disables logging.
func New(log *slog.Logger, g gpu.GPU) *Dispatch {
	return &Dispatch{
		log:       logx.Or(log),
		gpu:       g,
		maxPasses: defaultMaxPasses,
	}
}

// Destroy releases all compiled passes and pooled builders. Every
// borrowed shader must have been returned via Finish, Compute, Vertex
// or Abort first.
func (d *Dispatch) Destroy() {
	for _, p := range d.passes {
		p.destroy()
	}
	d.passes = nil
	d.shaders = nil
	d.cached = nil
}

// Begin returns a blank shader builder from the pool.
func (d *Dispatch) Begin() *shader.Shader {
	return d.begin(false)
}

// BeginUnique returns a blank builder with a unique identifier
// namespace, required when the shader will be merged into another via
// Subpass.
func (d *Dispatch) BeginUnique() *shader.Shader {
	return d.begin(true)
}

func (d *Dispatch) begin(unique bool) *shader.Shader {
	params := shader.Params{
		GPU:   d.gpu,
		Index: d.curIndex,
	}
	if unique {
		d.curIdent++
		params.ID = d.curIdent
	}

	if n := len(d.shaders); n > 0 {
		sh := d.shaders[n-1]
		d.shaders = d.shaders[:n-1]
		sh.Reset(&params)
		return sh
	}
	return shader.New(&params)
}

// Abort returns a builder to the pool without dispatching it.
func (d *Dispatch) Abort(sh *shader.Shader) {
	if sh == nil {
		return
	}
	d.shaders = append(d.shaders, sh)
}

// ResetFrame marks the start of a new frame: identifier allocation
// restarts and the eviction epoch advances.
func (d *Dispatch) ResetFrame() {
	d.curIdent = 0
	d.curIndex++
}

// Params configures a Finish dispatch.
type Params struct {
	Shader *shader.Shader

	// Target is the renderable 2D texture written to.
	Target gpu.Texture

	// Rect is the region written; zero means the full target. May be
	// flipped to render mirrored.
	Rect gpu.Rect2D

	// Blend enables fixed-function (or emulated, for compute)
	// blending.
	Blend *gpu.BlendParams

	// Timer measures the pass if non-nil.
	Timer gpu.Timer
}

// Finish compiles and dispatches a shader so that it writes to a 2D
// region of the target. The shader is consumed regardless of the
// outcome. On storable targets with parallel compute support, a
// fragment shader is transparently promoted to a 16x16 compute shader.
func (d *Dispatch) Finish(params *Params) error {
	sh := params.Shader
	defer d.reclaim(sh)

	if sh.Failed() {
		return fmt.Errorf("dispatch: refusing to dispatch failed shader")
	}
	if !sh.Mutable() {
		return fmt.Errorf("dispatch: refusing to dispatch non-mutable shader")
	}
	if sh.Input() != shader.SigNone || sh.Output() != shader.SigColor {
		return fmt.Errorf("dispatch: shader signature incompatible with Finish")
	}

	tp := params.Target.Params()
	if tp.Dimensions() != 2 || !tp.Renderable {
		return fmt.Errorf("dispatch: target must be a renderable 2D texture")
	}
	if sh.IsCompute() && !tp.Storable {
		return fmt.Errorf("dispatch: compute shader dispatched to non-storable target")
	}
	if !sh.IsCompute() && tp.Storable && d.gpu.Caps()&gpu.CapParallelCompute != 0 {
		if sh.TryCompute(16, 16, true) {
			d.log.Debug("upgrading fragment shader to compute shader")
		}
	}

	rc := params.Rect
	if rc.W() == 0 {
		rc.X0, rc.X1 = 0, tp.W
	}
	if rc.H() == 0 {
		rc.Y0, rc.Y1 = 0, tp.H
	}

	tw, th := abs(rc.W()), abs(rc.H())
	if w, h, ok := sh.OutputSize(); ok && (w != tw || h != th) {
		return fmt.Errorf("dispatch: shader requires output size %dx%d, target rect is %dx%d",
			w, h, tw, th)
	}

	var vertPos shader.Ident
	if sh.IsCompute() {
		d.translateComputeShader(sh, rc, params)
	} else {
		// The position attribute spans the rect in NDC space
		vertPos = sh.AttrVec2("position", gpu.RectF{
			X0: 2*float32(rc.X0)/float32(tp.W) - 1,
			Y0: 2*float32(rc.Y0)/float32(tp.H) - 1,
			X1: 2*float32(rc.X1)/float32(tp.W) - 1,
			Y1: 2*float32(rc.Y1)/float32(tp.H) - 1,
		})
	}

	// Load the target when blending or when only rendering a sub-rect
	full := gpu.Rect2D{X1: tp.W, Y1: tp.H}
	rcNorm := rc.Normalized()
	rcNorm.X0 = max(rcNorm.X0, 0)
	rcNorm.Y0 = max(rcNorm.Y0, 0)
	rcNorm.X1 = min(rcNorm.X1, tp.W)
	rcNorm.Y1 = min(rcNorm.Y1, tp.H)
	load := params.Blend != nil || rcNorm != full

	p := d.findPass(sh, params.Target, vertPos, params.Blend, load, nil, "")
	if p.pass == nil {
		return ErrShaderFailed
	}

	rparams := &p.run
	d.updateDescBindings(p, sh)
	rparams.VarUpdates = rparams.VarUpdates[:0]
	for i := range sh.Variables() {
		d.updatePassVar(p, &sh.Variables()[i], &p.vars[i])
	}

	// Write the attribute data into the placeholder vertex array
	if rparams.VertexData != nil {
		d.updateVertexData(p, sh)
	}

	if sh.IsCompute() {
		groups := sh.ComputeGroupSize()
		rparams.ComputeGroups = [3]int{
			(abs(rc.W()) + groups[0] - 1) / groups[0],
			(abs(rc.H()) + groups[1] - 1) / groups[1],
			1,
		}
	} else {
		rparams.Scissors = rcNorm
	}

	rparams.Target = params.Target
	rparams.Timer = params.Timer
	return p.pass.Run(rparams)
}

// ComputeParams configures a Compute dispatch.
type ComputeParams struct {
	Shader *shader.Shader

	// DispatchSize is the number of work groups per dimension. If all
	// zero, it is derived from Width/Height and the work group size.
	DispatchSize [3]int

	// Width, Height describe the effective rendering area for shaders
	// that use simulated vertex attributes.
	Width, Height int

	Timer gpu.Timer
}

// Compute dispatches a compute shader without a framebuffer target.
func (d *Dispatch) Compute(params *ComputeParams) error {
	sh := params.Shader
	defer d.reclaim(sh)

	if sh.Failed() {
		return fmt.Errorf("dispatch: refusing to dispatch failed shader")
	}
	if !sh.Mutable() {
		return fmt.Errorf("dispatch: refusing to dispatch non-mutable shader")
	}
	if sh.Input() != shader.SigNone {
		return fmt.Errorf("dispatch: shader signature incompatible with Compute")
	}
	if !sh.IsCompute() {
		return fmt.Errorf("dispatch: Compute requires a compute shader")
	}

	if len(sh.VertexAttribs()) > 0 {
		if params.Width == 0 || params.Height == 0 {
			return fmt.Errorf("dispatch: targetless compute shader with vertex " +
				"attributes requires an effective rendering area")
		}
		d.computeVertexAttribs(sh, params.Width, params.Height)
	}

	p := d.findPass(sh, nil, "", nil, false, nil, "")
	if p.pass == nil {
		return ErrShaderFailed
	}

	rparams := &p.run
	d.updateDescBindings(p, sh)
	rparams.VarUpdates = rparams.VarUpdates[:0]
	for i := range sh.Variables() {
		d.updatePassVar(p, &sh.Variables()[i], &p.vars[i])
	}

	groups := 1
	for i := 0; i < 3; i++ {
		groups *= params.DispatchSize[i]
		rparams.ComputeGroups[i] = params.DispatchSize[i]
	}
	if groups == 0 {
		wg := sh.ComputeGroupSize()
		rparams.ComputeGroups = [3]int{
			(params.Width + wg[0] - 1) / wg[0],
			(params.Height + wg[1] - 1) / wg[1],
			1,
		}
	}

	rparams.Timer = params.Timer
	return p.pass.Run(rparams)
}

// CoordSpace describes the coordinate system of user vertex data.
type CoordSpace uint8

const (
	// CoordsAbsolute: pixel coordinates relative to the target.
	CoordsAbsolute CoordSpace = iota

	// CoordsRelative: [0,1] relative to the target dimensions.
	CoordsRelative

	// CoordsNormalized: GL-style normalized device coordinates.
	CoordsNormalized
)

// VertexParams configures a Vertex dispatch.
type VertexParams struct {
	Shader *shader.Shader
	Target gpu.Texture

	// Vertex stream description.
	VertexAttribs     []gpu.VertexAttrib
	VertexPositionIdx int
	VertexStride      int
	VertexType        gpu.PrimitiveType
	VertexCoords      CoordSpace
	VertexFlipped     bool

	// Vertex data: either host memory or a buffer.
	VertexData  []byte
	VertexBuf   gpu.Buffer
	BufOffset   int
	VertexCount int

	IndexData   []uint16
	IndexBuf    gpu.Buffer
	IndexOffset int

	Scissors gpu.Rect2D
	Blend    *gpu.BlendParams
	Timer    gpu.Timer
}

// Vertex dispatches a shader against a user-supplied vertex stream.
func (d *Dispatch) Vertex(params *VertexParams) error {
	sh := params.Shader
	defer d.reclaim(sh)

	if sh.Failed() {
		return fmt.Errorf("dispatch: refusing to dispatch failed shader")
	}
	if !sh.Mutable() {
		return fmt.Errorf("dispatch: refusing to dispatch non-mutable shader")
	}
	if sh.Input() != shader.SigNone || sh.Output() != shader.SigColor {
		return fmt.Errorf("dispatch: shader signature incompatible with Vertex")
	}
	tp := params.Target.Params()
	if tp.Dimensions() != 2 || !tp.Renderable {
		return fmt.Errorf("dispatch: target must be a renderable 2D texture")
	}
	if sh.IsCompute() {
		return fmt.Errorf("dispatch: Vertex cannot dispatch compute shaders")
	}
	if len(sh.VertexAttribs()) > 0 {
		return fmt.Errorf("dispatch: custom vertex shader already has attributes attached")
	}
	if params.VertexPositionIdx < 0 || params.VertexPositionIdx >= len(params.VertexAttribs) {
		return fmt.Errorf("dispatch: vertex position index out of range")
	}

	// Attach the user attributes (no per-corner data)
	vas := make([]shader.VertexAttrib, len(params.VertexAttribs))
	for i, attr := range params.VertexAttribs {
		vas[i].Attr = attr
	}
	sh.SetVertexAttribs(vas)

	// Coordinate projection into NDC space
	sx, sy := float32(1), float32(1)
	ox, oy := float32(0), float32(0)
	switch params.VertexCoords {
	case CoordsAbsolute:
		sx /= float32(tp.W)
		sy /= float32(tp.H)
		fallthrough
	case CoordsRelative:
		sx *= 2
		sy *= 2
		ox -= 1
		oy -= 1
		fallthrough
	case CoordsNormalized:
		if params.VertexFlipped {
			sy = -sy
			oy += 2
		}
	}

	var outProj shader.Ident
	if sx != 1 || sy != 1 || ox != 0 || oy != 0 {
		outProj = sh.AddVar(shader.Var{
			Var: gpu.VarMat3("proj"),
			// column-major mat3 of the affine NDC transform
			Data: shader.F32Bytes(
				sx, 0, 0,
				0, sy, 0,
				ox, oy, 1,
			),
		})
	}

	vertPos := shader.Ident(params.VertexAttribs[params.VertexPositionIdx].Name)
	p := d.findPass(sh, params.Target, vertPos, params.Blend, true, params, outProj)
	if p.pass == nil {
		return ErrShaderFailed
	}

	rparams := &p.run
	d.updateDescBindings(p, sh)
	rparams.VarUpdates = rparams.VarUpdates[:0]
	for i := range sh.Variables() {
		d.updatePassVar(p, &sh.Variables()[i], &p.vars[i])
	}

	rparams.Scissors = params.Scissors
	if params.VertexFlipped {
		rparams.Scissors.Y0 = tp.H - rparams.Scissors.Y0
		rparams.Scissors.Y1 = tp.H - rparams.Scissors.Y1
	}
	rparams.Scissors = rparams.Scissors.Normalized()

	rparams.Target = params.Target
	rparams.VertexCount = params.VertexCount
	rparams.VertexData = params.VertexData
	rparams.VertexBuf = params.VertexBuf
	rparams.BufOffset = params.BufOffset
	rparams.IndexData = params.IndexData
	rparams.IndexBuf = params.IndexBuf
	rparams.IndexOffset = params.IndexOffset
	rparams.Timer = params.Timer
	return p.pass.Run(rparams)
}

// reclaim returns the builder to the pool and resets the scratch
// buffers used during pass creation.
func (d *Dispatch) reclaim(sh *shader.Shader) {
	for i := range d.tmp {
		d.tmp[i].Reset()
	}
	d.Abort(sh)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
