package dispatch

import (
	"bytes"
	"sort"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
)

// passVarType is the effective placement of one input variable.
type passVarType uint8

const (
	passVarNone   passVarType = iota
	passVarGlobal             // loose uniform (CapInputVariables)
	passVarUBO                // uniform buffer member
	passVarPushC              // push constant member
)

// passVar caches a variable's placement and last-uploaded data.
type passVar struct {
	index  int // into gpu.PassParams.Variables, for var updates
	typ    passVarType
	layout gpu.VarLayout
	cached []byte // last uploaded bytes, nil until first upload
}

// pass is one compiled pass, cached under the shader's signature.
type pass struct {
	signature uint64

	// pass is nil if compilation failed; the failure itself is cached.
	pass gpu.Pass

	lastIndex uint8

	// vars mirrors the shader's variable list.
	vars []passVar

	// ubo backs the uniform-buffer variables, if any.
	ubo     gpu.Buffer
	uboVars []gpu.BufferVar
	uboSize int

	// run is the pre-allocated run parameter block, reused across
	// dispatches.
	run gpu.PassRunParams
}

func (p *pass) destroy() {
	if p == nil {
		return
	}
	if p.ubo != nil {
		p.ubo.Destroy()
	}
	if p.pass != nil {
		p.pass.Destroy()
	}
}

// cachedProgram is a loaded program binary not yet claimed by a pass.
type cachedProgram struct {
	signature uint64
	program   []byte
}

func passAge(d *Dispatch, p *pass) int {
	return int(uint8(d.curIndex - p.lastIndex))
}

// garbageCollectPasses evicts old passes once the cache exceeds its
// high-water mark, doubling the mark when nothing is old enough.
func (d *Dispatch) garbageCollectPasses() {
	if len(d.passes) <= d.maxPasses {
		return
	}

	// Sort by age ascending and evict old entries from the second half
	sort.SliceStable(d.passes, func(i, j int) bool {
		return passAge(d, d.passes[i]) < passAge(d, d.passes[j])
	})
	idx := len(d.passes) / 2
	for idx < len(d.passes) && passAge(d, d.passes[idx]) < minPassAge {
		idx++
	}

	evicted := len(d.passes) - idx
	for i := idx; i < len(d.passes); i++ {
		d.passes[i].destroy()
	}
	d.passes = d.passes[:idx]

	if evicted > 0 {
		d.log.Debug("evicted passes from dispatch cache, consider using more dynamic shaders",
			"evicted", evicted)
	} else {
		d.maxPasses *= 2
	}
}

// addPassVar places one variable. The first (non-greedy) walk only
// places small or dynamic values into push constants, leaving the rest
// unplaced so subsequent variables get a chance at the push constant
// budget. The greedy walk places everything else.
func (d *Dispatch) addPassVar(p *pass, params *gpu.PassParams,
	sv *shader.Var, pv *passVar, greedy bool) bool {

	g := d.gpu
	if pv.typ != passVarNone {
		return true
	}

	// Avoid burning push constant budget on matrices and arrays in the
	// first walk; those likely exceed it.
	tryPushC := greedy || (sv.Var.DimM == 1 && sv.Var.DimA == 1) || sv.Dynamic
	if tryPushC && g.GLSL().Vulkan && g.Limits().MaxPushConstSize > 0 {
		layout := gpu.Std430Layout(params.PushConstSize, sv.Var)
		if newSize := layout.Offset + layout.Size; newSize <= g.Limits().MaxPushConstSize {
			params.PushConstSize = newSize
			pv.layout = layout
			pv.typ = passVarPushC
			return true
		}
	}

	if !greedy {
		return true
	}

	// Uniform buffer next. GLSL 440 is required for the explicit member
	// offsets; highly dynamic values stay out of the UBO when loose
	// uniforms exist, so the buffer isn't rewritten every frame.
	tryUBO := g.Caps()&gpu.CapInputVariables == 0 || !sv.Dynamic
	if tryUBO && g.GLSL().Version >= 440 && g.Limits().MaxUBOSize > 0 {
		layout := gpu.Std140Layout(p.uboSize, sv.Var)
		if layout.Offset+layout.Size <= g.Limits().MaxUBOSize {
			p.uboSize = layout.Offset + layout.Size
			p.uboVars = append(p.uboVars, gpu.BufferVar{Var: sv.Var, Layout: layout})
			pv.layout = layout
			pv.typ = passVarUBO
			return true
		}
	}

	// Loose global uniforms as the last resort
	if g.Caps()&gpu.CapInputVariables != 0 {
		pv.typ = passVarGlobal
		pv.index = len(params.Variables)
		pv.layout = gpu.HostLayout(0, sv.Var)
		params.Variables = append(params.Variables, sv.Var)
		return true
	}

	d.log.Error("unable to place input variable, possibly exhausted UBO size limits",
		"var", sv.Var.Name)
	return false
}

// findPass looks up or creates the compiled pass for sh against the
// given target configuration.
func (d *Dispatch) findPass(sh *shader.Shader, target gpu.Texture,
	vertPos shader.Ident, blend *gpu.BlendParams, load bool,
	vparams *VertexParams, outProj shader.Ident) *pass {

	sig := sh.Signature()

	for _, p := range d.passes {
		if p.signature != sig {
			continue
		}

		// Failed pass: no further checks needed
		if p.pass == nil {
			p.lastIndex = d.curIndex
			return p
		}

		if sh.IsCompute() {
			p.lastIndex = d.curIndex
			return p
		}

		pp := p.pass.Params()
		ok := target.Params().Format == pp.TargetFormat
		ok = ok && pp.Blend.Equal(blend)
		ok = ok && pp.LoadTarget == load
		if vparams != nil {
			ok = ok && pp.VertexType == vparams.VertexType
			ok = ok && pp.VertexStride == vparams.VertexStride
		}
		if ok {
			p.lastIndex = d.curIndex
			return p
		}
	}

	p := d.createPass(sh, sig, target, vertPos, blend, load, vparams, outProj)
	d.garbageCollectPasses()
	d.passes = append(d.passes, p)
	return p
}

func (d *Dispatch) createPass(sh *shader.Shader, sig uint64, target gpu.Texture,
	vertPos shader.Ident, blend *gpu.BlendParams, load bool,
	vparams *VertexParams, outProj shader.Ident) *pass {

	p := &pass{
		signature: sig,
		lastIndex: d.curIndex,
	}

	params := gpu.PassParams{
		Type:       gpu.PassRaster,
		Blend:      blend, // kept for all pass types, for cache lookups
		VertexType: gpu.PrimTriangleStrip,
	}
	if sh.IsCompute() {
		params.Type = gpu.PassCompute
	}
	if vparams != nil {
		params.VertexType = vparams.VertexType
		params.VertexStride = vparams.VertexStride
	}

	// Attach a previously loaded program binary, if one matches
	for i := range d.cached {
		if d.cached[i].signature == sig {
			d.log.Debug("re-using cached program", "signature", sig)
			params.CachedProgram = d.cached[i].program
			d.cached = append(d.cached[:i], d.cached[i+1:]...)
			break
		}
	}

	vas := sh.VertexAttribs()
	if params.Type == gpu.PassRaster {
		params.TargetFormat = target.Params().Format
		params.LoadTarget = load

		params.VertexAttribs = make([]gpu.VertexAttrib, len(vas))
		loc := 0
		for i := range vas {
			va := &params.VertexAttribs[i]
			*va = vas[i].Attr

			// Mangle the name so it can't conflict with the fragment
			// shader input of the same attribute
			va.Name += "_v"
			va.Location = loc
			if vparams == nil {
				va.Offset = params.VertexStride
				params.VertexStride += va.Format.TexelSize
			}

			// Each attribute consumes one location per vec4 it covers
			loc += (va.Format.TexelSize + 15) / 16
		}

		if vparams == nil {
			// Placeholder quad vertex array, rewritten per dispatch
			p.run.VertexCount = 4
			p.run.VertexData = make([]byte, 4*params.VertexStride)
		}
	}

	// Place all variables: one walk for definite push constant
	// residents, then a greedy walk for the rest.
	svars := sh.Variables()
	p.vars = make([]passVar, len(svars))
	for i := range svars {
		if !d.addPassVar(p, &params, &svars[i], &p.vars[i], false) {
			return p
		}
	}
	for i := range svars {
		if !d.addPassVar(p, &params, &svars[i], &p.vars[i], true) {
			return p
		}
	}

	// Create and attach the UBO if any variable landed in it
	uboIndex := -1
	if p.uboSize > 0 {
		ubo, err := d.gpu.CreateBuffer(&gpu.BufferParams{
			Size:         p.uboSize,
			Uniform:      true,
			HostWritable: true,
		})
		if err != nil {
			d.log.Error("failed creating uniform buffer for dispatch", "err", err)
			return p
		}
		p.ubo = ubo
		uboIndex = len(sh.Descriptors())
		sh.AddDesc(shader.Desc{
			Desc:       gpu.Desc{Name: "UBO", Type: gpu.DescBufUniform},
			Binding:    gpu.DescBinding{Object: ubo},
			BufferVars: p.uboVars,
		})
	}

	// Assign descriptor bindings, one namespace per type (or one
	// shared namespace for Vulkan GLSL)
	descs := sh.Descriptors()
	var binding [gpu.DescNamespaceCount]int
	params.Descriptors = make([]gpu.Desc, len(descs))
	p.run.DescBindings = make([]gpu.DescBinding, len(descs))
	for i := range descs {
		desc := descs[i].Desc
		ns := gpu.DescNamespace(d.gpu, desc.Type)
		desc.Binding = binding[ns]
		binding[ns]++
		params.Descriptors[i] = desc
	}

	if p.ubo != nil {
		p.run.DescBindings[uboIndex].Object = p.ubo
	}

	// Push constant region, rounded up to a multiple of 4
	params.PushConstSize = (params.PushConstSize + 3) / 4 * 4
	p.run.PushConstants = make([]byte, params.PushConstSize)

	// Generate the full shader sources and create the pass
	res := sh.Finalize()
	d.generateShaders(p, &params, sh, res, vertPos, outProj)

	bp, err := d.gpu.CreatePass(&params)
	if err != nil {
		d.log.Error("failed creating render pass for dispatch", "err", err)
		return p
	}
	p.pass = bp
	return p
}

// updatePassVar uploads one variable's data if it changed since the
// last run of this pass.
func (d *Dispatch) updatePassVar(p *pass, sv *shader.Var, pv *passVar) {
	hostLayout := gpu.HostLayout(0, sv.Var)
	data := sv.Data
	if len(data) > hostLayout.Size {
		data = data[:hostLayout.Size]
	}

	// Skip unchanged data
	if pv.cached != nil && bytes.Equal(data, pv.cached) {
		return
	}
	if pv.cached == nil {
		pv.cached = make([]byte, len(data))
	}
	copy(pv.cached, data)

	switch pv.typ {
	case passVarGlobal:
		p.run.VarUpdates = append(p.run.VarUpdates, gpu.VarUpdate{
			Index: pv.index,
			Data:  data,
		})

	case passVarUBO:
		if hostLayout.Stride == pv.layout.Stride {
			_ = p.ubo.Write(pv.layout.Offset, data)
			return
		}
		// Assemble the strided device layout in scratch memory so the
		// upload is a single buffer write
		if cap(d.scratch) < pv.layout.Size {
			d.scratch = make([]byte, pv.layout.Size)
		}
		buf := d.scratch[:pv.layout.Size]
		for i := range buf {
			buf[i] = 0
		}
		src, dst := 0, 0
		for src < len(data) {
			copy(buf[dst:dst+hostLayout.Stride], data[src:src+hostLayout.Stride])
			src += hostLayout.Stride
			dst += pv.layout.Stride
		}
		_ = p.ubo.Write(pv.layout.Offset, buf)

	case passVarPushC:
		gpu.MemcpyLayout(p.run.PushConstants, pv.layout, data, hostLayout)

	case passVarNone:
		// unreachable: placement failed passes never run
	}
}

// updateDescBindings copies the current descriptor objects into the
// run parameters.
func (d *Dispatch) updateDescBindings(p *pass, sh *shader.Shader) {
	descs := sh.Descriptors()
	for i := range descs {
		p.run.DescBindings[i] = descs[i].Binding
	}
}

// updateVertexData writes the per-corner attribute data into the
// placeholder quad vertex array, honoring the placed offsets.
func (d *Dispatch) updateVertexData(p *pass, sh *shader.Shader) {
	stride := p.pass.Params().VertexStride
	attribs := p.pass.Params().VertexAttribs
	for i, sva := range sh.VertexAttribs() {
		va := &attribs[i]
		size := sva.Attr.Format.TexelSize
		for n := 0; n < 4; n++ {
			off := n*stride + va.Offset
			copy(p.run.VertexData[off:off+size], sva.Data[n])
		}
	}
}
