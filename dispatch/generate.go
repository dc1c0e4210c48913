package dispatch

import (
	"fmt"
	"sort"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
)

func (d *Dispatch) addVarDecl(buf *[]byte, v gpu.Var) {
	*buf = append(*buf, fmt.Sprintf("%s %s", v.GLSLTypeName(), v.Name)...)
	if v.DimA > 1 {
		*buf = append(*buf, fmt.Sprintf("[%d];\n", v.DimA)...)
	} else {
		*buf = append(*buf, ";\n"...)
	}
}

func (d *Dispatch) addBufferVars(buf *[]byte, vars []gpu.BufferVar) {
	sorted := make([]gpu.BufferVar, len(vars))
	copy(sorted, vars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Layout.Offset < sorted[j].Layout.Offset
	})

	*buf = append(*buf, "{\n"...)
	for _, bv := range sorted {
		// Explicit offsets wherever the dialect allows them
		if d.gpu.GLSL().Version >= 440 {
			*buf = append(*buf, fmt.Sprintf("    layout(offset=%d) ", bv.Layout.Offset)...)
		}
		d.addVarDecl(buf, bv.Var)
	}
	*buf = append(*buf, "};\n"...)
}

// generateShaders emits the complete GLSL sources for a pass:
// preamble, push constant block, descriptors, global uniforms, the
// user body and the main() stub, plus a trivial vertex shader for
// raster passes.
func (d *Dispatch) generateShaders(p *pass, params *gpu.PassParams,
	sh *shader.Shader, res *shader.Result,
	vertPos shader.Ident, outProj shader.Ident) {

	g := d.gpu
	glsl := g.GLSL()

	pre := &d.tmp[tmpPrelude]
	add := func(format string, args ...any) { fmt.Fprintf(pre, format, args...) }

	es := ""
	if glsl.GLES && glsl.Version > 100 {
		es = " es"
	}
	add("#version %d%s\n", glsl.Version, es)
	if params.Type == gpu.PassCompute {
		add("#extension GL_ARB_compute_shader : enable\n")
	}

	// Subgroup availability cannot be inferred from the shader body, so
	// enable the extensions whenever the backend has them
	if g.Caps()&gpu.CapSubgroups != 0 {
		add("#extension GL_KHR_shader_subgroup_basic : enable\n" +
			"#extension GL_KHR_shader_subgroup_vote : enable\n" +
			"#extension GL_KHR_shader_subgroup_arithmetic : enable\n" +
			"#extension GL_KHR_shader_subgroup_ballot : enable\n" +
			"#extension GL_KHR_shader_subgroup_shuffle : enable\n")
	}

	// Enable the extensions needed by the descriptors actually in use
	descs := sh.Descriptors()
	var hasSSBO, hasUBO, hasImg, hasTexel, hasNoFmt bool
	for i := range descs {
		switch descs[i].Desc.Type {
		case gpu.DescBufUniform:
			hasUBO = true
		case gpu.DescBufStorage:
			hasSSBO = true
		case gpu.DescBufTexelUniform:
			hasTexel = true
		case gpu.DescBufTexelStorage:
			hasTexel = true
			if buf, ok := descs[i].Binding.Object.(gpu.Buffer); ok {
				hasNoFmt = hasNoFmt || buf.Params().Format.GLSLFormat == ""
			}
		case gpu.DescStorageImg:
			hasImg = true
			if tex, ok := descs[i].Binding.Object.(gpu.Texture); ok {
				hasNoFmt = hasNoFmt || tex.Params().Format.GLSLFormat == ""
			}
		}
	}
	if hasImg {
		add("#extension GL_ARB_shader_image_load_store : enable\n")
	}
	if hasUBO {
		add("#extension GL_ARB_uniform_buffer_object : enable\n")
	}
	if hasSSBO {
		add("#extension GL_ARB_shader_storage_buffer_object : enable\n")
	}
	if hasTexel {
		add("#extension GL_ARB_texture_buffer_object : enable\n")
	}
	if hasNoFmt {
		add("#extension GL_EXT_shader_image_load_formatted : enable\n")
	}

	if glsl.GLES {
		// 32-bit float precision when available, 16-bit samplers always
		add("#ifdef GL_FRAGMENT_PRECISION_HIGH\n" +
			"precision highp float;\n" +
			"#else\n" +
			"precision mediump float;\n" +
			"#endif\n")
		add("precision mediump sampler2D;\n")
		if g.Limits().MaxTexDim1D > 0 {
			add("precision mediump sampler1D;\n")
		}
		if g.Limits().MaxTexDim3D > 0 && glsl.Version > 100 {
			add("precision mediump sampler3D;\n")
		}
	}

	// Push constant block, sorted by offset. The pass vars can be
	// out of order relative to their placed offsets.
	if params.PushConstSize > 0 {
		var pcVars []gpu.BufferVar
		svars := sh.Variables()
		for i := range svars {
			if p.vars[i].typ != passVarPushC {
				continue
			}
			pcVars = append(pcVars, gpu.BufferVar{
				Var:    svars[i].Var,
				Layout: p.vars[i].layout,
			})
		}
		add("layout(std430, push_constant) uniform PushC ")
		var block []byte
		d.addBufferVars(&block, pcVars)
		pre.Write(block)
	}

	// Descriptors
	for i := range descs {
		sd := &descs[i]
		desc := &params.Descriptors[i]

		switch desc.Type {
		case gpu.DescSampledTex:
			tex := sd.Binding.Object.(gpu.Texture)
			tp := tex.Params()

			var samplerType string
			switch tp.Dimensions() {
			case 1:
				samplerType = "sampler1D"
			case 2:
				samplerType = "sampler2D"
			case 3:
				samplerType = "sampler3D"
			}

			prefix := ""
			switch tp.Format.Type {
			case gpu.FormatTypeUINT:
				prefix = "u"
			case gpu.FormatTypeSINT:
				prefix = "i"
			}
			prec := ""
			if prefix != "" && glsl.GLES {
				prec = "highp "
			}

			// Vulkan requires explicit bindings; for GL the backend
			// assigns them from the declaration order
			if glsl.Vulkan {
				add("layout(binding=%d) ", desc.Binding)
			}
			add("uniform %s%s%s %s;\n", prec, prefix, samplerType, desc.Name)

		case gpu.DescStorageImg:
			tex := sd.Binding.Object.(gpu.Texture)
			tp := tex.Params()

			var imageType string
			switch tp.Dimensions() {
			case 1:
				imageType = "image1D"
			case 2:
				imageType = "image2D"
			case 3:
				imageType = "image3D"
			}

			format := tp.Format.GLSLFormat
			if glsl.Vulkan {
				if format != "" {
					add("layout(binding=%d, %s) ", desc.Binding, format)
				} else {
					add("layout(binding=%d) ", desc.Binding)
				}
			} else if glsl.Version >= 130 && format != "" {
				add("layout(%s) ", format)
			}
			add("%s%s%s restrict uniform %s %s;\n", desc.Access.GLSLName(),
				memQualifier(sd), "", imageType, desc.Name)

		case gpu.DescBufUniform:
			if glsl.Vulkan {
				add("layout(std140, binding=%d) ", desc.Binding)
			} else {
				add("layout(std140) ")
			}
			add("uniform %s ", desc.Name)
			var block []byte
			d.addBufferVars(&block, sd.BufferVars)
			pre.Write(block)

		case gpu.DescBufStorage:
			if glsl.Vulkan {
				add("layout(std430, binding=%d) ", desc.Binding)
			} else if glsl.Version >= 140 {
				add("layout(std430) ")
			}
			add("%s%s restrict buffer %s ", desc.Access.GLSLName(),
				memQualifier(sd), desc.Name)
			var block []byte
			d.addBufferVars(&block, sd.BufferVars)
			pre.Write(block)

		case gpu.DescBufTexelUniform:
			if glsl.Vulkan {
				add("layout(binding=%d) ", desc.Binding)
			}
			add("uniform samplerBuffer %s;\n", desc.Name)

		case gpu.DescBufTexelStorage:
			buf := sd.Binding.Object.(gpu.Buffer)
			format := buf.Params().Format.GLSLFormat
			if glsl.Vulkan {
				if format != "" {
					add("layout(binding=%d, %s) ", desc.Binding, format)
				} else {
					add("layout(binding=%d) ", desc.Binding)
				}
			} else if format != "" {
				add("layout(%s) ", format)
			}
			add("%s%s restrict uniform imageBuffer %s;\n", desc.Access.GLSLName(),
				memQualifier(sd), desc.Name)
		}
	}

	// Loose global uniforms
	svars := sh.Variables()
	for i := range svars {
		if p.vars[i].typ != passVarGlobal {
			continue
		}
		add("uniform ")
		var decl []byte
		d.addVarDecl(&decl, svars[i].Var)
		pre.Write(decl)
	}

	vertIn, vertOut, fragIn := "in", "out", "in"
	if glsl.Version < 130 {
		vertIn, vertOut, fragIn = "attribute", "varying", "varying"
	}

	main := &d.tmp[tmpMain]
	main.Write(pre.Bytes())
	addMain := func(format string, args ...any) { fmt.Fprintf(main, format, args...) }

	outColor := "gl_FragColor"
	switch params.Type {
	case gpu.PassRaster:
		vertHead := &d.tmp[tmpVertHead]
		vertBody := &d.tmp[tmpVertBody]

		// Trivial vertex shader: project the position, pass everything
		// else through as varyings
		vertHead.Write(pre.Bytes())
		fmt.Fprintf(vertBody, "void main() {\n")
		vas := sh.VertexAttribs()
		for i := range vas {
			va := &params.VertexAttribs[i]
			name := vas[i].Attr.Name // unmangled, for the fragment side

			loc := fmt.Sprintf("layout(location=%d) ", va.Location)
			if glsl.Version < 430 {
				loc = ""
			}
			glslType := va.Format.GLSLType
			fmt.Fprintf(vertHead, "%s%s %s %s;\n", loc, vertIn, glslType, va.Name)

			if shader.Ident(name) == vertPos {
				if outProj != "" {
					fmt.Fprintf(vertBody,
						"gl_Position = vec4((%s * vec3(%s, 1.0)).xy, 0.0, 1.0);\n",
						outProj, va.Name)
				} else {
					fmt.Fprintf(vertBody, "gl_Position = vec4(%s, 0.0, 1.0);\n", va.Name)
				}
			} else {
				fmt.Fprintf(vertHead, "%s%s %s %s;\n", loc, vertOut, glslType, name)
				fmt.Fprintf(vertBody, "%s = %s;\n", name, va.Name)
				addMain("%s%s %s %s;\n", loc, fragIn, glslType, name)
			}
		}
		fmt.Fprintf(vertBody, "}\n")
		vertHead.Write(vertBody.Bytes())
		params.VertexShader = vertHead.String()

		// GLSL 130+ replaces the magic gl_FragColor
		if glsl.Version >= 130 {
			outColor = "out_color"
			loc := ""
			if glsl.Version >= 430 {
				loc = "layout(location=0) "
			}
			addMain("%sout vec4 %s;\n", loc, outColor)
		}

	case gpu.PassCompute:
		addMain("layout (local_size_x = %d, local_size_y = %d) in;\n",
			res.ComputeGroupSize[0], res.ComputeGroupSize[1])
	}

	addMain("%s", res.GLSL)
	addMain("void main() {\n")
	switch params.Type {
	case gpu.PassRaster:
		addMain("%s = %s();\n", outColor, res.Name)
	case gpu.PassCompute:
		addMain("%s();\n", res.Name)
	}
	addMain("}\n")

	params.GLSLShader = main.String()
}

func memQualifier(sd *shader.Desc) string {
	q := ""
	if sd.Coherent {
		q += " coherent"
	}
	if sd.Volatile {
		q += " volatile"
	}
	return q
}

// computeVertexAttribs simulates vertex attribute interpolation for
// compute shaders: every attribute becomes four corner uniforms plus
// a bilinear mixing macro evaluated from the invocation id.
func (d *Dispatch) computeVertexAttribs(sh *shader.Shader, width, height int) shader.Ident {
	outScale := sh.AddVar(shader.Var{
		Var:     gpu.VarVec2("out_scale"),
		Data:    shader.F32Bytes(1/float32(width), 1/float32(height)),
		Dynamic: true,
	})

	sh.GLSLH("#define frag_pos(id) (vec2(id) + vec2(0.5))\n"+
		"#define frag_map(id) (%s * frag_pos(id))\n"+
		"#define gl_FragCoord vec4(frag_pos(gl_GlobalInvocationID), 0.0, 1.0)\n",
		outScale)

	for _, sva := range sh.VertexAttribs() {
		var points [4]shader.Ident
		for i := 0; i < 4; i++ {
			points[i] = sh.AddVar(shader.Var{
				Var: gpu.Var{
					Name: fmt.Sprintf("p%d", i),
					Type: gpu.VarFloat,
					DimV: sva.Attr.Format.NumComponents,
					DimM: 1,
					DimA: 1,
				},
				Data: sva.Data[i],
			})
		}

		sh.GLSLH("#define %[1]s_map(id) "+
			"(mix(mix(%[2]s, %[3]s, frag_map(id).x), "+
			"mix(%[4]s, %[5]s, frag_map(id).x), "+
			"frag_map(id).y))\n"+
			"#define %[1]s (%[1]s_map(gl_GlobalInvocationID))\n",
			sva.Attr.Name, points[0], points[1], points[2], points[3])
	}
	return outScale
}

// blendExprs maps blend factors to their GLSL expressions in the
// compute-shader blending emulation.
var blendExprs = map[gpu.BlendMode]string{
	gpu.BlendZero:             "0.0",
	gpu.BlendOne:              "1.0",
	gpu.BlendSrcAlpha:         "color.a",
	gpu.BlendOneMinusSrcAlpha: "(1.0 - color.a)",
}

// translateComputeShader rewrites a promoted fragment shader so it
// writes to the target via a storage image: coordinates derive from
// the invocation id plus the rect origin, clipped against the rect,
// with optional load + blend.
func (d *Dispatch) translateComputeShader(sh *shader.Shader, rc gpu.Rect2D, params *Params) {
	width, height := abs(rc.W()), abs(rc.H())
	outScale := d.computeVertexAttribs(sh, width, height)

	access := gpu.DescAccessWriteOnly
	if params.Blend != nil {
		access = gpu.DescAccessReadWrite
	}
	fbo := sh.AddDesc(shader.Desc{
		Desc: gpu.Desc{
			Name:   "out_image",
			Type:   gpu.DescStorageImg,
			Access: access,
		},
		Binding: gpu.DescBinding{Object: params.Target},
	})

	base := sh.AddVar(shader.Var{
		Var:     gpu.VarIVec2("base"),
		Data:    shader.I32Bytes(int32(rc.X0), int32(rc.Y0)),
		Dynamic: true,
	})

	dx, dy := 1, 1
	if rc.X0 > rc.X1 {
		dx = -1
	}
	if rc.Y0 > rc.Y1 {
		dy = -1
	}
	sh.GLSL("ivec2 dir = ivec2(%d, %d);\n", dx, dy) // hard-coded, not worth a var
	sh.GLSL("ivec2 pos = %s + dir * ivec2(gl_GlobalInvocationID);\n", base)
	sh.GLSL("vec2 fpos = %s * vec2(gl_GlobalInvocationID);\n", outScale)
	sh.GLSL("if (max(fpos.x, fpos.y) < 1.0) {\n")
	if params.Blend != nil {
		sh.GLSL("vec4 orig = imageLoad(%s, pos);\n", fbo)
		sh.GLSL("color = vec4(color.rgb * vec3(%s), color.a * %s)\n"+
			"      + vec4(orig.rgb  * vec3(%s), orig.a  * %s);\n",
			blendExprs[params.Blend.SrcRGB],
			blendExprs[params.Blend.SrcAlpha],
			blendExprs[params.Blend.DstRGB],
			blendExprs[params.Blend.DstAlpha])
	}
	sh.GLSL("imageStore(%s, pos, color);\n", fbo)
	sh.GLSL("}\n")
	sh.SetOutput(shader.SigNone)
}
