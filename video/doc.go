// Package video defines the frame data model rendered by gv: multi-plane
// frames, color representation and color space metadata, LUTs, ICC
// profiles and overlays.
//
// A Frame is a purely descriptive value; it holds texture handles but
// owns none of them. Callers remain responsible for the lifetime of the
// textures a frame references.
package video
