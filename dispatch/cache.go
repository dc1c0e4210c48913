package dispatch

import (
	"encoding/binary"
	"fmt"
)

// Cache blob layout: 4 magic bytes, little-endian uint32 version,
// uint32 entry count, then per entry a uint64 signature, uint64 length
// and the opaque program binary.
var cacheMagic = [4]byte{'P', 'L', 'D', 'P'}

const cacheVersion uint32 = 1

// Save serializes the program binaries of all compiled passes plus any
// previously loaded but not yet claimed entries, so that Load followed
// by Save round-trips the cache.
func (d *Dispatch) Save() []byte {
	type entry struct {
		sig  uint64
		prog []byte
	}
	var entries []entry

	for _, p := range d.passes {
		if p.pass == nil {
			continue
		}
		prog := p.pass.CachedProgram()
		if len(prog) == 0 {
			continue
		}
		d.log.Debug("saving cached program", "bytes", len(prog), "signature", p.signature)
		entries = append(entries, entry{p.signature, prog})
	}
	for _, c := range d.cached {
		d.log.Debug("saving cached program", "bytes", len(c.program), "signature", c.signature)
		entries = append(entries, entry{c.signature, c.program})
	}

	size := 4 + 4 + 4
	for _, e := range entries {
		size += 8 + 8 + len(e.prog)
	}

	out := make([]byte, 0, size)
	out = append(out, cacheMagic[:]...)
	out = binary.LittleEndian.AppendUint32(out, cacheVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = binary.LittleEndian.AppendUint64(out, e.sig)
		out = binary.LittleEndian.AppendUint64(out, uint64(len(e.prog)))
		out = append(out, e.prog...)
	}
	return out
}

// Load restores program binaries saved by a previous Save. Unknown
// versions abort with a warning; truncated entries are rejected;
// signatures already known keep their existing (compiled) version.
func (d *Dispatch) Load(cache []byte) error {
	if len(cache) < 12 {
		return fmt.Errorf("dispatch: cache too short")
	}
	if [4]byte(cache[:4]) != cacheMagic {
		return fmt.Errorf("dispatch: invalid cache magic bytes")
	}
	version := binary.LittleEndian.Uint32(cache[4:])
	if version != cacheVersion {
		d.log.Warn("not loading dispatch cache: wrong version",
			"version", version, "expected", cacheVersion)
		return fmt.Errorf("dispatch: cache version %d not supported", version)
	}
	num := binary.LittleEndian.Uint32(cache[8:])
	cache = cache[12:]

entries:
	for i := uint32(0); i < num; i++ {
		if len(cache) < 16 {
			return fmt.Errorf("dispatch: truncated cache entry")
		}
		sig := binary.LittleEndian.Uint64(cache)
		size := binary.LittleEndian.Uint64(cache[8:])
		cache = cache[16:]
		if uint64(len(cache)) < size {
			return fmt.Errorf("dispatch: truncated cache entry")
		}
		prog := cache[:size]
		cache = cache[size:]
		if size == 0 {
			continue
		}

		// Prefer passes that are already compiled
		for _, p := range d.passes {
			if p.signature == sig {
				d.log.Debug("skipping already compiled pass", "signature", sig)
				continue entries
			}
		}

		// Deduplicate against already loaded entries
		var target *cachedProgram
		for n := range d.cached {
			if d.cached[n].signature == sig {
				target = &d.cached[n]
				break
			}
		}
		if target == nil {
			d.cached = append(d.cached, cachedProgram{signature: sig})
			target = &d.cached[len(d.cached)-1]
		}

		d.log.Debug("loading cached program", "bytes", size, "signature", sig)
		target.program = append([]byte(nil), prog...)
	}
	return nil
}
