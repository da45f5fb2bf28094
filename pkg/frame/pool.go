// Copyright 2020-2021 The Playout Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package frame

import "sync"

// bufferKey identifies a pool bucket by (size, read|write), per spec.md
// §5's "Host pixel buffers are pooled by (size, read|write)".
type bufferKey struct {
	size     int
	forWrite bool
}

// BufferPool reuses host-visible byte buffers across frames of the same
// size, avoiding a fresh allocation per tick once the working set is warm.
// Entries are returned to the pool on last-reference drop (frame.Release).
type BufferPool struct {
	mu      sync.Mutex
	buckets map[bufferKey][][]byte
}

// NewBufferPool returns an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{buckets: make(map[bufferKey][][]byte)}
}

// Get returns a buffer of at least size bytes, reusing a pooled one when
// available.
func (p *BufferPool) Get(size int, forWrite bool) []byte {
	key := bufferKey{size: size, forWrite: forWrite}

	p.mu.Lock()
	bucket := p.buckets[key]
	var buf []byte
	if n := len(bucket); n > 0 {
		buf = bucket[n-1]
		p.buckets[key] = bucket[:n-1]
	}
	p.mu.Unlock()

	if buf == nil {
		buf = make([]byte, size)
	}
	return buf
}

// Put returns a buffer to the pool for reuse.
func (p *BufferPool) Put(buf []byte, forWrite bool) {
	key := bufferKey{size: len(buf), forWrite: forWrite}

	p.mu.Lock()
	p.buckets[key] = append(p.buckets[key], buf)
	p.mu.Unlock()
}

// textureKey identifies a pool bucket by (width, height, stride, depth),
// per spec.md §5.
type textureKey struct {
	width, height, stride, depth int
}

// TexturePool reuses GPU-texture handles of matching dimensions. The
// mixer device thread is the only caller that may allocate or release
// entries; callers elsewhere only ever see an opaque *Texture.
type TexturePool struct {
	mu      sync.Mutex
	buckets map[textureKey][]*Texture
	alloc   func(width, height, stride, depth int) *Texture
}

// NewTexturePool returns a pool that calls alloc to mint a new texture
// when a bucket is empty.
func NewTexturePool(alloc func(width, height, stride, depth int) *Texture) *TexturePool {
	return &TexturePool{
		buckets: make(map[textureKey][]*Texture),
		alloc:   alloc,
	}
}

// Get returns a texture of the given dimensions, reusing a pooled one
// when available.
func (p *TexturePool) Get(width, height, stride, depth int) *Texture {
	key := textureKey{width, height, stride, depth}

	p.mu.Lock()
	bucket := p.buckets[key]
	var tex *Texture
	if n := len(bucket); n > 0 {
		tex = bucket[n-1]
		p.buckets[key] = bucket[:n-1]
	}
	p.mu.Unlock()

	if tex == nil {
		tex = p.alloc(width, height, stride, depth)
	}
	return tex
}

// Put returns a texture to the pool for reuse, the release hook fired on
// a const Frame's last-reference drop.
func (p *TexturePool) Put(tex *Texture) {
	if tex == nil {
		return
	}
	key := textureKey{tex.Width, tex.Height, tex.Stride, tex.DepthByte}

	p.mu.Lock()
	p.buckets[key] = append(p.buckets[key], tex)
	p.mu.Unlock()
}
