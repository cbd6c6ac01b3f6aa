// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package texcache

// SourceKind selects where a texture's payload comes from.
type SourceKind uint8

const (
	// FilePath sources decode from a file, preferring a
	// .ktx2 sibling when one exists.
	FilePath SourceKind = iota
	// Bytes sources decode from an in-memory payload,
	// typically an image embedded in a GLB.
	Bytes
)

// ChannelsHint narrows the upload format when the shader
// only samples a subset of the channels.
type ChannelsHint uint8

const (
	ChAuto ChannelsHint = iota
	ChR
	ChRG
	ChRGBA
)

// Key identifies a texture request. Requests with equal
// hashes share one cache entry.
type Key struct {
	Kind     SourceKind
	Path     string
	Bytes    []byte
	SRGB     bool
	Mipmap   bool
	Channels ChannelsHint
	// MipClamp limits the generated mip chain; 0 means the
	// full chain.
	MipClamp int
	// Hash is the dedup key. Zero means derive it from the
	// source.
	Hash uint64
}

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211

	srgbSalt = 0x9E3779B97F4A7C15
)

func fnv1a(h uint64, b []byte) uint64 {
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime
	}
	return h
}

// hashOf derives the stable dedup hash of a key.
// Path sources hash an identity string so the same file
// requested as sRGB and as UNORM yields distinct entries;
// byte sources hash the payload, salted when sRGB.
func hashOf(k *Key) uint64 {
	if k.Hash != 0 {
		return k.Hash
	}
	if k.Kind == FilePath {
		h := fnv1a(fnvOffset, []byte("PATH:"))
		h = fnv1a(h, []byte(k.Path))
		if k.SRGB {
			return fnv1a(h, []byte("#sRGB"))
		}
		return fnv1a(h, []byte("#UNORM"))
	}
	h := fnv1a(fnvOffset, k.Bytes)
	if k.SRGB {
		h ^= srgbSalt
	}
	return h
}
