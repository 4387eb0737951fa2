//go:build cgo

package compress

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef size_t (*h4_compress_fn)(const void*, size_t, void**);
typedef size_t (*h4_decompress_fn)(const void*, size_t, void**);
typedef void   (*h4_free_fn)(void*);
typedef const char*          (*h4_engine_id_fn)(void);
typedef const unsigned char* (*h4_engine_fp_fn)(void);

static size_t h4mk_call_compress(h4_compress_fn fn, const void *in, size_t n, void **out) {
	return fn(in, n, out);
}
static size_t h4mk_call_decompress(h4_decompress_fn fn, const void *in, size_t n, void **out) {
	return fn(in, n, out);
}
static void h4mk_call_free(h4_free_fn fn, void *ptr) {
	fn(ptr);
}
static const char *h4mk_call_engine_id(h4_engine_id_fn fn) {
	return fn();
}
static const unsigned char *h4mk_call_engine_fp(h4_engine_fp_fn fn) {
	return fn();
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/arloliu/h4mk/errs"
)

// dynamicCore is a handle to an externally loaded C-ABI compression core
// (spec §4.5, §9 "treat as a trust boundary"). Once opened it is never
// dlclose'd for the process lifetime (spec §9), avoiding unload-ordering
// hazards against any output buffer the core may still have live.
type dynamicCore struct {
	libHandle    unsafe.Pointer
	compressFn   C.h4_compress_fn
	decompressFn C.h4_decompress_fn
	freeFn       C.h4_free_fn
	engineID     string
	fingerprint  []byte // 32 bytes when reported, nil otherwise
}

var _ Engine = (*dynamicCore)(nil)

func resolveSymbol(handle unsafe.Pointer, name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	sym := C.dlsym(handle, cname)
	if sym == nil {
		return nil, fmt.Errorf("%w: missing symbol %q", errs.ErrCoreMissing, name)
	}

	return sym, nil
}

// openDynamicCore dlopen's path and resolves the three mandatory symbols
// (h4_compress, h4_decompress, h4_free), plus the two optional identity
// symbols when the library exports them. A missing identity symbol is not
// an error here: Load's expected-ID/fingerprint checks then fail with
// ErrCoreMismatch or ErrCoreAltered rather than ErrCoreMissing.
func openDynamicCore(path string) (*dynamicCore, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW)
	if handle == nil {
		return nil, fmt.Errorf("%w: dlopen failed for %s", errs.ErrCoreMissing, path)
	}

	compressSym, err := resolveSymbol(handle, "h4_compress")
	if err != nil {
		return nil, err
	}
	decompressSym, err := resolveSymbol(handle, "h4_decompress")
	if err != nil {
		return nil, err
	}
	freeSym, err := resolveSymbol(handle, "h4_free")
	if err != nil {
		return nil, err
	}

	core := &dynamicCore{
		libHandle:    handle,
		compressFn:   C.h4_compress_fn(compressSym),
		decompressFn: C.h4_decompress_fn(decompressSym),
		freeFn:       C.h4_free_fn(freeSym),
	}

	if idSym, err := resolveSymbol(handle, "h4_engine_id"); err == nil {
		core.engineID = C.GoString(C.h4mk_call_engine_id(C.h4_engine_id_fn(idSym)))
	}
	if fpSym, err := resolveSymbol(handle, "h4_engine_fp"); err == nil {
		ptr := C.h4mk_call_engine_fp(C.h4_engine_fp_fn(fpSym))
		core.fingerprint = C.GoBytes(unsafe.Pointer(ptr), 32)
	}

	return core, nil
}

// Compress invokes the core's h4_compress symbol and copies its output into
// a Go-owned slice, freeing the core-allocated buffer via h4_free before
// returning (spec §5, "never leaks engine-allocated memory into
// caller-owned containers without copy-and-free").
func (c *dynamicCore) Compress(data []byte) ([]byte, error) {
	return c.invoke(c.compressFn, data)
}

// Decompress invokes the core's h4_decompress symbol, with the same
// copy-and-free discipline as Compress.
func (c *dynamicCore) Decompress(data []byte) ([]byte, error) {
	return c.invoke(nil, data)
}

func (c *dynamicCore) invoke(compressFn C.h4_compress_fn, data []byte) ([]byte, error) {
	var inPtr unsafe.Pointer
	if len(data) > 0 {
		inPtr = unsafe.Pointer(&data[0])
	}

	var outPtr unsafe.Pointer
	var n C.size_t
	if compressFn != nil {
		n = C.h4mk_call_compress(compressFn, inPtr, C.size_t(len(data)), &outPtr)
	} else {
		n = C.h4mk_call_decompress(c.decompressFn, inPtr, C.size_t(len(data)), &outPtr)
	}

	if outPtr != nil {
		defer C.h4mk_call_free(c.freeFn, outPtr)
	}
	if n == 0 || outPtr == nil {
		return []byte{}, nil
	}

	out := C.GoBytes(outPtr, C.int(n))

	return out, nil
}

// Info reports the core's identity as discovered at load time. Sealing
// status is attached by the caller (Load), which knows whether the
// expected-ID/fingerprint checks were actually performed.
func (c *dynamicCore) Info() Info {
	return Info{
		Engine:        "core",
		EngineID:      c.engineID,
		Fingerprint:   fingerprintHex(c.fingerprint),
		Deterministic: true,
		Sealed:        false, // sealing verdict is attached by Load, which ran the checks
		IdentitySafe:  true,
		Opaque:        true,
	}
}

func loadDynamicCore(path string) (*dynamicCore, error) {
	return openDynamicCore(path)
}

const dynamicCoreSupported = true
